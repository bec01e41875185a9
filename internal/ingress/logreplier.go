package ingress

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogReplier is the stand-in Replier used while no real front-end is
// attached to the process: outbound deliveries are logged and dropped, and
// files cannot be materialized.
type LogReplier struct {
	Logger *zap.Logger
}

func (r LogReplier) SendText(_ context.Context, chatID int64, text string) (MessageRef, error) {
	r.Logger.Info("ingress send (no front-end attached)",
		zap.Int64("chat_id", chatID),
		zap.String("text", text))
	return MessageRef{ChatID: chatID}, nil
}

func (r LogReplier) EditText(_ context.Context, ref MessageRef, text string) error {
	r.Logger.Info("ingress edit (no front-end attached)",
		zap.Int64("chat_id", ref.ChatID),
		zap.String("text", text))
	return nil
}

func (r LogReplier) SendFile(_ context.Context, chatID int64, path, filename string) error {
	r.Logger.Info("ingress file (no front-end attached)",
		zap.Int64("chat_id", chatID),
		zap.String("path", path),
		zap.String("filename", filename))
	return nil
}

func (r LogReplier) FetchBytes(context.Context, FileRef) ([]byte, error) {
	return nil, errors.New("no front-end attached, cannot fetch files")
}
