// Package telegram connects the gateway to the upstream bot over MTProto,
// using an already-authorized user session. It implements
// upstream.Transport: outgoing sends and clicks plus a fan-out of the bot's
// new-message and edit events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"inn-gateway/internal/upstream"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber event channel capacity. The driver
// drains promptly; overflow events are dropped rather than blocking the
// update handler.
const subscriberBuffer = 32

// Options configures the MTProto session and the target bot.
type Options struct {
	APIID       int
	APIHash     string
	SessionName string
	BotUsername string // with or without the @ prefix
}

// Transport is a live MTProto connection driving one target bot. Create it
// with New, start it with Run, then use it as an upstream.Transport once
// Ready is closed.
type Transport struct {
	client *telegram.Client
	api    *tg.Client
	gaps   *updates.Manager
	sender *message.Sender
	logger *zap.Logger
	opts   Options

	sendDuration  metric.Float64Histogram
	clickDuration metric.Float64Histogram

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	peer    tg.InputPeerClass
	botID   int64
	subs    map[int]chan upstream.Event
	nextSub int
}

// New builds the transport. The connection is not opened until Run.
func New(opts Options, logger *zap.Logger) (*Transport, error) {
	if opts.APIID <= 0 || opts.APIHash == "" {
		return nil, errors.New("telegram: api id and hash are required")
	}
	if opts.SessionName == "" {
		opts.SessionName = "me"
	}

	meter := otel.Meter("inn-gateway/internal/telegram")
	sendDuration, err := meter.Float64Histogram("telegram_send_duration_seconds",
		metric.WithDescription("Latency of message sends to the upstream bot"))
	if err != nil {
		return nil, fmt.Errorf("telegram: send histogram: %w", err)
	}
	clickDuration, err := meter.Float64Histogram("telegram_click_duration_seconds",
		metric.WithDescription("Latency of callback clicks on the upstream bot"))
	if err != nil {
		return nil, fmt.Errorf("telegram: click histogram: %w", err)
	}

	t := &Transport{
		logger:        logger,
		opts:          opts,
		sendDuration:  sendDuration,
		clickDuration: clickDuration,
		ready:         make(chan struct{}),
		subs:          make(map[int]chan upstream.Event),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		t.handleMessage(u.Message, upstream.EventNew)
		return nil
	})
	dispatcher.OnEditMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateEditMessage) error {
		t.handleMessage(u.Message, upstream.EventEdit)
		return nil
	})

	t.gaps = updates.New(updates.Config{
		Handler: dispatcher,
		Logger:  logger.Named("gaps"),
	})

	t.client = telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionName + ".session.json"},
		UpdateHandler:  t.gaps,
		Logger:         logger.Named("mtproto"),
	})
	t.api = t.client.API()
	t.sender = message.NewSender(t.api)

	return t, nil
}

// Run opens the connection and blocks serving updates until ctx is canceled.
// The session must already be authorized; interactive login is an operator
// task, not the gateway's.
func (t *Transport) Run(ctx context.Context) error {
	return t.client.Run(ctx, func(ctx context.Context) error {
		status, err := t.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("session %q is not authorized, log the account in first", t.opts.SessionName)
		}

		if err := t.resolveBot(ctx); err != nil {
			return err
		}

		t.logger.Info("telegram session up",
			zap.Int64("self_id", status.User.ID),
			zap.String("bot", t.opts.BotUsername))
		t.readyOnce.Do(func() { close(t.ready) })

		return t.gaps.Run(ctx, t.api, status.User.ID, updates.AuthOptions{})
	})
}

// Ready is closed once the session is authorized and the bot peer resolved.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

func (t *Transport) resolveBot(ctx context.Context) error {
	username := strings.TrimPrefix(t.opts.BotUsername, "@")
	res, err := t.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return fmt.Errorf("resolve %q: %w", username, err)
	}

	for _, u := range res.Users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		t.mu.Lock()
		t.botID = user.ID
		t.peer = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
		t.mu.Unlock()
		return nil
	}
	return fmt.Errorf("resolve %q: no user in response", username)
}

// Send implements upstream.Transport.
func (t *Transport) Send(ctx context.Context, text string) error {
	peer, err := t.botPeer()
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = t.sender.To(peer).Text(ctx, text)
	t.sendDuration.Record(ctx, time.Since(start).Seconds())
	return classify(err)
}

// Click implements upstream.Transport: it presses the callback button
// carrying data on message msgID.
func (t *Transport) Click(ctx context.Context, msgID int, data []byte) error {
	peer, err := t.botPeer()
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = t.api.MessagesGetBotCallbackAnswer(ctx, &tg.MessagesGetBotCallbackAnswerRequest{
		Peer:  peer,
		MsgID: msgID,
		Data:  data,
	})
	t.clickDuration.Record(ctx, time.Since(start).Seconds())
	return classify(err)
}

// Subscribe implements upstream.Transport. Events arriving while a
// subscriber's buffer is full are dropped for that subscriber.
func (t *Transport) Subscribe() (<-chan upstream.Event, func()) {
	ch := make(chan upstream.Event, subscriberBuffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.mu.Unlock()

	stop := func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
	return ch, stop
}

func (t *Transport) botPeer() (tg.InputPeerClass, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == nil {
		return nil, errors.New("telegram: bot peer not resolved yet")
	}
	return t.peer, nil
}

// handleMessage filters updates down to the target bot's private messages
// and fans them out to subscribers.
func (t *Transport) handleMessage(msg tg.MessageClass, kind upstream.EventKind) {
	m, ok := msg.(*tg.Message)
	if !ok || m.Out {
		return
	}
	peer, ok := m.PeerID.(*tg.PeerUser)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if peer.UserID != t.botID {
		return
	}

	ev := upstream.Event{Kind: kind, Message: convert(m)}
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			t.logger.Warn("subscriber buffer full, event dropped",
				zap.Int("subscriber", id),
				zap.Int("msg_id", ev.Message.ID))
		}
	}
}

// convert projects a wire message down to what the driver needs: id, text
// and the callback buttons of its inline keyboard.
func convert(m *tg.Message) upstream.Message {
	out := upstream.Message{ID: m.ID, Text: m.Message}

	markup, ok := m.ReplyMarkup.(*tg.ReplyInlineMarkup)
	if !ok {
		return out
	}
	for _, row := range markup.Rows {
		var buttons []upstream.Button
		for _, b := range row.Buttons {
			switch btn := b.(type) {
			case *tg.KeyboardButtonCallback:
				buttons = append(buttons, upstream.Button{Label: btn.Text, Data: btn.Data})
			default:
				// URL and other non-callback buttons are not clickable
				// through this transport; keep the label for matching
				// diagnostics only.
				buttons = append(buttons, upstream.Button{Label: b.GetText()})
			}
		}
		if len(buttons) > 0 {
			out.Buttons = append(out.Buttons, buttons)
		}
	}
	return out
}
