// Package ingress declares the contract between the gateway core and the
// front-end that relays end-user messages and files. The front-end lives
// outside this module; the core only consumes these interfaces.
package ingress

import "context"

// Sender identifies the user behind an inbound message and the chat the
// reply should go to.
type Sender struct {
	UserID  int64
	ChatID  int64
	Private bool
}

// FileRef points at an uploaded document the front-end can materialize on
// demand. Name is the user-supplied filename.
type FileRef struct {
	ID   string
	Name string
}

// MessageRef addresses a message the gateway already sent, for later edits.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Handler is the gateway side of the contract. The front-end calls it for
// every admitted update; calls may run concurrently.
type Handler interface {
	// OnText delivers one user text message.
	OnText(ctx context.Context, from Sender, text string)
	// OnDocument delivers one uploaded file.
	OnDocument(ctx context.Context, from Sender, file FileRef)
}

// Replier is the front-end side: best-effort delivery back to users plus
// file materialization. Delivery failures are logged by callers, never
// surfaced to jobs.
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	SendFile(ctx context.Context, chatID int64, path, filename string) error
	FetchBytes(ctx context.Context, file FileRef) ([]byte, error)
}
