// Package upstream drives the conversation with the target bot: send a
// query, wait for the reply to grow controls, click one, collect the burst.
package upstream

import "context"

// Message is one upstream message as captured by the transport. Buttons are
// laid out in rows, exactly as the upstream presents them.
type Message struct {
	ID      int
	Text    string
	Buttons [][]Button
}

// Button is a single clickable control. Data is the opaque callback payload
// the transport needs to press it.
type Button struct {
	Label string
	Data  []byte
}

// Controls counts the clickable controls on the message.
func (m Message) Controls() int {
	n := 0
	for _, row := range m.Buttons {
		n += len(row)
	}
	return n
}

// Labels returns the non-empty button labels in row-major order.
func (m Message) Labels() []string {
	var out []string
	for _, row := range m.Buttons {
		for _, b := range row {
			if b.Label != "" {
				out = append(out, b.Label)
			}
		}
	}
	return out
}

// EventKind tells a freshly arrived message apart from an edit of an
// existing one.
type EventKind int

const (
	EventNew EventKind = iota
	EventEdit
)

// Event is a message or edit originating from the target bot.
type Event struct {
	Kind    EventKind
	Message Message
}

// Transport is the wire-level connection to the upstream. Implementations
// deliver only events originating from the target bot and must keep
// subscription channels alive until the matching stop function runs.
type Transport interface {
	// Send delivers a text message to the target bot.
	Send(ctx context.Context, text string) error
	// Click presses the callback button carrying data on message msgID.
	Click(ctx context.Context, msgID int, data []byte) error
	// Subscribe registers an event sink. Callers must invoke stop on every
	// exit path; events arriving after stop are dropped.
	Subscribe() (events <-chan Event, stop func())
}
