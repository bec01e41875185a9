package telegram

import (
	"time"

	"inn-gateway/internal/upstream"

	"github.com/gotd/td/tgerr"
)

// forbiddenTypes are the RPC errors meaning the upstream or the account
// refuses the conversation outright. No cooldown helps here.
var forbiddenTypes = []string{
	"CHAT_WRITE_FORBIDDEN",
	"USER_IS_BLOCKED",
	"YOU_BLOCKED_USER",
	"USER_BANNED_IN_CHANNEL",
	"INPUT_USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

// classify maps Telegram RPC errors onto the driver's taxonomy: transient
// waits, slow mode, account flood and forbidden conditions. Anything else
// passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return &upstream.WaitError{Duration: d}
	}
	if rpc, ok := tgerr.AsType(err, "SLOWMODE_WAIT"); ok {
		return &upstream.WaitError{
			Duration: time.Duration(rpc.Argument) * time.Second,
			SlowMode: true,
		}
	}
	if tgerr.Is(err, "PEER_FLOOD") {
		return &upstream.AccountFloodError{}
	}
	if rpc, ok := tgerr.As(err); ok && rpc.IsOneOf(forbiddenTypes...) {
		return &upstream.ForbiddenError{Reason: rpc.Type}
	}

	return err
}
