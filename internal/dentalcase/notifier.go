package dentalcase

import (
	"context"
	"errors"
)

// ErrNotifierDisabled is returned by the no-op notifier used when no
// bot token is configured. The coordinator treats it like any other
// gateway failure: the state change stays committed.
var ErrNotifierDisabled = errors.New("notification channel not configured")

// BroadcastRef identifies a previously sent broadcast so it can be
// edited later.
type BroadcastRef struct {
	ChatID    int64
	MessageID int64
}

// BroadcastAction is the single actionable element on a broadcast.
// Exactly one of URL (token-link mode) or CallbackData (callback mode)
// is set.
type BroadcastAction struct {
	Label        string
	URL          string
	CallbackData string
}

// Notifier is the coordinator's view of the messaging channel. The
// case row is the source of truth; no Notifier failure ever rolls a
// committed transition back.
type Notifier interface {
	// Broadcast publishes text with one action to the shared channel.
	Broadcast(ctx context.Context, text string, action BroadcastAction) (*BroadcastRef, error)

	// LockBroadcast removes the action from a sent broadcast and
	// replaces its text. Must be idempotent: locking an already locked
	// message is a no-op.
	LockBroadcast(ctx context.Context, ref BroadcastRef, finalText string) error

	// DirectMessage delivers a private payload to one recipient.
	DirectMessage(ctx context.Context, chatID int64, text string) error
}

// DisabledNotifier stands in when the deployment has no bot token.
type DisabledNotifier struct{}

func (DisabledNotifier) Broadcast(context.Context, string, BroadcastAction) (*BroadcastRef, error) {
	return nil, ErrNotifierDisabled
}

func (DisabledNotifier) LockBroadcast(context.Context, BroadcastRef, string) error {
	return ErrNotifierDisabled
}

func (DisabledNotifier) DirectMessage(context.Context, int64, string) error {
	return ErrNotifierDisabled
}
