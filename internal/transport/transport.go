// Package transport defines the boundary to the external chat
// transport: the render primitives the engine calls and the value types
// they exchange. The real chat client lives outside this module and
// implements Transport.
package transport

import (
	"context"
	"errors"
)

// ErrUnsupportedEditMedia is returned by Edit when the transport cannot
// change a message's media in place. Callers fall back to
// delete-then-send.
var ErrUnsupportedEditMedia = errors.New("transport: media edit not supported")

// MessageRef identifies a rendered message for later edits or deletion.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Zero reports whether the ref identifies nothing.
func (r MessageRef) Zero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// Button is one action option under a rendered message. Action carries
// the opaque callback payload; URL buttons open a link instead.
type Button struct {
	Label  string
	Action string
	URL    string
}

// Keyboard is rows of buttons.
type Keyboard [][]Button

// MediaKind selects the delivery primitive for a media attachment.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
)

// Media is a media attachment: either a direct URL or downloaded bytes.
type Media struct {
	Kind     MediaKind
	URL      string
	Blob     []byte
	Filename string
}

// Transport renders messages to the external chat system.
type Transport interface {
	// Send renders a new message and returns its ref.
	Send(ctx context.Context, chatID int64, text string, kb Keyboard, media *Media) (MessageRef, error)

	// Edit re-renders an existing message in place. Transports that
	// reject in-place media changes return ErrUnsupportedEditMedia.
	Edit(ctx context.Context, ref MessageRef, text string, kb Keyboard, media *Media) (MessageRef, error)

	// Delete removes a previously sent message.
	Delete(ctx context.Context, ref MessageRef) error

	// Notify shows a transient notice that is not part of the
	// conversation history (cooldown hints, list-boundary notices).
	Notify(ctx context.Context, chatID int64, text string) error
}
