// Package feed defines the transport abstraction for a call's live audio
// feed: a reliable, ordered message connection delivering binary PCM frames
// interleaved with structured text metadata.
//
// The primary abstraction is [Transport], dialled via a [DialFunc].
// Implementations wrap a concrete message transport (feed/ws for WebSocket,
// feed/mock for tests); the interface is intentionally narrow so the playback
// session stays decoupled from the wire.
package feed

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an inbound transport message.
type Kind int

const (
	// KindAudio is a binary frame carrying little-endian 16-bit PCM samples.
	KindAudio Kind = iota

	// KindMetadata is a text frame carrying structured metadata. Metadata is
	// logged by the playback path but never affects audio.
	KindMetadata
)

// String returns the human-readable name of the message kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Message is a single inbound or outbound transport message.
type Message struct {
	Kind Kind
	Data []byte
}

// Target identifies the feed to dial: the backend base URL, the call to
// listen to, and the bearer credential attached as a query parameter.
type Target struct {
	// BackendURL is the backend base URL, e.g. "https://api.example.com".
	// http/https schemes are rewritten to the transport's own scheme.
	BackendURL string

	// CallID selects the call whose audio feed to open.
	CallID string

	// AuthToken is the bearer credential, sent as the "token" query
	// parameter. May be empty when the backend does not enforce auth.
	AuthToken string
}

// Transport is an open, reliable, ordered message connection to one call's
// audio feed. Messages are delivered in send order; the playback engine
// performs no reordering of its own.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Receive blocks until the next message arrives, the connection ends, or
	// ctx is cancelled. A graceful remote close surfaces as [ErrFeedEnded];
	// any other termination surfaces as a [*CloseError] or the underlying
	// transport error.
	Receive(ctx context.Context) (Message, error)

	// Send transmits msg. The listen feed is one-way in practice, but the
	// transport itself is bidirectional.
	Send(ctx context.Context, msg Message) error

	// Close closes the connection gracefully with the given reason. Safe to
	// call more than once; subsequent calls are no-ops and return nil.
	Close(reason string) error
}

// DialFunc opens a [Transport] to the given target. The supplied ctx governs
// the lifetime of the connection attempt only.
type DialFunc func(ctx context.Context, target Target) (Transport, error)

// ErrFeedEnded is returned by [Transport.Receive] when the remote end closed
// the feed gracefully (the monitored call ended, or the backend had nothing
// to stream).
var ErrFeedEnded = errors.New("feed: stream ended")

// CloseError reports an abnormal transport close. Well-known codes from the
// backend: 4003 access denied, 1008 auth policy violation, 1011 upstream
// connection failed.
type CloseError struct {
	// Code is the transport close code.
	Code int

	// Reason is the close reason supplied by the remote end, if any.
	Reason string
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("feed: connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("feed: connection closed with code %d: %s", e.Code, e.Reason)
}
