// Package ws implements the [feed.Transport] interface over WebSocket using
// github.com/coder/websocket. It dials the backend's listen endpoint
// ({backend}/ws/listen/{callID}?token=...) and classifies every inbound frame
// by its wire type: binary frames are audio, text frames are metadata.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/feed"
)

// Compile-time interface assertion.
var _ feed.Transport = (*Transport)(nil)

// Dial opens a WebSocket connection to the target's listen endpoint.
// http/https schemes in the backend URL are rewritten to ws/wss.
//
// Dial is a [feed.DialFunc].
func Dial(ctx context.Context, target feed.Target) (feed.Transport, error) {
	wsURL, err := buildURL(target)
	if err != nil {
		return nil, fmt.Errorf("ws: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %q: %w", target.CallID, err)
	}

	return &Transport{conn: conn}, nil
}

// buildURL constructs the listen endpoint URL for the given target.
func buildURL(target feed.Target) (string, error) {
	u, err := url.Parse(target.BackendURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u = u.JoinPath("ws", "listen", target.CallID)

	if target.AuthToken != "" {
		q := u.Query()
		q.Set("token", target.AuthToken)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Transport is a live WebSocket connection to one call's audio feed.
type Transport struct {
	conn *websocket.Conn
	once sync.Once
}

// Receive implements [feed.Transport]. Binary frames map to [feed.KindAudio],
// text frames to [feed.KindMetadata]. A normal close (status 1000) surfaces
// as [feed.ErrFeedEnded]; any other close status surfaces as a
// [*feed.CloseError] carrying the remote code and reason.
func (t *Transport) Receive(ctx context.Context) (feed.Message, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return feed.Message{}, mapReadError(err)
	}

	kind := feed.KindMetadata
	if typ == websocket.MessageBinary {
		kind = feed.KindAudio
	}
	return feed.Message{Kind: kind, Data: data}, nil
}

// Send implements [feed.Transport].
func (t *Transport) Send(ctx context.Context, msg feed.Message) error {
	typ := websocket.MessageText
	if msg.Kind == feed.KindAudio {
		typ = websocket.MessageBinary
	}
	if err := t.conn.Write(ctx, typ, msg.Data); err != nil {
		return fmt.Errorf("ws: send %s: %w", msg.Kind, err)
	}
	return nil
}

// Close implements [feed.Transport]. Sends a normal closure with the given
// reason. Idempotent.
func (t *Transport) Close(reason string) error {
	t.once.Do(func() {
		_ = t.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return nil
}

// mapReadError translates a websocket read error into the feed error
// taxonomy.
func mapReadError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNormalClosure {
			return feed.ErrFeedEnded
		}
		return &feed.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return fmt.Errorf("ws: receive: %w", err)
}
