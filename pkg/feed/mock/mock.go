// Package mock provides in-memory mock implementations of the
// [feed.Transport] interface and [feed.DialFunc] for use in unit tests.
//
// A mock [Transport] is scripted: tests push messages and a terminal error,
// and the code under test receives them in order. Close calls are recorded
// with their reasons.
//
// Typical usage:
//
//	tr := mock.NewTransport()
//	tr.PushAudio(pcm)
//	tr.End() // receive loop sees feed.ErrFeedEnded after the audio
//	dialer := &mock.Dialer{Transport: tr}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/feed"
)

// Compile-time interface assertion.
var _ feed.Transport = (*Transport)(nil)

// item is one scripted Receive result.
type item struct {
	msg feed.Message
	err error
}

// Transport is a scripted mock implementation of [feed.Transport].
type Transport struct {
	mu sync.Mutex

	// SendCalls records all messages passed to Send.
	SendCalls []feed.Message

	// CloseReasons records the reason of every Close call.
	CloseReasons []string

	script chan item
}

// NewTransport creates a mock transport with room for 64 scripted messages.
func NewTransport() *Transport {
	return &Transport{script: make(chan item, 64)}
}

// Push scripts msg as the next Receive result.
func (t *Transport) Push(msg feed.Message) {
	t.script <- item{msg: msg}
}

// PushAudio scripts a binary audio frame.
func (t *Transport) PushAudio(data []byte) {
	t.Push(feed.Message{Kind: feed.KindAudio, Data: data})
}

// PushMetadata scripts a text metadata frame.
func (t *Transport) PushMetadata(data []byte) {
	t.Push(feed.Message{Kind: feed.KindMetadata, Data: data})
}

// End scripts a graceful remote close: the next Receive after all pushed
// messages returns [feed.ErrFeedEnded].
func (t *Transport) End() {
	t.script <- item{err: feed.ErrFeedEnded}
}

// Fail scripts err as the terminal Receive result.
func (t *Transport) Fail(err error) {
	t.script <- item{err: err}
}

// Receive implements [feed.Transport]. Returns the next scripted message or
// error, blocking until one is available or ctx is cancelled.
func (t *Transport) Receive(ctx context.Context) (feed.Message, error) {
	select {
	case it := <-t.script:
		return it.msg, it.err
	case <-ctx.Done():
		return feed.Message{}, ctx.Err()
	}
}

// Send implements [feed.Transport]. Records the message.
func (t *Transport) Send(_ context.Context, msg feed.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SendCalls = append(t.SendCalls, msg)
	return nil
}

// Close implements [feed.Transport]. Records the reason.
func (t *Transport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseReasons = append(t.CloseReasons, reason)
	return nil
}

// CloseCount returns how many times Close was called.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.CloseReasons)
}

// DialCall records the arguments of a single [Dialer.Dial] invocation.
type DialCall struct {
	// Target is the target passed to Dial.
	Target feed.Target
}

// Dialer is a mock [feed.DialFunc] provider.
type Dialer struct {
	mu sync.Mutex

	// Transport is returned by Dial. When nil and Err is nil, a fresh
	// [Transport] is created per call.
	Transport feed.Transport

	// Err is returned by Dial.
	Err error

	// DialCalls records all Dial invocations.
	DialCalls []DialCall
}

// Dial implements [feed.DialFunc]. Records the call and returns the scripted
// transport or error.
func (d *Dialer) Dial(_ context.Context, target feed.Target) (feed.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Target: target})
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Transport == nil {
		d.Transport = NewTransport()
	}
	return d.Transport, nil
}

// CallCount returns how many times Dial was invoked.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DialCalls)
}
