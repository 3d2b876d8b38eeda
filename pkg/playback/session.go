// Package playback implements the per-call listen session: the controller
// that owns one transport, decoder, scheduler, and conditioning chain tuple
// and exposes status and controls (volume, mute) to a UI surface.
//
// Lifecycle is explicit: resources are acquired in [Session.Start] and
// released — on every exit path — by [Session.Stop], which is idempotent.
// Sessions never share a chain, output clock, or playhead.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/device"
	"github.com/MrWong99/earshot/pkg/audio/sched"
	"github.com/MrWong99/earshot/pkg/feed"
	"github.com/MrWong99/earshot/pkg/feed/ws"
)

// DefaultSampleRate is the listen feed's sample rate in Hz. The backend
// streams 16-bit mono PCM at 32 kHz (1280-byte chunks of 20 ms).
const DefaultSampleRate = 32000

// ErrNoListenSource is returned by [Session.Start] when the monitored call
// carries no listen capability. No transport connection is attempted.
var ErrNoListenSource = errors.New("playback: call has no listen source")

// Config holds the per-call parameters of a [Session].
type Config struct {
	// CallID identifies the call to listen to. Required.
	CallID string

	// BackendURL is the backend base URL the feed is dialled against.
	// Required.
	BackendURL string

	// AuthToken is the bearer credential attached to the feed URL. Supplied
	// by the authentication layer; may be empty against an open backend.
	AuthToken string

	// HasListenSource is the call's listen capability flag, supplied by the
	// call-data layer. Start fails fast when it is unset.
	HasListenSource bool

	// SampleRate of the feed's PCM frames in Hz. Defaults to
	// [DefaultSampleRate].
	SampleRate int
}

// Option configures a [Session] during construction.
type Option func(*Session)

// WithDialFunc overrides how the transport is dialled. Default: WebSocket
// via feed/ws.
func WithDialFunc(dial feed.DialFunc) Option {
	return func(s *Session) {
		s.dial = dial
	}
}

// WithClockFactory overrides how the output clock is acquired. Default: the
// malgo playback device.
func WithClockFactory(clocks audio.ClockFactory) Option {
	return func(s *Session) {
		s.clocks = clocks
	}
}

// WithMaxLead sets the scheduler's look-ahead cap. Zero disables the cap,
// reproducing the unbounded legacy behaviour. When the option is absent the
// scheduler default ([sched.DefaultMaxLead]) applies.
func WithMaxLead(d time.Duration) Option {
	return func(s *Session) {
		s.schedOpts = append(s.schedOpts, sched.WithMaxLead(d))
	}
}

// WithStateFunc registers fn to be invoked on every state transition, for UI
// surfaces that render the connection state. fn is called synchronously and
// must not call back into the session.
func WithStateFunc(fn func(State)) Option {
	return func(s *Session) {
		s.stateFn = fn
	}
}

// WithMetrics overrides the metrics instance. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Stats is a snapshot of a session's counters and controls, for UI display.
type Stats struct {
	CallID    string
	State     State
	LastError string

	// Playhead is the device-timeline position the schedule has committed
	// up to. Monotonically non-decreasing.
	Playhead time.Duration

	// BytesReceived counts all binary payload bytes taken off the transport,
	// including frames later rejected by the decoder.
	BytesReceived uint64

	// FramesDecoded counts frames decoded and committed to the clock.
	FramesDecoded uint64

	// FramesDropped counts frames discarded: malformed binary frames plus
	// frames over the look-ahead cap. Dropped frames contribute no decoded
	// audio duration.
	FramesDropped uint64

	// MetadataFrames counts text frames received on the feed.
	MetadataFrames uint64

	Volume float64
	Muted  bool
}

// Session is the playback controller for one monitored call.
//
// All exported methods are safe for concurrent use. Start may be called at
// most once; Stop any number of times.
type Session struct {
	cfg       Config
	dial      feed.DialFunc
	clocks    audio.ClockFactory
	schedOpts []sched.Option
	stateFn   func(State)
	metrics   *observe.Metrics

	chain *audio.Chain

	mu        sync.Mutex
	state     State
	lastErr   string
	transport feed.Transport
	clock     audio.OutputClock
	sched     *sched.Scheduler
	cancel    context.CancelFunc
	stopped   bool

	wg sync.WaitGroup

	bytesReceived  atomic.Uint64
	framesDecoded  atomic.Uint64
	framesDropped  atomic.Uint64
	metadataFrames atomic.Uint64

	warnedDecode sync.Once
}

// New creates a session in the idle state. The conditioning chain is built
// here and lives for the whole session; no device or network resource is
// touched until [Session.Start].
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.CallID == "" {
		return nil, errors.New("playback: CallID must not be empty")
	}
	if cfg.BackendURL == "" {
		return nil, errors.New("playback: BackendURL must not be empty")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", cfg.SampleRate)
	}

	s := &Session{
		cfg:    cfg,
		dial:   ws.Dial,
		clocks: device.New,
		chain:  audio.NewChain(cfg.SampleRate),
		state:  StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Start acquires the output clock, dials the feed, and launches the receive
// loop. It fails fast — synchronously, with no dial attempt and no clock
// acquired — when the call has no listen source. Partial failures release
// whatever was already acquired.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("playback: session %q already started (state %s)", s.cfg.CallID, state)
	}
	if !s.cfg.HasListenSource {
		s.state = StateError
		s.lastErr = "no listen source"
		s.mu.Unlock()
		s.notify(StateError)
		return fmt.Errorf("playback: start %q: %w", s.cfg.CallID, ErrNoListenSource)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.notify(StateConnecting)

	clock, err := s.clocks(audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}, s.chain)
	if err != nil {
		s.fail("acquire output clock: " + err.Error())
		return fmt.Errorf("playback: start %q: acquire output clock: %w", s.cfg.CallID, err)
	}

	transport, err := s.dial(ctx, feed.Target{
		BackendURL: s.cfg.BackendURL,
		CallID:     s.cfg.CallID,
		AuthToken:  s.cfg.AuthToken,
	})
	if err != nil {
		_ = clock.Close()
		s.fail("dial: " + err.Error())
		return fmt.Errorf("playback: start %q: dial: %w", s.cfg.CallID, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.stopped {
		// Stop raced the handshake; release everything we just acquired.
		s.mu.Unlock()
		cancel()
		_ = transport.Close("session stopped")
		_ = clock.Close()
		return fmt.Errorf("playback: session %q stopped during start", s.cfg.CallID)
	}
	s.clock = clock
	s.transport = transport
	s.sched = sched.New(clock, s.schedOpts...)
	s.cancel = cancel
	s.state = StateOpen
	s.mu.Unlock()
	s.notify(StateOpen)

	s.wg.Add(1)
	go s.receiveLoop(loopCtx, transport)

	slog.Info("listen session open",
		"call_id", s.cfg.CallID,
		"sample_rate", s.cfg.SampleRate,
	)
	return nil
}

// SetVolume sets the session volume, clamped to [0, 1]. Takes effect for
// every buffer whose rendering has not yet started. Never fails; a no-op
// after stop.
func (s *Session) SetVolume(v float64) {
	s.chain.SetVolume(v)
}

// SetMuted mutes or unmutes the session. Same latching semantics as
// [Session.SetVolume].
func (s *Session) SetMuted(muted bool) {
	s.chain.SetMuted(muted)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the message of the most recent failure, or the empty
// string.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot of the session's counters for UI display.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	state := s.state
	lastErr := s.lastErr
	sc := s.sched
	s.mu.Unlock()

	st := Stats{
		CallID:         s.cfg.CallID,
		State:          state,
		LastError:      lastErr,
		BytesReceived:  s.bytesReceived.Load(),
		FramesDecoded:  s.framesDecoded.Load(),
		FramesDropped:  s.framesDropped.Load(),
		MetadataFrames: s.metadataFrames.Load(),
		Volume:         s.chain.Volume(),
		Muted:          s.chain.Muted(),
	}
	if sc != nil {
		st.Playhead = sc.Playhead()
	}
	return st
}

// Stop closes the transport, waits for the receive loop, and releases the
// output clock. Idempotent, and safe on a never-started session. Audio
// already committed to the device may drain for a few tens of milliseconds
// after Stop returns.
//
// A session in open or connecting transitions to closed; error and closed
// are terminal and unchanged (the resources are still released).
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	transport := s.transport
	var closed bool
	if !s.state.Terminal() {
		s.state = StateClosed
		closed = true
	}
	s.mu.Unlock()
	if closed {
		s.notify(StateClosed)
	}

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		_ = transport.Close("session stopped")
	}
	s.wg.Wait()

	s.mu.Lock()
	clock := s.clock
	s.clock = nil
	s.mu.Unlock()
	if clock != nil {
		if err := clock.Close(); err != nil {
			slog.Warn("output clock close error", "call_id", s.cfg.CallID, "err", err)
		}
	}
	s.chain.Reset()

	slog.Info("listen session stopped", "call_id", s.cfg.CallID)
	return nil
}

// receiveLoop is the session's single processing goroutine: it classifies,
// decodes, conditions, and schedules every inbound message in arrival order.
// Each step is O(frame size) so the next message is picked up promptly.
func (s *Session) receiveLoop(ctx context.Context, transport feed.Transport) {
	defer s.wg.Done()

	for {
		msg, err := transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Stop is tearing the session down.
				return
			}
			switch {
			case errors.Is(err, feed.ErrFeedEnded):
				slog.Info("feed ended", "call_id", s.cfg.CallID)
				s.finish(StateClosed, "")
			default:
				slog.Warn("feed error", "call_id", s.cfg.CallID, "err", err)
				s.finish(StateError, err.Error())
			}
			return
		}

		switch msg.Kind {
		case feed.KindMetadata:
			s.handleMetadata(ctx, msg.Data)
		case feed.KindAudio:
			if !s.handleAudio(ctx, msg.Data) {
				_ = transport.Close("output unavailable")
				return
			}
		}
	}
}

// handleMetadata logs a text frame. Metadata never affects the audio path;
// malformed metadata is ignored.
func (s *Session) handleMetadata(ctx context.Context, data []byte) {
	s.metadataFrames.Add(1)
	s.metrics.RecordMetadataFrame(ctx, s.cfg.CallID)

	md, ok := feed.ParseMetadata(data)
	if !ok {
		slog.Debug("ignoring malformed feed metadata", "call_id", s.cfg.CallID, "bytes", len(data))
		return
	}
	slog.Debug("feed metadata",
		"call_id", s.cfg.CallID,
		"type", md.Type,
		"source", md.Source,
	)
}

// handleAudio decodes, conditions, and schedules one binary frame. Returns
// false when the output resource is gone and the session has been moved to
// the error state.
func (s *Session) handleAudio(ctx context.Context, data []byte) bool {
	s.bytesReceived.Add(uint64(len(data)))
	s.metrics.RecordBytesReceived(ctx, s.cfg.CallID, len(data))

	buf, err := audio.DecodePCM16(data, s.cfg.SampleRate)
	if err != nil {
		// Non-fatal: drop the frame, keep the stream going.
		s.framesDropped.Add(1)
		s.metrics.RecordDecodeError(ctx, s.cfg.CallID)
		level := slog.LevelDebug
		s.warnedDecode.Do(func() { level = slog.LevelWarn })
		slog.Log(ctx, level, "dropping malformed audio frame",
			"call_id", s.cfg.CallID,
			"bytes", len(data),
			"err", err,
		)
		return true
	}

	buf = s.chain.Process(buf)

	placement, err := s.sched.Schedule(buf)
	if err != nil {
		// The output resource is gone; the session is no longer useful.
		slog.Error("output clock rejected buffer, closing session",
			"call_id", s.cfg.CallID, "err", err)
		s.finish(StateError, err.Error())
		return false
	}

	if placement.Dropped {
		s.framesDropped.Add(1)
		s.metrics.RecordLeadDrop(ctx, s.cfg.CallID)
		slog.Debug("dropped frame over look-ahead cap",
			"call_id", s.cfg.CallID, "lead", placement.Lead)
		return true
	}
	if placement.Underrun {
		s.metrics.RecordUnderrun(ctx, s.cfg.CallID)
		slog.Debug("underrun, playhead resynced to device clock", "call_id", s.cfg.CallID)
	}

	s.framesDecoded.Add(1)
	s.metrics.RecordFrameDecoded(ctx, s.cfg.CallID, placement.Lead)
	return true
}

// finish records the feed's terminal state. The output clock is NOT released
// here — committed audio drains naturally, and the clock is freed by Stop.
func (s *Session) finish(state State, errMsg string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	if errMsg != "" {
		s.lastErr = errMsg
	}
	s.mu.Unlock()
	s.notify(state)
}

// fail moves the session to the error state with the given message. A session
// that already reached a terminal state — a Stop racing a failing Start — is
// left unchanged.
func (s *Session) fail(msg string) {
	s.finish(StateError, msg)
}

// notify invokes the registered state observer, if any.
func (s *Session) notify(state State) {
	if s.stateFn != nil {
		s.stateFn(state)
	}
}
