// Package monitor manages the set of live listen sessions: at most one
// session per call, started and stopped through the admin HTTP surface.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/playback"
)

// ErrUnknownCall is returned by [Monitor.Listen] for a call ID absent from
// the configuration.
var ErrUnknownCall = errors.New("monitor: unknown call")

// ErrAlreadyListening is returned by [Monitor.Listen] when a non-terminal
// session already exists for the call.
var ErrAlreadyListening = errors.New("monitor: call is already being listened to")

// Option configures a [Monitor] during construction.
type Option func(*Monitor)

// WithSessionOptions appends options passed to every created
// [playback.Session]. Tests use this to inject mock dialers and clocks.
func WithSessionOptions(opts ...playback.Option) Option {
	return func(m *Monitor) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

// WithMetrics overrides the metrics instance. Default:
// [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = met
	}
}

// Monitor owns the listen-session registry. At most one session exists per
// call ID; a terminal session is replaced on the next Listen call.
// All exported methods are safe for concurrent use.
type Monitor struct {
	cfg         *config.Config
	sessionOpts []playback.Option
	metrics     *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*playback.Session
}

// New creates a Monitor over the configured backend and calls.
func New(cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		sessions: make(map[string]*playback.Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// callConfig looks up the configured call entry for callID.
func (m *Monitor) callConfig(callID string) (config.CallConfig, bool) {
	for _, c := range m.cfg.Calls {
		if c.ID == callID {
			return c, true
		}
	}
	return config.CallConfig{}, false
}

// sessionOptions assembles the playback options derived from config plus any
// injected test options.
func (m *Monitor) sessionOptions() ([]playback.Option, error) {
	var opts []playback.Option

	if d, set, err := m.cfg.Playback.MaxLeadDuration(); err != nil {
		return nil, err
	} else if set {
		opts = append(opts, playback.WithMaxLead(d))
	}
	opts = append(opts, playback.WithMetrics(m.metrics))
	opts = append(opts, m.sessionOpts...)
	return opts, nil
}

// Listen starts a listen session for callID. Returns an error when the call
// is not configured, a session for it is already live, or the session fails
// to start. A previous terminal session for the call is replaced.
func (m *Monitor) Listen(ctx context.Context, callID string) error {
	call, ok := m.callConfig(callID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCall, callID)
	}

	opts, err := m.sessionOptions()
	if err != nil {
		return fmt.Errorf("monitor: call %q: %w", callID, err)
	}

	// Decrement the gauge exactly once per session, on the first terminal
	// transition, whether the feed ended on its own or Stop closed it.
	var gaugeOnce sync.Once
	opts = append(opts, playback.WithStateFunc(func(st playback.State) {
		if st.Terminal() {
			gaugeOnce.Do(func() {
				m.metrics.AddActiveSessions(context.Background(), -1)
			})
		}
	}))

	sess, err := playback.New(playback.Config{
		CallID:          callID,
		BackendURL:      m.cfg.Backend.URL,
		AuthToken:       m.cfg.Backend.AuthToken,
		HasListenSource: call.HasListenSource,
		SampleRate:      m.cfg.Playback.SampleRate,
	}, opts...)
	if err != nil {
		return fmt.Errorf("monitor: create session for %q: %w", callID, err)
	}
	if v := m.cfg.Playback.Volume; v > 0 {
		sess.SetVolume(v)
	}

	m.mu.Lock()
	if prev, exists := m.sessions[callID]; exists {
		if !prev.State().Terminal() {
			m.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrAlreadyListening, callID)
		}
		delete(m.sessions, callID)
	}
	m.sessions[callID] = sess
	m.mu.Unlock()

	m.metrics.AddActiveSessions(ctx, 1)
	if err := sess.Start(ctx); err != nil {
		// Start failures are terminal; the state callback has already
		// decremented the gauge. Keep the session registered so the failure
		// is visible in the session list.
		slog.Warn("listen session failed to start", "call_id", callID, "err", err)
		return fmt.Errorf("monitor: %w", err)
	}

	slog.Info("listening to call", "call_id", callID)
	return nil
}

// Stop ends the session for callID and removes it from the registry.
// Returns an error when no session exists for the call.
func (m *Monitor) Stop(callID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("monitor: no session for call %q", callID)
	}
	if err := sess.Stop(); err != nil {
		return fmt.Errorf("monitor: stop %q: %w", callID, err)
	}
	slog.Info("stopped listening to call", "call_id", callID)
	return nil
}

// StopAll ends every registered session. Called during shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	sessions := make(map[string]*playback.Session, len(m.sessions))
	for id, s := range m.sessions {
		sessions[id] = s
	}
	m.sessions = make(map[string]*playback.Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Stop(); err != nil {
			slog.Warn("session stop error during shutdown", "call_id", id, "err", err)
		}
	}
}

// Session returns the registered session for callID, if any.
func (m *Monitor) Session(callID string) (*playback.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Sessions returns a stats snapshot of every registered session, sorted by
// call ID.
func (m *Monitor) Sessions() []playback.Stats {
	m.mu.Lock()
	sessions := make([]*playback.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	stats := make([]playback.Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].CallID < stats[j].CallID })
	return stats
}
