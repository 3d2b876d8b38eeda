package playback_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/feed"
	feedmock "github.com/MrWong99/earshot/pkg/feed/mock"
	"github.com/MrWong99/earshot/pkg/playback"
)

// chunk20ms is a valid 20 ms feed frame: 640 little-endian int16 samples.
func chunk20ms() []byte {
	data := make([]byte, 1280)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(int16(1000)))
	}
	return data
}

// stateRecorder captures session state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []playback.State
}

func (r *stateRecorder) record(s playback.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []playback.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]playback.State, len(r.states))
	copy(out, r.states)
	return out
}

// testHarness bundles a session with its mock transport and clock.
type testHarness struct {
	session   *playback.Session
	transport *feedmock.Transport
	dialer    *feedmock.Dialer
	clock     *audiomock.Clock
	states    *stateRecorder
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newHarness(t *testing.T, cfg playback.Config, opts ...playback.Option) *testHarness {
	t.Helper()

	h := &testHarness{
		transport: feedmock.NewTransport(),
		clock:     audiomock.NewClock(),
		states:    &stateRecorder{},
	}
	h.dialer = &feedmock.Dialer{Transport: h.transport}

	all := []playback.Option{
		playback.WithDialFunc(h.dialer.Dial),
		playback.WithClockFactory(func(_ audio.Format, gain audio.GainSource) (audio.OutputClock, error) {
			h.clock.GainSource = gain
			return h.clock, nil
		}),
		playback.WithStateFunc(h.states.record),
		playback.WithMetrics(testMetrics(t)),
	}
	all = append(all, opts...)

	sess, err := playback.New(cfg, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = sess
	t.Cleanup(func() { _ = sess.Stop() })
	return h
}

func listenableConfig() playback.Config {
	return playback.Config{
		CallID:          "call-1",
		BackendURL:      "https://calls.example.com",
		HasListenSource: true,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := playback.New(playback.Config{BackendURL: "https://x"}); err == nil {
		t.Error("expected error for empty CallID, got nil")
	}
	if _, err := playback.New(playback.Config{CallID: "c"}); err == nil {
		t.Error("expected error for empty BackendURL, got nil")
	}
	if _, err := playback.New(playback.Config{CallID: "c", BackendURL: "https://x", SampleRate: -1}); err == nil {
		t.Error("expected error for negative sample rate, got nil")
	}
}

func TestStart_NoListenSource(t *testing.T) {
	t.Parallel()
	cfg := listenableConfig()
	cfg.HasListenSource = false
	h := newHarness(t, cfg)

	err := h.session.Start(context.Background())
	if !errors.Is(err, playback.ErrNoListenSource) {
		t.Fatalf("error = %v, want ErrNoListenSource", err)
	}
	if got := h.session.State(); got != playback.StateError {
		t.Errorf("state = %s, want error", got)
	}
	// The failure is synchronous and touches no resource.
	if h.dialer.CallCount() != 0 {
		t.Errorf("dial count = %d, want 0", h.dialer.CallCount())
	}
	if len(h.clock.Entries()) != 0 || h.clock.CloseCount != 0 {
		t.Error("output clock was touched")
	}
}

func TestStart_HappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.session.State(); got != playback.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	// The dialled target carries the call ID and token.
	if h.dialer.CallCount() != 1 {
		t.Fatalf("dial count = %d, want 1", h.dialer.CallCount())
	}
	target := h.dialer.DialCalls[0].Target
	if target.CallID != "call-1" || target.BackendURL != "https://calls.example.com" {
		t.Errorf("dial target = %+v", target)
	}

	for range 5 {
		h.transport.PushAudio(chunk20ms())
	}
	waitFor(t, "5 decoded frames", func() bool {
		return h.session.Stats().FramesDecoded == 5
	})

	// Committed gaplessly, 20 ms apart.
	entries := h.clock.Entries()
	if len(entries) != 5 {
		t.Fatalf("clock entries = %d, want 5", len(entries))
	}
	for i, e := range entries {
		want := time.Duration(i) * 20 * time.Millisecond
		if e.Start != want {
			t.Errorf("entry %d start = %v, want %v", i, e.Start, want)
		}
	}

	st := h.session.Stats()
	if st.BytesReceived != 5*1280 {
		t.Errorf("bytes received = %d, want %d", st.BytesReceived, 5*1280)
	}
	if st.Playhead != 100*time.Millisecond {
		t.Errorf("playhead = %v, want 100ms", st.Playhead)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.session.Start(context.Background()); err == nil {
		t.Error("expected error on second Start, got nil")
	}
}

func TestSession_MetadataDoesNotAffectAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.PushMetadata([]byte(`{"type":"hello","source":"backend"}`))
	h.transport.PushAudio(chunk20ms())
	h.transport.PushMetadata([]byte("not even json"))
	h.transport.PushAudio(chunk20ms())

	waitFor(t, "2 decoded frames", func() bool {
		return h.session.Stats().FramesDecoded == 2
	})

	st := h.session.Stats()
	if st.MetadataFrames != 2 {
		t.Errorf("metadata frames = %d, want 2", st.MetadataFrames)
	}
	// Audio positions are unaffected by the interleaved metadata.
	entries := h.clock.Entries()
	if len(entries) != 2 || entries[1].Start != 20*time.Millisecond {
		t.Errorf("entries = %+v, want 2 gapless commits", entries)
	}
}

func TestSession_MalformedFrameDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.PushAudio(chunk20ms())
	h.transport.PushAudio([]byte{0x01, 0x02, 0x03}) // odd length
	h.transport.PushAudio(chunk20ms())

	waitFor(t, "2 decoded frames", func() bool {
		return h.session.Stats().FramesDecoded == 2
	})

	st := h.session.Stats()
	if st.FramesDropped != 1 {
		t.Errorf("frames dropped = %d, want 1", st.FramesDropped)
	}
	if st.State != playback.StateOpen {
		t.Errorf("state = %s, want open (decode errors are not fatal)", st.State)
	}
	// The dropped frame contributed no audio: second valid chunk starts at 20 ms.
	entries := h.clock.Entries()
	if len(entries) != 2 || entries[1].Start != 20*time.Millisecond {
		t.Errorf("entries = %+v, want 2 commits at 0 and 20ms", entries)
	}
	// Its bytes still count as received.
	if st.BytesReceived != 2*1280+3 {
		t.Errorf("bytes received = %d, want %d", st.BytesReceived, 2*1280+3)
	}
}

func TestSession_FeedEnded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.PushAudio(chunk20ms())
	h.transport.End()

	waitFor(t, "closed state", func() bool {
		return h.session.State() == playback.StateClosed
	})
	if got := h.session.LastError(); got != "" {
		t.Errorf("last error = %q, want empty for graceful close", got)
	}
	// Committed audio is not revoked.
	if len(h.clock.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(h.clock.Entries()))
	}
}

func TestSession_FeedError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.Fail(&feed.CloseError{Code: 4003, Reason: "access denied"})

	waitFor(t, "error state", func() bool {
		return h.session.State() == playback.StateError
	})
	if got := h.session.LastError(); got == "" {
		t.Error("last error empty, want the close reason")
	}
}

func TestSession_DeadClockStopsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.clock.PlayErr = errors.New("device unplugged")
	h.transport.PushAudio(chunk20ms())

	waitFor(t, "error state", func() bool {
		return h.session.State() == playback.StateError
	})
	waitFor(t, "transport closed", func() bool {
		return h.transport.CloseCount() > 0
	})
}

func TestSession_DialFailure(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("connection refused")
	clock := audiomock.NewClock()
	dialer := &feedmock.Dialer{Err: dialErr}

	sess, err := playback.New(listenableConfig(),
		playback.WithDialFunc(dialer.Dial),
		playback.WithClockFactory(func(_ audio.Format, _ audio.GainSource) (audio.OutputClock, error) {
			return clock, nil
		}),
		playback.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Stop() })

	if err := sess.Start(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("error = %v, want wrapped dial error", err)
	}
	if got := sess.State(); got != playback.StateError {
		t.Errorf("state = %s, want error", got)
	}
	// The clock acquired before the failed dial is released again.
	if clock.CloseCount != 1 {
		t.Errorf("clock close count = %d, want 1", clock.CloseCount)
	}
}

func TestStop_DuringFailingStart(t *testing.T) {
	t.Parallel()
	clock := audiomock.NewClock()
	states := &stateRecorder{}

	// The dial func stops the session before failing, landing Stop between
	// the connecting transition and the dial error.
	var sess *playback.Session
	dial := func(_ context.Context, _ feed.Target) (feed.Transport, error) {
		_ = sess.Stop()
		return nil, errors.New("connection refused")
	}

	sess, err := playback.New(listenableConfig(),
		playback.WithDialFunc(dial),
		playback.WithClockFactory(func(_ audio.Format, _ audio.GainSource) (audio.OutputClock, error) {
			return clock, nil
		}),
		playback.WithStateFunc(states.record),
		playback.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sess.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail, got nil")
	}

	// The closed state from Stop wins; the later dial failure must not move
	// the session to error or notify an error after the closed notification.
	if got := sess.State(); got != playback.StateClosed {
		t.Errorf("state = %s, want closed preserved over the dial failure", got)
	}
	if got := sess.LastError(); got != "" {
		t.Errorf("last error = %q, want empty", got)
	}
	all := states.all()
	if len(all) == 0 || all[len(all)-1] != playback.StateClosed {
		t.Errorf("transitions = %v, want closed last", all)
	}
	// The clock acquired before the dial is still released exactly once.
	if clock.CloseCount != 1 {
		t.Errorf("clock close count = %d, want 1", clock.CloseCount)
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.session.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	if got := h.session.State(); got != playback.StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if h.clock.CloseCount != 1 {
		t.Errorf("clock close count = %d, want exactly 1", h.clock.CloseCount)
	}
	if h.transport.CloseCount() < 1 {
		t.Error("transport not closed")
	}
}

func TestStop_NeverStarted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop on idle session: %v", err)
	}
	if got := h.session.State(); got != playback.StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestStop_PreservesErrorState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.Fail(&feed.CloseError{Code: 1011, Reason: "upstream failed"})
	waitFor(t, "error state", func() bool {
		return h.session.State() == playback.StateError
	})

	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Terminal states are not overwritten; resources are still released.
	if got := h.session.State(); got != playback.StateError {
		t.Errorf("state = %s, want error preserved", got)
	}
	if h.clock.CloseCount != 1 {
		t.Errorf("clock close count = %d, want 1", h.clock.CloseCount)
	}
}

func TestSession_StateTransitions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = h.session.Stop()

	want := []playback.State{playback.StateConnecting, playback.StateOpen, playback.StateClosed}
	got := h.states.all()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

func TestSession_VolumeLatchedAtRenderStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.transport.PushAudio(chunk20ms())
	h.transport.PushAudio(chunk20ms())
	waitFor(t, "2 decoded frames", func() bool {
		return h.session.Stats().FramesDecoded == 2
	})

	// First buffer starts rendering at full volume.
	h.clock.Advance(time.Millisecond)
	// A volume change before the second buffer's start affects only it.
	h.session.SetVolume(0.5)
	h.clock.Advance(20 * time.Millisecond)

	entries := h.clock.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].LatchedGain != 1 {
		t.Errorf("first buffer gain = %v, want 1 (no retroactive attenuation)", entries[0].LatchedGain)
	}
	if entries[1].LatchedGain != 0.5 {
		t.Errorf("second buffer gain = %v, want 0.5", entries[1].LatchedGain)
	}
}

func TestSession_MuteZeroesGain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig())
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.session.SetMuted(true)
	h.transport.PushAudio(chunk20ms())
	waitFor(t, "1 decoded frame", func() bool {
		return h.session.Stats().FramesDecoded == 1
	})
	h.clock.Advance(time.Millisecond)

	entries := h.clock.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (muted audio still consumes the stream)", len(entries))
	}
	if entries[0].LatchedGain != 0 {
		t.Errorf("gain while muted = %v, want 0", entries[0].LatchedGain)
	}

	st := h.session.Stats()
	if !st.Muted {
		t.Error("stats not reporting muted")
	}
	if st.Volume != 1 {
		t.Errorf("volume = %v, want 1 preserved under mute", st.Volume)
	}
}

func TestSession_LeadCapDrops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, listenableConfig(), playback.WithMaxLead(50*time.Millisecond))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Device clock frozen at 0: chunks 0-2 land at 0/20/40 ms lead, the rest
	// exceed the 50 ms cap.
	for range 6 {
		h.transport.PushAudio(chunk20ms())
	}
	waitFor(t, "all frames handled", func() bool {
		st := h.session.Stats()
		return st.FramesDecoded+st.FramesDropped == 6
	})

	st := h.session.Stats()
	if st.FramesDecoded != 3 {
		t.Errorf("frames decoded = %d, want 3", st.FramesDecoded)
	}
	if st.FramesDropped != 3 {
		t.Errorf("frames dropped = %d, want 3", st.FramesDropped)
	}
	if st.Playhead != 60*time.Millisecond {
		t.Errorf("playhead = %v, want 60ms (drops never advance it)", st.Playhead)
	}
}
