// Command feedsim is a development stand-in for the call backend: it serves
// the listen WebSocket endpoint and streams a sine tone as 16-bit mono PCM,
// 1280-byte chunks of 20 ms at 32 kHz, paced in real time. Point earshot at
// it to exercise the full playback path without a real call.
//
// Usage:
//
//	feedsim -addr :9090 -token secret -freq 440 -duration 30s
//	earshot -config configs/example.yaml -listen any-call-id
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
)

const (
	sampleRate    = 32000
	chunkDuration = 20 * time.Millisecond
	chunkSamples  = sampleRate / 50 // 640 samples per 20 ms
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":9090", "TCP address to serve on")
	token := flag.String("token", "", "required token query parameter; empty disables the check")
	freq := flag.Float64("freq", 440, "sine tone frequency in Hz")
	duration := flag.Duration("duration", 0, "how long each feed plays before a normal close; 0 streams forever")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		token:    *token,
		freq:     *freq,
		duration: *duration,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/listen/{callID}", sim.handleListen)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("feedsim serving", "addr", *addr, "freq_hz", *freq, "auth", *token != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("serve error", "err", err)
		return 1
	}
	return 0
}

// simulator holds the feed parameters shared by all connections.
type simulator struct {
	token    string
	freq     float64
	duration time.Duration
}

// metadata is the shape of text frames sent on the feed.
type metadata struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

func (s *simulator) handleListen(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("accept failed", "call_id", callID, "err", err)
		return
	}

	if s.token != "" && r.URL.Query().Get("token") != s.token {
		slog.Info("rejecting unauthorized feed", "call_id", callID)
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}

	slog.Info("feed open", "call_id", callID)
	if err := s.stream(r.Context(), conn); err != nil {
		slog.Info("feed ended", "call_id", callID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "stream failure")
		return
	}
	slog.Info("feed complete", "call_id", callID)
	_ = conn.Close(websocket.StatusNormalClosure, "feed complete")
}

// stream sends the hello frame and then tone chunks paced at one chunk per
// 20 ms until ctx is cancelled or the configured duration elapses.
func (s *simulator) stream(ctx context.Context, conn *websocket.Conn) error {
	hello, err := json.Marshal(metadata{Type: "hello", Source: "feedsim"})
	if err != nil {
		return fmt.Errorf("marshal hello: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	var deadline <-chan time.Time
	if s.duration > 0 {
		timer := time.NewTimer(s.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * s.freq / sampleRate

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C:
			chunk := make([]byte, chunkSamples*2)
			for i := range chunkSamples {
				sample := int16(math.Sin(phase) * 0.3 * math.MaxInt16)
				binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
				phase += step
			}
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("send chunk: %w", err)
			}
		}
	}
}
