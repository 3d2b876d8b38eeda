package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/earshot/pkg/playback"
)

// sessionView is the JSON representation of one session in API responses.
type sessionView struct {
	CallID         string  `json:"call_id"`
	State          string  `json:"state"`
	LastError      string  `json:"last_error,omitempty"`
	PlayheadMillis int64   `json:"playhead_ms"`
	BytesReceived  uint64  `json:"bytes_received"`
	FramesDecoded  uint64  `json:"frames_decoded"`
	FramesDropped  uint64  `json:"frames_dropped"`
	MetadataFrames uint64  `json:"metadata_frames"`
	Volume         float64 `json:"volume"`
	Muted          bool    `json:"muted"`
}

func toView(st playback.Stats) sessionView {
	return sessionView{
		CallID:         st.CallID,
		State:          string(st.State),
		LastError:      st.LastError,
		PlayheadMillis: st.Playhead.Milliseconds(),
		BytesReceived:  st.BytesReceived,
		FramesDecoded:  st.FramesDecoded,
		FramesDropped:  st.FramesDropped,
		MetadataFrames: st.MetadataFrames,
		Volume:         st.Volume,
		Muted:          st.Muted,
	}
}

// errorBody is the JSON error response shape.
type errorBody struct {
	Error string `json:"error"`
}

// Register adds the session management routes to mux:
//
//	GET    /sessions                  — list all sessions
//	POST   /sessions/{callID}         — start listening to a call
//	DELETE /sessions/{callID}         — stop listening and remove the session
//	GET    /sessions/{callID}         — one session's stats
//	PUT    /sessions/{callID}/volume  — set volume, body {"volume": 0.8}
//	PUT    /sessions/{callID}/mute    — set mute, body {"muted": true}
func (m *Monitor) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions", m.handleList)
	mux.HandleFunc("POST /sessions/{callID}", m.handleListen)
	mux.HandleFunc("GET /sessions/{callID}", m.handleGet)
	mux.HandleFunc("DELETE /sessions/{callID}", m.handleStop)
	mux.HandleFunc("PUT /sessions/{callID}/volume", m.handleVolume)
	mux.HandleFunc("PUT /sessions/{callID}/mute", m.handleMute)
}

func (m *Monitor) handleList(w http.ResponseWriter, _ *http.Request) {
	stats := m.Sessions()
	views := make([]sessionView, 0, len(stats))
	for _, st := range stats {
		views = append(views, toView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (m *Monitor) handleListen(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callID")
	if err := m.Listen(r.Context(), callID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnknownCall):
			status = http.StatusNotFound
		case errors.Is(err, ErrAlreadyListening):
			status = http.StatusConflict
		case errors.Is(err, playback.ErrNoListenSource):
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	sess, _ := m.Session(callID)
	writeJSON(w, http.StatusCreated, toView(sess.Stats()))
}

func (m *Monitor) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.Session(r.PathValue("callID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such session"})
		return
	}
	writeJSON(w, http.StatusOK, toView(sess.Stats()))
}

func (m *Monitor) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := m.Stop(r.PathValue("callID")); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) handleVolume(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.Session(r.PathValue("callID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such session"})
		return
	}

	var body struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Volume == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"volume\": <0.0-1.0>}"})
		return
	}

	sess.SetVolume(*body.Volume)
	writeJSON(w, http.StatusOK, toView(sess.Stats()))
}

func (m *Monitor) handleMute(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.Session(r.PathValue("callID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such session"})
		return
	}

	var body struct {
		Muted *bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Muted == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be {\"muted\": <bool>}"})
		return
	}

	sess.SetMuted(*body.Muted)
	writeJSON(w, http.StatusOK, toView(sess.Stats()))
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}
