package feed

import "encoding/json"

// Metadata is the structured content of a text frame on the feed. The backend
// sends a hello frame ({"type":"hello","source":...}) on connect; other types
// may appear and are carried through verbatim.
type Metadata struct {
	Type    string `json:"type"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ParseMetadata parses a raw text frame into [Metadata]. Returns (zero, false)
// when the frame is not valid JSON or carries no type — malformed metadata is
// ignored by callers, never fatal.
func ParseMetadata(data []byte) (Metadata, bool) {
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}, false
	}
	if md.Type == "" {
		return Metadata{}, false
	}
	return md, true
}
