package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backend
	if cfg.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	} else if u, err := url.Parse(cfg.Backend.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend.url %q is not a valid URL: %w", cfg.Backend.URL, err))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("backend.url scheme %q is invalid; valid values: http, https, ws, wss", u.Scheme))
		}
	}
	if cfg.Backend.AuthToken == "" {
		slog.Warn("backend.auth_token is empty; feeds requiring authorization will be refused with code 4003")
	}

	// Playback
	if cfg.Playback.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate %d is invalid; must be positive", cfg.Playback.SampleRate))
	}
	if _, _, err := cfg.Playback.MaxLeadDuration(); err != nil {
		errs = append(errs, fmt.Errorf("playback.max_lead %q is not a valid duration: %w", cfg.Playback.MaxLead, err))
	}
	if cfg.Playback.Volume < 0 || cfg.Playback.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0.0, 1.0]", cfg.Playback.Volume))
	}

	// Call duplicate ID detection
	callIDsSeen := make(map[string]int, len(cfg.Calls))

	for i, call := range cfg.Calls {
		prefix := fmt.Sprintf("calls[%d]", i)
		if call.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := callIDsSeen[call.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of calls[%d]", prefix, call.ID, prev))
		}
		callIDsSeen[call.ID] = i

		if !call.HasListenSource {
			slog.Warn("call has no listen source; listen requests for it will fail immediately",
				"call_id", call.ID,
			)
		}
	}

	return errors.Join(errs...)
}
