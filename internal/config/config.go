// Package config provides the configuration schema and YAML loader for the
// earshot listen-in service.
package config

import "time"

// LogLevel controls log verbosity for the earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Playback PlaybackConfig `yaml:"playback"`
	Calls    []CallConfig   `yaml:"calls"`
}

// ServerConfig holds network and logging settings for the admin endpoint.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig identifies the call backend that serves audio feeds.
type BackendConfig struct {
	// URL is the backend base URL. http/https schemes are rewritten to
	// ws/wss when dialing feeds (e.g., "https://calls.example.com").
	URL string `yaml:"url"`

	// AuthToken is passed as the token query parameter on every feed dial.
	// The backend closes unauthorized feeds with code 4003.
	AuthToken string `yaml:"auth_token"`
}

// PlaybackConfig tunes the decode and scheduling pipeline.
type PlaybackConfig struct {
	// SampleRate is the PCM sample rate of the feed in Hz. Default: 32000.
	SampleRate int `yaml:"sample_rate"`

	// MaxLead caps how far ahead of the device clock audio may be buffered,
	// as a Go duration string (e.g., "500ms"). "0" disables the cap. When
	// empty, the scheduler default of 500ms applies.
	MaxLead string `yaml:"max_lead"`

	// Volume is the initial output volume in [0.0, 1.0]. When zero (unset),
	// full volume applies.
	Volume float64 `yaml:"volume"`
}

// MaxLeadDuration parses the MaxLead string. The boolean reports whether a
// value was set at all; when false, callers should use their own default.
func (p PlaybackConfig) MaxLeadDuration() (time.Duration, bool, error) {
	if p.MaxLead == "" {
		return 0, false, nil
	}
	if p.MaxLead == "0" {
		return 0, true, nil
	}
	d, err := time.ParseDuration(p.MaxLead)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

// CallConfig describes one call that may be listened to.
type CallConfig struct {
	// ID is the backend call identifier used in the feed URL path.
	ID string `yaml:"id"`

	// HasListenSource reports whether a listenable audio source is attached
	// to the call. Listening to a call without one fails before any network
	// activity.
	HasListenSource bool `yaml:"has_listen_source"`
}
