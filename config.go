package luminary

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config/profiles.yaml
var defaultProfilesYAML []byte

// ProfileConfig is a named set of stream timeout profiles, loaded from YAML.
// The library embeds a default set; deployments can override it with
// LoadProfiles.
type ProfileConfig struct {
	Version     string                    `yaml:"version"`      // semantic version of the profile set
	LastUpdated string                    `yaml:"last_updated"` // ISO 8601 date
	Profiles    map[string]TimeoutProfile `yaml:"profiles"`
}

// TimeoutProfile expresses the three stream deadlines in milliseconds.
// A zero value disables that deadline.
type TimeoutProfile struct {
	TTFTMillis  int `yaml:"ttft_ms"`
	IdleMillis  int `yaml:"idle_ms"`
	TotalMillis int `yaml:"total_ms"`
}

func (p TimeoutProfile) streamOptions() StreamOptions {
	return StreamOptions{
		TTFTTimeout:  time.Duration(p.TTFTMillis) * time.Millisecond,
		IdleTimeout:  time.Duration(p.IdleMillis) * time.Millisecond,
		TotalTimeout: time.Duration(p.TotalMillis) * time.Millisecond,
	}
}

// DefaultProfiles returns the embedded profile set.
func DefaultProfiles() (*ProfileConfig, error) {
	return parseProfiles(defaultProfilesYAML)
}

// LoadProfiles reads a profile set from a YAML file.
func LoadProfiles(path string) (*ProfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile config: %w", err)
	}
	return parseProfiles(data)
}

func parseProfiles(data []byte) (*ProfileConfig, error) {
	var cfg ProfileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse profile config: %w", err)
	}
	if len(cfg.Profiles) == 0 {
		return nil, &ConfigError{Field: "profiles", Reason: "profile config declares no profiles"}
	}
	return &cfg, nil
}

// StreamOptions configures the three independent per-stream deadlines.
// Each is separately disableable with a zero value.
type StreamOptions struct {
	// TTFTTimeout bounds the wait for the first structurally meaningful
	// event, measured from request dispatch.
	TTFTTimeout time.Duration

	// IdleTimeout bounds the gap between received bytes. Keepalive-only
	// chunks reset it; events do not factor in.
	IdleTimeout time.Duration

	// TotalTimeout bounds the whole stream, measured from request dispatch,
	// regardless of activity.
	TotalTimeout time.Duration
}

// StreamOptionsForProfile resolves a named profile from the embedded defaults.
func StreamOptionsForProfile(name string) (StreamOptions, error) {
	cfg, err := DefaultProfiles()
	if err != nil {
		return StreamOptions{}, err
	}
	return cfg.StreamOptions(name)
}

// StreamOptions resolves a named profile from this config.
func (c *ProfileConfig) StreamOptions(name string) (StreamOptions, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return StreamOptions{}, &ConfigError{Field: "profile", Reason: fmt.Sprintf("unknown timeout profile '%s'", name)}
	}
	return p.streamOptions(), nil
}
