package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, overlaying defaults. A missing file
// yields the defaults so a fresh install works without any config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills zero values that json overlay may have cleared.
func (c *Config) normalize() {
	d := Default()
	if c.Subagents.MaxConcurrent <= 0 {
		c.Subagents.MaxConcurrent = d.Subagents.MaxConcurrent
	}
	if c.Subagents.MaxRetained <= 0 {
		c.Subagents.MaxRetained = d.Subagents.MaxRetained
	}
	if c.Subagents.ReservationTTLSec <= 0 {
		c.Subagents.ReservationTTLSec = d.Subagents.ReservationTTLSec
	}
	if c.Subagents.AnnounceWaitMS <= 0 {
		c.Subagents.AnnounceWaitMS = d.Subagents.AnnounceWaitMS
	}
	if c.Subagents.HeartbeatCoalesceMS <= 0 {
		c.Subagents.HeartbeatCoalesceMS = d.Subagents.HeartbeatCoalesceMS
	}
	if c.Subagents.RegistryPath == "" {
		c.Subagents.RegistryPath = d.Subagents.RegistryPath
	}
	if c.Typing.IntervalSeconds <= 0 {
		c.Typing.IntervalSeconds = d.Typing.IntervalSeconds
	}
	if c.Typing.TTLSeconds <= 0 {
		c.Typing.TTLSeconds = d.Typing.TTLSeconds
	}
	if c.Typing.ReminderIntervalS <= 0 {
		c.Typing.ReminderIntervalS = d.Typing.ReminderIntervalS
	}
	if c.Typing.SilentReplyToken == "" {
		c.Typing.SilentReplyToken = d.Typing.SilentReplyToken
	}
	if c.Interact.TTLSeconds <= 0 {
		c.Interact.TTLSeconds = d.Interact.TTLSeconds
	}
	if c.Interact.CleanupSeconds <= 0 {
		c.Interact.CleanupSeconds = d.Interact.CleanupSeconds
	}
	if c.Sessions.Storage == "" {
		c.Sessions.Storage = d.Sessions.Storage
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = d.Gateway.URL
	}
	if c.Gateway.CallsPerSec <= 0 {
		c.Gateway.CallsPerSec = d.Gateway.CallsPerSec
	}
	if c.Gateway.CallBurst <= 0 {
		c.Gateway.CallBurst = d.Gateway.CallBurst
	}
	if c.Gateway.DialTimeoutS <= 0 {
		c.Gateway.DialTimeoutS = d.Gateway.DialTimeoutS
	}
}
