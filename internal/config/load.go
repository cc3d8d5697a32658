package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/monproto/internal/protocol/session"
)

// Load reads a monctl TOML file. Keys left out keep their Default() value.
func Load(path string) (MonctlConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return MonctlConfig{}, fmt.Errorf("load monctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return MonctlConfig{}, fmt.Errorf("load monctl config: unknown key %q", undecoded[0].String())
	}

	cfg, err := apply(Default(), raw, meta)
	if err != nil {
		return MonctlConfig{}, fmt.Errorf("load monctl config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return MonctlConfig{}, err
	}
	return cfg, nil
}

func apply(cfg MonctlConfig, raw fileConfig, meta toml.MetaData) (MonctlConfig, error) {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("echo") {
		cfg.Echo = raw.Echo
	}
	if meta.IsDefined("token") {
		cfg.Token = raw.Token
	}

	var err error
	if cfg.Session, err = applySession(cfg.Session, raw.Session, meta); err != nil {
		return MonctlConfig{}, err
	}

	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = raw.Admin.Token
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CORSOrigins = normalizeList(raw.Admin.CORSOrigins)
	}
	return cfg, nil
}

func applySession(cfg session.Config, raw sessionFile, meta toml.MetaData) (session.Config, error) {
	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := parseDuration(d.src)
		if err != nil {
			return cfg, fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "outgoing_limit") {
		cfg.OutgoingLimit = raw.OutgoingLimit
	}
	if meta.IsDefined("session", "incoming_buffer") {
		cfg.IncomingBuffer = raw.IncomingBuffer
	}
	if meta.IsDefined("session", "security_mode") {
		cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	b := raw.Backoff
	if meta.IsDefined("session", "backoff", "initial_delay") {
		v, err := parseDuration(b.InitialDelay)
		if err != nil {
			return cfg, fmt.Errorf("parse session.backoff.initial_delay: %w", err)
		}
		cfg.Backoff.InitialDelay = v
	}
	if meta.IsDefined("session", "backoff", "max_delay") {
		v, err := parseDuration(b.MaxDelay)
		if err != nil {
			return cfg, fmt.Errorf("parse session.backoff.max_delay: %w", err)
		}
		cfg.Backoff.MaxDelay = v
	}
	if meta.IsDefined("session", "backoff", "multiplier") {
		cfg.Backoff.Multiplier = b.Multiplier
	}
	if meta.IsDefined("session", "backoff", "jitter") {
		cfg.Backoff.Jitter = b.Jitter
	}

	t := raw.TLS
	if meta.IsDefined("session", "tls", "enabled") {
		cfg.TLS.Enabled = t.Enabled
	}
	if meta.IsDefined("session", "tls", "mutual") {
		cfg.TLS.Mutual = t.Mutual
	}
	if meta.IsDefined("session", "tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = t.InsecureSkipVerify
	}
	if meta.IsDefined("session", "tls", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(t.CertFile)
	}
	if meta.IsDefined("session", "tls", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(t.KeyFile)
	}
	if meta.IsDefined("session", "tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(t.CAFile)
	}
	if meta.IsDefined("session", "tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(t.ServerName)
	}
	return cfg, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
