package config

import (
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
)

// fileConfig mirrors the TOML layout; durations are Go duration strings.
type fileConfig struct {
	Name            string      `toml:"name"`
	Mode            string      `toml:"mode"`
	Address         string      `toml:"address"`
	Transport       string      `toml:"transport"`
	ConnectAttempts int         `toml:"connect_attempts"`
	Echo            bool        `toml:"echo"`
	Token           string      `toml:"token"`
	Session         sessionFile `toml:"session"`
	Admin           adminFile   `toml:"admin"`
}

type sessionFile struct {
	ConnectTimeout   string      `toml:"connect_timeout"`
	HandshakeTimeout string      `toml:"handshake_timeout"`
	ReadTimeout      string      `toml:"read_timeout"`
	WriteTimeout     string      `toml:"write_timeout"`
	OutgoingLimit    int         `toml:"outgoing_limit"`
	IncomingBuffer   int         `toml:"incoming_buffer"`
	SecurityMode     string      `toml:"security_mode"`
	Backoff          backoffFile `toml:"backoff"`
	TLS              tlsFile     `toml:"tls"`
}

type backoffFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
}

type adminFile struct {
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CORSOrigins []string `toml:"cors_origins"`
}

func toFile(cfg MonctlConfig) fileConfig {
	return fileConfig{
		Name:            cfg.Name,
		Mode:            cfg.Mode,
		Address:         cfg.Address,
		Transport:       cfg.Transport,
		ConnectAttempts: cfg.ConnectAttempts,
		Echo:            cfg.Echo,
		Token:           cfg.Token,
		Session:         sessionToFile(cfg.Session),
		Admin: adminFile{
			Addr:        cfg.Admin.Addr,
			Token:       cfg.Admin.Token,
			CORSOrigins: cfg.Admin.CORSOrigins,
		},
	}
}

func sessionToFile(s session.Config) sessionFile {
	return sessionFile{
		ConnectTimeout:   formatDuration(s.ConnectTimeout),
		HandshakeTimeout: formatDuration(s.HandshakeTimeout),
		ReadTimeout:      formatDuration(s.ReadTimeout),
		WriteTimeout:     formatDuration(s.WriteTimeout),
		OutgoingLimit:    s.OutgoingLimit,
		IncomingBuffer:   s.IncomingBuffer,
		SecurityMode:     string(s.SecurityMode),
		Backoff: backoffFile{
			InitialDelay: formatDuration(s.Backoff.InitialDelay),
			Multiplier:   s.Backoff.Multiplier,
			MaxDelay:     formatDuration(s.Backoff.MaxDelay),
			Jitter:       s.Backoff.Jitter,
		},
		TLS: tlsFile{
			Enabled:            s.TLS.Enabled,
			Mutual:             s.TLS.Mutual,
			InsecureSkipVerify: s.TLS.InsecureSkipVerify,
			CertFile:           s.TLS.CertFile,
			KeyFile:            s.TLS.KeyFile,
			CAFile:             s.TLS.CAFile,
			ServerName:         s.TLS.ServerName,
		},
	}
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}
