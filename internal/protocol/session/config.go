package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig describes transport encryption for both dial and accept sides.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
}

// Config defines session and transport reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds one idle read; zero leaves reads unbounded since monitor
	// peers may stay silent between events.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OutgoingLimit  int
	IncomingBuffer int
	Backoff        BackoffConfig
	SecurityMode   SecurityMode
	TLS            TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     15 * time.Second,
		OutgoingLimit:    0,
		IncomingBuffer:   64,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout < 0 {
		c.ReadTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.OutgoingLimit < 0 {
		c.OutgoingLimit = 0
	}
	if c.IncomingBuffer <= 0 {
		c.IncomingBuffer = def.IncomingBuffer
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
