package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/transport"
)

const (
	ModeConnect = "connect"
	ModeAccept  = "accept"

	TransportJSONL  = "jsonl"
	TransportFramed = "framed"
	TransportWS     = "ws"
)

// MonctlConfig is the runtime configuration of one monctl process.
type MonctlConfig struct {
	Name            string
	Mode            string
	Address         string
	Transport       string
	ConnectAttempts int
	Echo            bool
	// Token is sent as frame auth bytes and required on incoming frames
	// (framed transport only).
	Token   string
	Session session.Config
	Admin   AdminConfig
}

// AdminConfig enables the HTTP admin surface when Addr is set.
type AdminConfig struct {
	Addr        string
	Token       string
	CORSOrigins []string
}

func Default() MonctlConfig {
	return MonctlConfig{
		Name:            "monitor",
		Mode:            ModeConnect,
		Address:         "127.0.0.1:4444",
		Transport:       TransportJSONL,
		ConnectAttempts: 1,
		Session:         session.DefaultConfig(),
		Admin: AdminConfig{
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

func Validate(cfg MonctlConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("monctl config missing name")
	}
	switch cfg.Transport {
	case TransportJSONL, TransportFramed, TransportWS:
	default:
		return fmt.Errorf("monctl config: unknown transport %q", cfg.Transport)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("monctl config missing address")
	}
	if cfg.Transport != TransportWS || cfg.Mode == ModeAccept {
		if _, _, err := transport.ParseAddress(cfg.Address); err != nil {
			return fmt.Errorf("monctl config: %w", err)
		}
	}
	if cfg.ConnectAttempts < 0 {
		return fmt.Errorf("monctl config: connect_attempts must be >= 0")
	}

	var err error
	switch cfg.Mode {
	case ModeConnect:
		err = cfg.Session.ValidateClientTransport()
	case ModeAccept:
		err = cfg.Session.ValidateServerTransport()
	default:
		return fmt.Errorf("monctl config: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return fmt.Errorf("monctl config: session: %w", err)
	}
	return nil
}
