package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode     = errors.New("session: invalid security mode")
	ErrTLSRequired             = errors.New("session: tls required")
	ErrMTLSRequired            = errors.New("session: mtls required")
	ErrTLSCertFileRequired     = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("session: tls key file required")
	ErrTLSCAFileRequired       = errors.New("session: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("session: insecure skip verify not allowed")
	ErrInvalidTimeout          = errors.New("session: invalid timeout")
)

type transportSide int

const (
	sideClient transportSide = iota
	sideServer
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// Validate checks the settings that do not depend on which side dials.
func (c Config) Validate() error {
	if c.ConnectTimeout < 0 || c.HandshakeTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: backoff initial delay exceeds max delay", ErrInvalidTimeout)
	}
	return nil
}

// ValidateClientTransport checks the policy for the dialing side (Connect).
func (c Config) ValidateClientTransport() error {
	return c.validateTransport(sideClient)
}

// ValidateServerTransport checks the policy for the listening side (Accept).
func (c Config) ValidateServerTransport() error {
	return c.validateTransport(sideServer)
}

func (c Config) validateTransport(side transportSide) error {
	if err := c.Validate(); err != nil {
		return err
	}
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}

	tlsCfg := c.TLS
	if mode == SecurityModeProduction {
		if !tlsCfg.Enabled {
			return ErrTLSRequired
		}
		if !tlsCfg.Mutual {
			return ErrMTLSRequired
		}
		if side == sideClient && tlsCfg.InsecureSkipVerify {
			return ErrTLSInsecureSkipNotAllow
		}
	}
	if tlsCfg.Mutual && !tlsCfg.Enabled {
		return ErrTLSRequired
	}
	if !tlsCfg.Enabled {
		return nil
	}

	// A listener always presents a certificate; a dialer only does so for mTLS.
	needsKeyPair := side == sideServer || tlsCfg.Mutual
	// A dialer verifies the server unless told not to; a listener only verifies mTLS peers.
	needsCA := tlsCfg.Mutual || (side == sideClient && !tlsCfg.InsecureSkipVerify)

	if side == sideClient && needsCA && blank(tlsCfg.CAFile) {
		return ErrTLSCAFileRequired
	}
	if needsKeyPair {
		if blank(tlsCfg.CertFile) {
			return ErrTLSCertFileRequired
		}
		if blank(tlsCfg.KeyFile) {
			return ErrTLSKeyFileRequired
		}
	}
	if side == sideServer && needsCA && blank(tlsCfg.CAFile) {
		return ErrTLSCAFileRequired
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
