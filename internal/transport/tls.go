package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/danmuck/monproto/internal/protocol/session"
)

// ClientTLSConfig builds the dialing side's TLS settings. ServerName defaults to
// the host part of address.
func ClientTLSConfig(cfg session.Config, address string) (*tls.Config, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	tc := cfg.TLS
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: tc.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(tc.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("transport: tls server name: %w", err)
		}
		serverName = host
	}
	out.ServerName = serverName

	if caPath := strings.TrimSpace(tc.CAFile); caPath != "" {
		pool, err := loadPool(caPath)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	if tc.Mutual {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: load client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// ServerTLSConfig builds the accepting side's TLS settings. Production mode and
// mutual TLS both require a verified client certificate.
func ServerTLSConfig(cfg session.Config) (*tls.Config, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	tc := cfg.TLS
	cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load server key pair: %w", err)
	}
	out := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}

	mode := session.NormalizeSecurityMode(cfg.SecurityMode)
	if tc.Mutual || mode == session.SecurityModeProduction {
		pool, err := loadPool(tc.CAFile)
		if err != nil {
			return nil, err
		}
		out.ClientAuth = tls.RequireAndVerifyClientCert
		out.ClientCAs = pool
	}
	return out, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("transport: parse tls ca bundle: %s", path)
	}
	return pool, nil
}

// PeerIdentity names the verified peer of a TLS connection using the
// certificate's CN, then URI, then DNS SAN. It is empty for plain connections.
func PeerIdentity(conn net.Conn) string {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return identityFromCert(state.PeerCertificates[0])
}

func identityFromCert(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	if v := strings.TrimSpace(cert.Subject.CommonName); v != "" {
		return v
	}
	if len(cert.URIs) > 0 {
		if v := strings.TrimSpace(cert.URIs[0].String()); v != "" {
			return v
		}
	}
	if len(cert.DNSNames) > 0 {
		return strings.TrimSpace(cert.DNSNames[0])
	}
	return ""
}
