// Package tlsenv builds client TLS settings from <PREFIX>_TLS_* variables, so
// Redis and NATS are configured the same way.
package tlsenv

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// Files names the TLS inputs for one backend.
type Files struct {
	CA         string
	Cert       string
	Key        string
	ServerName string
	Insecure   bool
}

// FromEnv reads <prefix>_TLS_CA, _CERT, _KEY, _SERVER_NAME and _INSECURE.
func FromEnv(prefix string) Files {
	get := func(suffix string) string {
		return strings.TrimSpace(os.Getenv(prefix + "_TLS_" + suffix))
	}
	return Files{
		CA:         get("CA"),
		Cert:       get("CERT"),
		Key:        get("KEY"),
		ServerName: get("SERVER_NAME"),
		Insecure:   Enabled(get("INSECURE")),
	}
}

// Empty reports whether nothing was configured.
func (f Files) Empty() bool {
	return f.CA == "" && f.Cert == "" && f.Key == "" && f.ServerName == "" && !f.Insecure
}

// Config layers the files over base. It returns base unchanged when nothing is set.
func (f Files) Config(base *tls.Config) (*tls.Config, error) {
	if f.Empty() {
		return base, nil
	}
	if (f.Cert == "") != (f.Key == "") {
		return nil, fmt.Errorf("tls cert and key must be set together")
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if base != nil {
		cfg = base.Clone()
	}
	if f.ServerName != "" {
		cfg.ServerName = f.ServerName
	}
	if f.Insecure {
		// #nosec G402 -- operator opt-in for self-signed dev clusters.
		cfg.InsecureSkipVerify = true
	}
	if f.CA != "" {
		// #nosec G304 -- CA path is operator-provided.
		pem, err := os.ReadFile(f.CA)
		if err != nil {
			return nil, fmt.Errorf("read tls ca: %w", err)
		}
		if cfg.RootCAs == nil {
			cfg.RootCAs = x509.NewCertPool()
		}
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls ca %s contains no certificates", f.CA)
		}
	}
	if f.Cert != "" {
		cert, err := tls.LoadX509KeyPair(f.Cert, f.Key)
		if err != nil {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Enabled parses the boolean spellings accepted in env flags.
func Enabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
