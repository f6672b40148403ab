package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNoCertsFound is returned when PEM data holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

var certExts = []string{".pem", ".crt", ".cer"}

// Pool is a set of trusted roots that counts what was added to it.
type Pool struct {
	roots *x509.CertPool
	added int
}

// NewPool starts from the system roots when they are available.
func NewPool() *Pool {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}
	return &Pool{roots: roots}
}

func NewEmptyPool() *Pool {
	return &Pool{roots: x509.NewCertPool()}
}

// LoadFile returns a pool holding only the certificates in path.
func LoadFile(path string) (*Pool, error) {
	p := NewEmptyPool()
	if err := p.AddCertFile(path); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if err := p.AddCertPEM(data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AddCertPEM adds every CERTIFICATE block in data and skips other block
// types. A block that fails to parse aborts the call.
func (p *Pool) AddCertPEM(data []byte) error {
	var certs []*x509.Certificate
	for rest := data; ; {
		var block *pem.Block
		if block, rest = pem.Decode(rest); block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return ErrNoCertsFound
	}
	for _, c := range certs {
		p.AddCert(c)
	}
	return nil
}

func (p *Pool) AddCert(cert *x509.Certificate) {
	p.roots.AddCert(cert)
	p.added++
}

// AddCertDir loads the certificate files directly under dir and reports
// how many loaded. Files that fail are skipped.
func (p *Pool) AddCertDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(certExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		if p.AddCertFile(filepath.Join(dir, e.Name())) == nil {
			n++
		}
	}
	return n, nil
}

// Added counts certificates added on top of the initial roots.
func (p *Pool) Added() int { return p.added }

func (p *Pool) Pool() *x509.CertPool { return p.roots }

// ClientTLSConfig trusts the pool when dialing a server.
func (p *Pool) ClientTLSConfig() *tls.Config {
	return &tls.Config{RootCAs: p.roots, MinVersion: tls.VersionTLS12}
}

// ServerTLSConfig serves the watcher's current certificate. Non-nil
// clientCAs turns on mutual TLS.
func ServerTLSConfig(w *Watcher, clientCAs *Pool) *tls.Config {
	cfg := &tls.Config{GetCertificate: w.GetCertificate, MinVersion: tls.VersionTLS12}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs.roots
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}
