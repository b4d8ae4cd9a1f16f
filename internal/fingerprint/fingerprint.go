// Package fingerprint implements trust-on-first-use pinning of server
// certificates. A fingerprint is the SHA-1 digest of the DER encoded
// certificate written as colon separated uppercase hex pairs, for
// example `AB:CD:EF:...`. The trust store is a plain text file with
// one fingerprint per line.
package fingerprint

import (
	"bufio"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kvmshare/securesocket/internal/sslerror"
)

const (
	// DirName is the directory, relative to the profile directory,
	// containing the fingerprint files.
	DirName = "SSL/Fingerprints"

	// TrustedServersFilename is the name of the trust store file.
	TrustedServersFilename = "TrustedServers.txt"

	// Size is the size of a raw fingerprint.
	Size = sha1.Size
)

// Compute returns the raw fingerprint of cert.
func Compute(cert *x509.Certificate) ([]byte, error) {
	if cert == nil {
		return nil, sslerror.ErrCertificateAbsent
	}
	if len(cert.Raw) <= 0 {
		return nil, fmt.Errorf("failed to calculate fingerprint: %w", sslerror.ErrCertificateAbsent)
	}
	digest := sha1.Sum(cert.Raw)
	return digest[:], nil
}

// Format returns the canonical representation of a raw fingerprint. It
// takes raw bytes on purpose: an already formatted fingerprint is a string
// and cannot be formatted twice.
func Format(digest []byte) string {
	encoded := strings.ToUpper(hex.EncodeToString(digest))
	var b strings.Builder
	for i := 0; i < len(encoded); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(encoded[i : i+2])
	}
	return b.String()
}

// TrustedServersPath returns the path of the trust store inside profileDir.
func TrustedServersPath(profileDir string) string {
	return filepath.Join(profileDir, filepath.FromSlash(DirName), TrustedServersFilename)
}

// Store is a read-only view of a trust store file. The file is read on
// every lookup so that edits are seen immediately. Lookups do not share
// state and are safe to run concurrently.
type Store struct {
	// Path is the path of the trust store file.
	Path string
}

// NewStore returns the trusted servers store of profileDir.
func NewStore(profileDir string) *Store {
	return &Store{Path: TrustedServersPath(profileDir)}
}

// IsTrusted returns whether fingerprint appears on a line of the trust
// store. A missing or unreadable file means that nobody is trusted yet.
func (s *Store) IsTrusted(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	file, err := os.Open(s.Path)
	if err != nil {
		return false
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.TrimSuffix(scanner.Text(), "\r") == fingerprint {
			return true
		}
	}
	return false
}

// Add appends fingerprint to the trust store, creating it if needed. The
// secure socket never calls this: it is meant for provisioning tools.
func (s *Store) Add(fingerprint string) error {
	if s.IsTrusted(fingerprint) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(file, fingerprint); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
