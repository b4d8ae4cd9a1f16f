package tlsx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/pkg/errors"
)

var (
	// ErrCertificateNotSpecified indicates an empty certificate path.
	ErrCertificateNotSpecified = errors.New("ssl certificate is not specified")

	// ErrCertificateNotFound indicates the certificate file does not exist.
	ErrCertificateNotFound = errors.New("ssl certificate doesn't exist")

	// ErrCertificateInvalid indicates the certificate cannot be used.
	ErrCertificateInvalid = errors.New("could not use ssl certificate")

	// ErrPrivateKeyInvalid indicates the private key cannot be used.
	ErrPrivateKeyInvalid = errors.New("could not use ssl private key")

	// ErrPrivateKeyMismatch indicates the key does not match the certificate.
	ErrPrivateKeyMismatch = errors.New("could not verify ssl private key")
)

// configError marks err as a configuration failure while keeping the
// specific cause reachable through errors.Is.
type configError struct {
	cause error
}

func (e *configError) Error() string {
	return e.cause.Error()
}

func (e *configError) Unwrap() []error {
	return []error{e.cause, sslerror.ErrConfigurationFailure}
}

func fail(cause error, format string, args ...interface{}) error {
	return &configError{cause: errors.Wrapf(cause, format, args...)}
}

// LoadKeyPair loads a certificate and its private key from a single PEM
// file. The checks run in order and the first failure aborts: the path
// must not be empty, the file must exist, the certificate must load, the
// key must load and the key must match the certificate.
func LoadKeyPair(path string) (tls.Certificate, error) {
	certBlock, keyBlock, err := readBlocks(path)
	if err != nil {
		return tls.Certificate{}, err
	}
	if keyBlock == nil {
		return tls.Certificate{}, fail(ErrPrivateKeyInvalid, "%s: no private key block", path)
	}
	if _, err := parsePrivateKey(keyBlock.Bytes); err != nil {
		return tls.Certificate{}, fail(ErrPrivateKeyInvalid, "%s: %s", path, err)
	}
	cert, err := tls.X509KeyPair(pem.EncodeToMemory(certBlock), pem.EncodeToMemory(keyBlock))
	if err != nil {
		return tls.Certificate{}, fail(ErrPrivateKeyMismatch, "%s: %s", path, err)
	}
	return cert, nil
}

// LoadCertificate loads the first certificate of a PEM file. The file
// may also contain a private key, which is ignored.
func LoadCertificate(path string) (*x509.Certificate, error) {
	certBlock, _, err := readBlocks(path)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(certBlock.Bytes)
}

// readBlocks returns the first certificate block, which is valid, and
// the first other block of the PEM file at path.
func readBlocks(path string) (certBlock, keyBlock *pem.Block, err error) {
	if path == "" {
		return nil, nil, &configError{cause: ErrCertificateNotSpecified}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fail(ErrCertificateNotFound, "%s: %s", path, err)
	}
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch {
		case block.Type == "CERTIFICATE" && certBlock == nil:
			certBlock = block
		case block.Type != "CERTIFICATE" && keyBlock == nil:
			keyBlock = block
		}
	}
	if certBlock == nil {
		return nil, nil, fail(ErrCertificateInvalid, "%s: no certificate block", path)
	}
	if _, err := x509.ParseCertificate(certBlock.Bytes); err != nil {
		return nil, nil, fail(ErrCertificateInvalid, "%s: %s", path, err)
	}
	return certBlock, keyBlock, nil
}

func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return key, nil
		default:
			return nil, errors.New("unknown private key type in PKCS#8 wrapping")
		}
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}
