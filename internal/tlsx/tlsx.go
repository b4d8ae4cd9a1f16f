// Package tlsx contains crypto/tls extensions
package tlsx

import (
	"crypto/tls"
	"fmt"
)

var tlsVersionString = map[uint16]string{
	tls.VersionTLS10: "TLSv1",
	tls.VersionTLS11: "TLSv1.1",
	tls.VersionTLS12: "TLSv1.2",
	tls.VersionTLS13: "TLSv1.3",
	0:                "", // guarantee correct behaviour
}

// VersionString returns a TLS version string. If value is zero, we
// return the empty string. If the value is unknown, we return
// `TLS_VERSION_UNKNOWN_ddd` where `ddd` is the numeric value.
func VersionString(value uint16) string {
	if str, found := tlsVersionString[value]; found {
		return str
	}
	return fmt.Sprintf("TLS_VERSION_UNKNOWN_%d", value)
}

// CipherSuiteString returns the TLS cipher suite as a string. If value
// is zero, we return the empty string.
func CipherSuiteString(value uint16) string {
	if value == 0 {
		return ""
	}
	return tls.CipherSuiteName(value)
}

// CipherDescription returns a one line description of the negotiated
// cipher, or the empty string if the handshake did not complete.
func CipherDescription(state tls.ConnectionState) string {
	if !state.HandshakeComplete {
		return ""
	}
	return fmt.Sprintf("%s %s", CipherSuiteString(state.CipherSuite),
		VersionString(state.Version))
}
