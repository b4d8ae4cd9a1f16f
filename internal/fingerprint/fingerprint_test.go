package fingerprint

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kvmshare/securesocket/internal/sslerror"
	"github.com/kvmshare/securesocket/internal/testingx"
)

func TestCompute(t *testing.T) {
	kp := testingx.NewKeyPair(t, "server")
	digest, err := Compute(kp.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	expected := sha1.Sum(kp.Certificate.Raw)
	if !bytes.Equal(digest, expected[:]) {
		t.Fatal("unexpected digest")
	}
	if len(digest) != Size {
		t.Fatal("unexpected digest size")
	}
}

func TestComputeWithoutCertificate(t *testing.T) {
	if _, err := Compute(nil); !errors.Is(err, sslerror.ErrCertificateAbsent) {
		t.Fatal("expected ErrCertificateAbsent")
	}
	if _, err := Compute(&x509.Certificate{}); !errors.Is(err, sslerror.ErrCertificateAbsent) {
		t.Fatal("expected ErrCertificateAbsent for empty certificate")
	}
}

func TestFormat(t *testing.T) {
	raw := []byte{0xab, 0xcd, 0xef, 0x00, 0x01}
	if got := Format(raw); got != "AB:CD:EF:00:01" {
		t.Fatalf("unexpected format: %s", got)
	}
	if Format(raw) != Format(raw) {
		t.Fatal("format is not deterministic")
	}
	if Format(nil) != "" {
		t.Fatal("expected empty string")
	}
}

func TestFormatCanonicalLength(t *testing.T) {
	kp := testingx.NewKeyPair(t, "server")
	digest, err := Compute(kp.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	formatted := Format(digest)
	if len(formatted) != 59 {
		t.Fatalf("unexpected length: %d", len(formatted))
	}
	if strings.Count(formatted, ":") != 19 {
		t.Fatal("unexpected number of separators")
	}
	if strings.ToUpper(formatted) != formatted {
		t.Fatal("not uppercase")
	}
}

func TestTrustedServersPath(t *testing.T) {
	got := TrustedServersPath("/home/user/.synergy")
	expected := filepath.Join("/home/user/.synergy", "SSL", "Fingerprints", "TrustedServers.txt")
	if got != expected {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestIsTrusted(t *testing.T) {
	dir := t.TempDir()
	first := strings.Repeat("AB:", Size-1) + "AB"
	second := "AB:CD:EF:00" + strings.Repeat(":11", Size-4)
	testingx.WriteFile(t, dir, filepath.Join(DirName, TrustedServersFilename),
		[]byte(first+"\n\n"+second+"\n"))
	store := NewStore(dir)
	if !store.IsTrusted(second) {
		t.Fatal("expected fingerprint to be trusted")
	}
	if !store.IsTrusted(first) {
		t.Fatal("expected first line to be trusted")
	}
	changed := "AB:CD:EF:01" + strings.Repeat(":11", Size-4)
	if store.IsTrusted(changed) {
		t.Fatal("a single differing character must not be trusted")
	}
	if store.IsTrusted("") {
		t.Fatal("the empty fingerprint must never be trusted")
	}
}

func TestIsTrustedExactLines(t *testing.T) {
	dir := t.TempDir()
	padded := strings.Repeat("12:", Size-1) + "12"
	crlf := strings.Repeat("34:", Size-1) + "34"
	testingx.WriteFile(t, dir, filepath.Join(DirName, TrustedServersFilename),
		[]byte(" "+padded+"\n"+crlf+"\r\n"))
	store := NewStore(dir)
	if store.IsTrusted(padded) {
		t.Fatal("a line with a leading space must not match")
	}
	if !store.IsTrusted(crlf) {
		t.Fatal("CRLF line endings should be accepted")
	}
}

func TestIsTrustedMissingFile(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, fp := range []string{"", "AB:CD", strings.Repeat("00:", Size-1) + "00"} {
		if store.IsTrusted(fp) {
			t.Fatal("nothing should be trusted without a store")
		}
	}
}

func TestAddRoundTrip(t *testing.T) {
	kp := testingx.NewKeyPair(t, "server")
	digest, err := Compute(kp.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	fp := Format(digest)
	store := NewStore(t.TempDir())
	if err := store.Add(fp); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(fp); err != nil {
		t.Fatal(err)
	}
	if !store.IsTrusted(fp) {
		t.Fatal("added fingerprint is not trusted")
	}
	mangled := []byte(fp)
	mangled[0] = 'X'
	if store.IsTrusted(string(mangled)) {
		t.Fatal("mangled fingerprint is trusted")
	}
}

func TestIsTrustedConcurrently(t *testing.T) {
	store := NewStore(t.TempDir())
	fp := strings.Repeat("0F:", Size-1) + "0F"
	if err := store.Add(fp); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !store.IsTrusted(fp) {
				t.Error("expected fingerprint to be trusted")
			}
		}()
	}
	wg.Wait()
}
