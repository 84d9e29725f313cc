package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte("SQLite format 3\x00 withdrawal ledger")

	sealed, err := Seal(plain, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("withdrawal ledger")) {
		t.Error("sealed archive contains plaintext")
	}
	if len(sealed) != saltSize+nonceSize+len(plain)+16 {
		t.Errorf("sealed len = %d, want %d", len(sealed), saltSize+nonceSize+len(plain)+16)
	}

	got, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("open = %q, want %q", got, plain)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, _ := Seal([]byte("same"), "pass")
	b, _ := Seal([]byte("same"), "pass")
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("expected a different salt per archive")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, _ := Seal([]byte("data"), "right")
	if _, err := Open(sealed, "wrong"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("open = %v, want ErrDecrypt", err)
	}
}

func TestOpenTruncated(t *testing.T) {
	if _, err := Open([]byte("short"), "pass"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("open = %v, want ErrDecrypt", err)
	}

	sealed, _ := Seal([]byte("data"), "pass")
	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(sealed, "pass"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("open tampered = %v, want ErrDecrypt", err)
	}
}
