package sig

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
)

// newTestEntity creates a throwaway OpenPGP key pair and returns both the
// entity (for signing) and its armored public key (the shape a
// repository's configured public_keys entry takes, for ParseKeyRing).
func newTestEntity(t *testing.T) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("reposync test", "", "test@example.com", nil)
	if err != nil {
		t.Fatalf("generate entity: %v", err)
	}
	for _, ident := range entity.Identities {
		if err := ident.SelfSignature.SignUserId(ident.UserId.Id, entity.PrimaryKey, entity.PrivateKey, nil); err != nil {
			t.Fatalf("self-sign identity: %v", err)
		}
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize public key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor writer: %v", err)
	}
	return entity, buf.String()
}

func detachedSign(t *testing.T, entity *openpgp.Entity, content []byte) []byte {
	t.Helper()
	var sigBuf bytes.Buffer
	if err := openpgp.DetachSign(&sigBuf, entity, bytes.NewReader(content), nil); err != nil {
		t.Fatalf("detach sign: %v", err)
	}
	return sigBuf.Bytes()
}

func TestVerifyDetachedSignatureSucceeds(t *testing.T) {
	entity, armoredPub := newTestEntity(t)
	keyring, err := ParseKeyRing([]string{armoredPub})
	if err != nil {
		t.Fatalf("ParseKeyRing: %v", err)
	}

	content := []byte("Origin: Debian\nSuite: bookworm\n")
	signature := detachedSign(t, entity, content)

	v := New(keyring, nil)
	if err := v.VerifyDetached(content, signature); err != nil {
		t.Errorf("VerifyDetached returned error for a valid signature: %v", err)
	}
}

func TestVerifyDetachedSignatureWrongKeyFails(t *testing.T) {
	signer, _ := newTestEntity(t)
	_, otherArmoredPub := newTestEntity(t)
	keyring, err := ParseKeyRing([]string{otherArmoredPub})
	if err != nil {
		t.Fatalf("ParseKeyRing: %v", err)
	}

	content := []byte("Origin: Debian\n")
	signature := detachedSign(t, signer, content)

	v := New(keyring, nil)
	if err := v.VerifyDetached(content, signature); err == nil {
		t.Error("expected verification to fail against a non-matching keyring")
	}
}

func TestVerifyDetachedSignatureTamperedContentFails(t *testing.T) {
	entity, armoredPub := newTestEntity(t)
	keyring, err := ParseKeyRing([]string{armoredPub})
	if err != nil {
		t.Fatalf("ParseKeyRing: %v", err)
	}

	content := []byte("Origin: Debian\n")
	signature := detachedSign(t, entity, content)

	v := New(keyring, nil)
	if err := v.VerifyDetached([]byte("Origin: Evil\n"), signature); err == nil {
		t.Error("expected verification to fail for tampered content")
	}
}

func TestVerifyClearSignedRoundTrip(t *testing.T) {
	entity, armoredPub := newTestEntity(t)
	keyring, err := ParseKeyRing([]string{armoredPub})
	if err != nil {
		t.Fatalf("ParseKeyRing: %v", err)
	}

	plaintext := []byte("Origin: Debian\nSuite: bookworm\nComponents: main\n")
	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, entity.PrivateKey, nil)
	if err != nil {
		t.Fatalf("clearsign encode: %v", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		t.Fatalf("write clearsigned body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close clearsign writer: %v", err)
	}

	v := New(keyring, nil)
	got, err := v.VerifyClearSigned(buf.Bytes())
	if err != nil {
		t.Fatalf("VerifyClearSigned: %v", err)
	}
	if !bytes.Equal(bytes.TrimRight(got, "\n"), bytes.TrimRight(plaintext, "\n")) {
		t.Errorf("recovered plaintext = %q, want %q", got, plaintext)
	}
}

func TestParseKeyRingRejectsGarbage(t *testing.T) {
	if _, err := ParseKeyRing([]string{"not an armored key"}); err == nil {
		t.Error("expected ParseKeyRing to reject non-armored input")
	}
}

func TestExpiredNilSignerIsNotExpired(t *testing.T) {
	if Expired(nil) {
		t.Error("a nil signer must never be reported expired")
	}
}

func TestExpiredKeyWithNoLifetimeIsNotExpired(t *testing.T) {
	entity, _ := newTestEntity(t)
	if Expired(entity) {
		t.Error("a key with no configured lifetime must not be reported expired")
	}
}
