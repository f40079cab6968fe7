// Package sig implements detached and clear-signed OpenPGP verification
// over APT's InRelease/Release roots, using golang.org/x/crypto/openpgp.
package sig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
)

// ErrNoMatchingKey means none of the configured public keys could verify
// the signature.
var ErrNoMatchingKey = errors.New("sig: no configured key matches signature")

// KeyRing holds the repository's configured OpenPGP public keys.
type KeyRing struct {
	entities openpgp.EntityList
}

// ParseKeyRing parses one or more armored public keys, as configured on
// a repository's optional set of OpenPGP public keys.
func ParseKeyRing(armoredKeys []string) (*KeyRing, error) {
	var entities openpgp.EntityList
	for i, armored := range armoredKeys {
		block, err := armor.Decode(bytes.NewReader([]byte(armored)))
		if err != nil {
			return nil, fmt.Errorf("decode armored key %d: %w", i, err)
		}
		ents, err := openpgp.ReadKeyRing(block.Body)
		if err != nil {
			return nil, fmt.Errorf("parse key %d: %w", i, err)
		}
		entities = append(entities, ents...)
	}
	return &KeyRing{entities: entities}, nil
}

// Verifier checks index roots against a repository's configured KeyRing.
// When no public key is configured, no Verifier is constructed and the
// APT parser skips verification entirely (apt.Options.Verifier is nil).
type Verifier struct {
	keyring *KeyRing
	logger  *slog.Logger
}

// New creates a Verifier bound to keyring. logger defaults to
// slog.Default() if nil.
func New(keyring *KeyRing, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{keyring: keyring, logger: logger}
}

// VerifyDetached checks signature as a detached OpenPGP signature over
// signedContent, the APT Release+Release.gpg case.
func (v *Verifier) VerifyDetached(signedContent, signature []byte) error {
	signer, err := openpgp.CheckDetachedSignature(v.keyring.entities, bytes.NewReader(signedContent), bytes.NewReader(signature))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
	}
	if Expired(signer) {
		v.logger.Warn("signing key has expired", "key_id", signer.PrimaryKey.KeyIdString())
	}
	return nil
}

// VerifyClearSigned checks a clear-signed block (the APT InRelease case)
// and returns the embedded plaintext that the Index Parser should parse
// in place of a separate Release file.
func (v *Verifier) VerifyClearSigned(data []byte) ([]byte, error) {
	block, _ := clearsign.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("sig: not a clearsigned message")
	}
	signer, err := openpgp.CheckDetachedSignature(v.keyring.entities, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingKey, err)
	}
	if Expired(signer) {
		v.logger.Warn("signing key has expired", "key_id", signer.PrimaryKey.KeyIdString())
	}
	return block.Plaintext, nil
}

// Expired reports whether signer's key has passed its self-signed
// expiry. Expiry is logged by the caller but never fails verification
// on its own, so this is advisory only.
func Expired(signer *openpgp.Entity) bool {
	if signer == nil || signer.PrimaryKey == nil {
		return false
	}
	for _, ident := range signer.Identities {
		if ident.SelfSignature == nil || ident.SelfSignature.KeyLifetimeSecs == nil {
			continue
		}
		expiry := signer.PrimaryKey.CreationTime.Add(time.Duration(*ident.SelfSignature.KeyLifetimeSecs) * time.Second)
		if time.Now().After(expiry) {
			return true
		}
	}
	return false
}
