// Package signing binds a ticket id to the process-wide signing secret
// with HMAC-SHA256. Signatures are deterministic so a lost QR code can be
// regenerated from the ticket id alone; nothing here is persisted.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// MinSecretLen is the shortest secret accepted at startup.
const MinSecretLen = 32

var ErrInvalidKey = errors.New("signing: invalid key")

// Key is one signing secret. String never reveals the secret.
type Key []byte

func (Key) String() string { return "signing.Key(redacted)" }

// Signer signs with the current key. Retired keys are only accepted by
// Verify, which lets a rotated secret coexist with tickets already issued.
type Signer struct {
	current Key
	retired []Key
}

func New(current Key, retired ...Key) (*Signer, error) {
	if err := checkKey(current); err != nil {
		return nil, errors.Wrap(err, "current key")
	}
	s := &Signer{current: clone(current)}
	for i, k := range retired {
		if err := checkKey(k); err != nil {
			return nil, errors.Wrapf(err, "retired key %d", i)
		}
		s.retired = append(s.retired, clone(k))
	}
	return s, nil
}

func checkKey(k Key) error {
	if len(k) < MinSecretLen {
		return errors.Wrapf(ErrInvalidKey, "secret must be at least %d bytes", MinSecretLen)
	}
	return nil
}

func clone(k Key) Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// Sign returns the hex-encoded MAC of ticketID under the current key.
func (s *Signer) Sign(ticketID string) string {
	return hex.EncodeToString(mac(s.current, ticketID))
}

// Verify reports whether signature is a valid MAC of ticketID under the
// current or any retired key. Malformed input yields false.
func (s *Signer) Verify(ticketID, signature string) bool {
	if ticketID == "" || len(signature) != hex.EncodedLen(sha256.Size) {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	ok := hmac.Equal(got, mac(s.current, ticketID))
	// Every key is checked so the time taken does not depend on which matched.
	for _, k := range s.retired {
		if hmac.Equal(got, mac(k, ticketID)) {
			ok = true
		}
	}
	return ok
}

func mac(key Key, ticketID string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(ticketID))
	return h.Sum(nil)
}
