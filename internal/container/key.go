package container

import (
	"fmt"
	"strings"

	"filippo.io/age"
)

const identityPrefix = "AGE-SECRET-KEY-1"

// Key holds what is needed to seal and open a container. It is either an
// age X25519 identity or a passphrase.
type Key struct {
	secret    string
	identity  age.Identity
	recipient age.Recipient
}

// ParseKey accepts an "AGE-SECRET-KEY-1..." identity or any other non-empty
// string as a passphrase.
func ParseKey(s string) (*Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}

	if strings.HasPrefix(s, identityPrefix) {
		id, err := age.ParseX25519Identity(s)
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
		return &Key{secret: s, identity: id, recipient: id.Recipient()}, nil
	}

	r, err := age.NewScryptRecipient(s)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase recipient: %w", err)
	}
	id, err := age.NewScryptIdentity(s)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase identity: %w", err)
	}
	return &Key{secret: s, identity: id, recipient: r}, nil
}

// GenerateKey creates a fresh X25519 key for a new container.
func GenerateKey() (*Key, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	return &Key{secret: id.String(), identity: id, recipient: id.Recipient()}, nil
}

// SetWorkFactor sets the scrypt cost (log2 N) used when sealing with a
// passphrase key. No-op for identity keys.
func (k *Key) SetWorkFactor(logN int) {
	if r, ok := k.recipient.(*age.ScryptRecipient); ok {
		r.SetWorkFactor(logN)
	}
}

// IsPassphrase reports whether the key is a passphrase.
func (k *Key) IsPassphrase() bool {
	_, ok := k.recipient.(*age.ScryptRecipient)
	return ok
}

// Secret returns the key text. It must only be shown to the user once,
// when a container is created.
func (k *Key) Secret() string { return k.secret }

// String hides the key material from fmt and loggers.
func (k *Key) String() string {
	if k.IsPassphrase() {
		return "Key(passphrase)"
	}
	return "Key(x25519)"
}
