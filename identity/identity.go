// Package identity implements the 32-byte verifier identifier and the
// ed25519 keypair it is derived from.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Size is the length of a verifier identifier in bytes.
const Size = 32

var ErrInvalidIdentifier = errors.New("identifier must be 32 bytes")

// Identifier is the cryptographic identity of a verifier: its ed25519
// public key.
type Identifier [Size]byte

func FromBytes(b []byte) (Identifier, error) {
	var id Identifier
	if len(b) != Size {
		return id, ErrInvalidIdentifier
	}
	copy(id[:], b)
	return id, nil
}

func FromString(s string) (Identifier, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Identifier{}, err
	}
	return FromBytes(b)
}

func FromStringMustParse(s string) Identifier {
	id, err := FromString(s)
	if err != nil {
		log.Fatalf("Failed to parse identifier: %v", err)
	}
	return id
}

func (id Identifier) Bytes() []byte {
	return id[:]
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the compact form used in log lines.
func (id Identifier) Short() string {
	return fmt.Sprintf("%x...%x", id[:2], id[Size-2:])
}

func (id Identifier) MarshalBinary() ([]byte, error) {
	return id[:], nil
}

func (id *Identifier) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return ErrInvalidIdentifier
	}
	copy(id[:], data)
	return nil
}

// Keypair holds the node's signing key. Only the seed is kept on disk.
type Keypair struct {
	private ed25519.PrivateKey
}

func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{private: priv}, nil
}

func Load(path string) (*Keypair, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity file %s: expected %d byte seed, got %d", path, ed25519.SeedSize, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *Keypair) Save(path string) error {
	log.Infof("Saving identity to %s", path)
	return os.WriteFile(path, k.private.Seed(), 0600)
}

func (k *Keypair) Identifier() Identifier {
	var id Identifier
	copy(id[:], k.private.Public().(ed25519.PublicKey))
	return id
}

func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}
