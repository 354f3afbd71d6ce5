// Package identity handles the node keypair and the peer identity grammar.
// A peer identity is the lowercase hex SHA-256 of an ed25519 public key,
// 64 hex characters, stored canonically lowercase everywhere.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/drift-im/drift/internal/fault"
)

var idRegexp = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Normalize lowercases an identity string. It does not validate.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Canonical normalizes id and validates it against the identity grammar.
func Canonical(id string) (string, error) {
	n := Normalize(id)
	if !idRegexp.MatchString(n) {
		return "", fault.ErrInvalidIdentity
	}
	return n, nil
}

// Valid reports whether id normalizes to a well-formed identity.
func Valid(id string) bool {
	_, err := Canonical(id)
	return err == nil
}

// Key is the node's long-lived signing keypair.
type Key struct {
	priv ed25519.PrivateKey
}

// ID returns the node's public identity string.
func (k *Key) ID() string {
	sum := sha256.Sum256(k.priv.Public().(ed25519.PublicKey))
	return hex.EncodeToString(sum[:])
}

// Public returns the raw public key bytes.
func (k *Key) Public() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Sign signs msg with the node key.
func (k *Key) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// LoadOrCreate reads the keyfile at path, generating and persisting a new
// keypair on first run.
func LoadOrCreate(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("corrupt key file %s", path)
		}
		return &Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := hex.EncodeToString(priv.Seed())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return &Key{priv: priv}, nil
}
