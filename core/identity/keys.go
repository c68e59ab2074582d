package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeyPair holds an ed25519 signing key.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyID is the hex sha256 of the public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// EncodeKey renders raw key bytes as standard base64.
func EncodeKey(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// LoadPrivateKey accepts inline base64 or a path to a file holding it.
func LoadPrivateKey(source string) (ed25519.PrivateKey, error) {
	encoded, err := readKeySource(source)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if l := len(raw); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d", l)
	}
	return ed25519.PrivateKey(raw), nil
}

// LoadPublicKey accepts inline base64 or a path to a file holding it.
func LoadPublicKey(source string) (ed25519.PublicKey, error) {
	encoded, err := readKeySource(source)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if l := len(raw); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", l)
	}
	return ed25519.PublicKey(raw), nil
}

func readKeySource(source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("key not configured")
	}
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		// #nosec G304 -- key path is operator-provided.
		data, err := os.ReadFile(source)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return source, nil
}
