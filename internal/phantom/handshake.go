package phantom

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"

	clierr "github.com/ggonzalez94/dexswap/internal/errors"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// KeyPair is a per-session x25519 box key pair.
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeyPair returns a fresh key pair read from r, or crypto/rand when r is nil.
func GenerateKeyPair(r io.Reader) (KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return KeyPair{}, clierr.Wrap(clierr.CodeInternal, "generate handshake key pair", err)
	}
	return KeyPair{Public: *pub, Secret: *priv}, nil
}

// SharedSecret derives the box shared key between our secret and the wallet's public key.
func SharedSecret(walletPublicKey string, secret *[KeySize]byte) ([KeySize]byte, error) {
	peer, err := decodeFixed(walletPublicKey, KeySize, "phantom_encryption_public_key")
	if err != nil {
		return [KeySize]byte{}, err
	}
	var peerKey, shared [KeySize]byte
	copy(peerKey[:], peer)
	box.Precompute(&shared, &peerKey, secret)
	return shared, nil
}

// Encrypt seals payload as JSON under shared with a fresh random nonce. Both results are
// base58 encoded.
func Encrypt(payload any, shared *[KeySize]byte) (nonce string, data string, err error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", "", clierr.Wrap(clierr.CodeInternal, "encode phantom payload", err)
	}
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return "", "", clierr.Wrap(clierr.CodeInternal, "generate phantom nonce", err)
	}
	sealed := box.SealAfterPrecomputation(nil, plain, &n, shared)
	return base58.Encode(n[:]), base58.Encode(sealed), nil
}

// Decrypt opens a base58 ciphertext under shared and decodes the JSON body into out. Any
// authentication failure is reported as DecryptionFailed.
func Decrypt(data, nonce string, shared *[KeySize]byte, out any) error {
	rawNonce, err := decodeFixed(nonce, NonceSize, "nonce")
	if err != nil {
		return err
	}
	sealed, err := base58.Decode(data)
	if err != nil || len(sealed) < box.Overhead {
		return clierr.New(clierr.CodeDecryptionFailed, "phantom payload is not valid base58 ciphertext")
	}
	var n [NonceSize]byte
	copy(n[:], rawNonce)
	plain, ok := box.OpenAfterPrecomputation(nil, sealed, &n, shared)
	if !ok {
		return clierr.New(clierr.CodeDecryptionFailed, "failed to decrypt phantom payload")
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return clierr.Wrap(clierr.CodeDecryptionFailed, "phantom payload is not JSON", err)
	}
	return nil
}

// EncodeKey renders a key for a deep-link query.
func EncodeKey(k [KeySize]byte) string {
	return base58.Encode(k[:])
}

func decodeFixed(v string, size int, field string) ([]byte, error) {
	raw, err := base58.Decode(v)
	if err != nil || len(raw) != size {
		return nil, clierr.New(clierr.CodeDecryptionFailed, fmt.Sprintf("phantom field %q is not a valid %d-byte base58 value", field, size))
	}
	return raw, nil
}
