// Package crypto defines the encryption gateway boundary and its default
// password-based AEAD implementation.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/a-morozov/filevault/internal/model"
)

// Gateway failure modes. Wrong password is a caller error; corruption is a
// data-integrity error. Callers must treat the two differently.
var (
	ErrWrongPassword  = errors.New("wrong password")
	ErrCorruptPayload = errors.New("corrupt payload")
)

// Gateway performs cipher operations for file payloads. The lifecycle
// service depends only on this contract, never on a particular cipher.
type Gateway interface {
	// Encrypt seals plaintext under a password-derived key.
	Encrypt(ctx context.Context, plaintext []byte, password string) (*model.Envelope, error)
	// Decrypt opens an envelope. Fails with ErrWrongPassword or ErrCorruptPayload.
	Decrypt(ctx context.Context, env *model.Envelope, password string) ([]byte, error)
}

// Argon2id parameters for the key derivation.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	keyLen       uint32 = 32

	saltLen     = 16
	keyCheckLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// AEADGateway encrypts payloads with XChaCha20-Poly1305 under an Argon2id
// password-derived key. Alongside the ciphertext it stores a key-check tag
// so a wrong password is detected before the AEAD open: a check mismatch is
// a caller error, everything failing past a matching check is corruption.
type AEADGateway struct{}

// NewAEADGateway constructs the default gateway implementation.
func NewAEADGateway() *AEADGateway { return &AEADGateway{} }

// Encrypt derives a key from the password and a fresh salt and seals the
// plaintext with a random nonce.
func (g *AEADGateway) Encrypt(ctx context.Context, plaintext []byte, password string) (*model.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	key := deriveKey([]byte(password), salt)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	check, err := keyCheck(key)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		Salt:       salt,
		Nonce:      nonce,
		KeyCheck:   check,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt re-derives the key from the stored salt and opens the envelope.
func (g *AEADGateway) Decrypt(ctx context.Context, env *model.Envelope, password string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if env == nil || len(env.Salt) != saltLen || len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.KeyCheck) != keyCheckLen {
		return nil, ErrCorruptPayload
	}
	key := deriveKey([]byte(password), env.Salt)
	check, err := keyCheck(key)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(check, env.KeyCheck) != 1 {
		return nil, ErrWrongPassword
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		// The key is known good, so an open failure means the ciphertext changed.
		return nil, ErrCorruptPayload
	}
	return plaintext, nil
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, keyLen)
}

// keyCheck derives a short verifier tag from the key via HKDF-SHA256.
func keyCheck(key []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte("keycheck"))
	out := make([]byte, keyCheckLen)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
