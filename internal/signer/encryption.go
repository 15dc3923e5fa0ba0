package signer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the length of the Argon2id salt.
const SaltSize = 32

// Sealed format: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext.
// The header before the nonce is authenticated as additional data.
const headerSize = SaltSize + 4 + 4 + 1

// ErrDecrypt is returned for a wrong password or tampered data.
var ErrDecrypt = errors.New("decryption failed")

// KDFParams holds Argon2id parameters.
type KDFParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the Argon2id parameters used for new secret stores.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

func deriveKey(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts data with a password using Argon2id and XChaCha20-Poly1305.
func Seal(data, password []byte, p KDFParams) ([]byte, error) {
	header := make([]byte, SaltSize, headerSize)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	header = binary.LittleEndian.AppendUint32(header, p.Memory)
	header = binary.LittleEndian.AppendUint32(header, p.Iterations)
	header = append(header, p.Parallelism)

	key := deriveKey(password, header[:SaltSize], p)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := append(header, nonce...)
	return aead.Seal(out, nonce, data, header), nil
}

// Open decrypts data produced by Seal.
func Open(sealed, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if need := headerSize + nonceSize + chacha20poly1305.Overhead; len(sealed) < need {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrDecrypt, len(sealed), need)
	}
	header := sealed[:headerSize]
	p := KDFParams{
		Memory:      binary.LittleEndian.Uint32(header[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[SaltSize+4:]),
		Parallelism: header[SaltSize+8],
	}
	if p.Iterations == 0 || p.Parallelism == 0 {
		return nil, fmt.Errorf("%w: bad kdf parameters", ErrDecrypt)
	}

	key := deriveKey(password, header[:SaltSize], p)
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := sealed[headerSize : headerSize+nonceSize]
	plain, err := aead.Open(nil, nonce, sealed[headerSize+nonceSize:], header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
