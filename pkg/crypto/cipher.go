// Package crypto implements the lair's symmetric transport encryption:
// AES-256-CBC with PKCS#7 padding and base64 framing. The key is the
// SHA-256 digest of a shared passphrase, derived once per Cipher.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the size of the AES-256 key derived from the passphrase
	KeySize = 32

	// BlockSize is the AES block size, which is also the IV length
	BlockSize = aes.BlockSize

	// DefaultPassphrase is the room passphrase used when none is configured
	DefaultPassphrase = "BewareTheBlackGuardian"
)

var (
	ErrMalformedFrame       = errors.New("frame is not valid base64")
	ErrCiphertextTooShort   = errors.New("ciphertext shorter than IV plus one block")
	ErrCiphertextNotAligned = errors.New("ciphertext not a multiple of the block size")
	ErrInvalidPadding       = errors.New("invalid padding")
)

// DeriveKey hashes a passphrase into an AES-256 key.
func DeriveKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Cipher encrypts plaintext messages into self-contained wire frames and
// back. It holds no per-connection state and is safe for concurrent use
// from multiple sessions.
type Cipher struct {
	key []byte
}

// NewCipher derives the symmetric key from passphrase and returns a Cipher
// ready for use. Key derivation happens here, never per message.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{key: DeriveKey(passphrase)}
}

// Encrypt pads the UTF-8 plaintext with PKCS#7, encrypts it under a fresh
// random IV, and returns the wire frame: base64(IV || ciphertext). Every
// call draws a new IV from crypto/rand.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	padded := pad([]byte(plaintext))

	iv := make([]byte, BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	raw := make([]byte, 0, BlockSize+len(ciphertext))
	raw = append(raw, iv...)
	raw = append(raw, ciphertext...)

	frame := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(frame, raw)
	return frame, nil
}

// Decrypt reverses Encrypt: base64-decode, split off the IV, CBC-decrypt,
// strip the padding. Malformed input of any kind returns an error value;
// network garbage must never crash the caller.
func (c *Cipher) Decrypt(frame []byte) (string, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(raw, frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	raw = raw[:n]

	if len(raw) < 2*BlockSize {
		return "", ErrCiphertextTooShort
	}
	iv, ciphertext := raw[:BlockSize], raw[BlockSize:]
	if len(ciphertext)%BlockSize != 0 {
		return "", ErrCiphertextNotAligned
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// pad appends PKCS#7 padding. Plaintext that already fills a block gets a
// full block of padding, so the empty string pads to one block.
func pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
