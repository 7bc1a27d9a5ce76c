/*
Package cipher wraps credentials in AES-256-CBC before they leave the server
as cookie values, and unwraps them on the way back in.

Two IV strategies exist. IVStatic uses the configured IV for every value and is
wire-compatible with cookies issued by earlier deployments. IVRandom draws a
fresh IV per value and prefixes it to the ciphertext.
*/
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// IVMode selects how the initialization vector is chosen.
type IVMode string

const (
	IVStatic IVMode = "static"
	IVRandom IVMode = "random"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var ErrMalformed = errors.New("malformed wrapped value")

// Cipher wraps and unwraps opaque credential strings.
type Cipher struct {
	block stdcipher.Block
	iv    []byte
	mode  IVMode
}

// New builds a Cipher from a 32-byte key. iv must be one AES block long in
// IVStatic mode and is ignored in IVRandom mode.
func New(key, iv []byte, mode IVMode) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}

	switch mode {
	case IVStatic:
		if len(iv) != aes.BlockSize {
			return nil, fmt.Errorf("cipher iv must be %d bytes, got %d", aes.BlockSize, len(iv))
		}
	case IVRandom:
	default:
		return nil, fmt.Errorf("unknown iv mode %q", mode)
	}

	return &Cipher{block: block, iv: bytes.Clone(iv), mode: mode}, nil
}

// DecodeSecret accepts either raw bytes of the wanted size or their hex encoding.
func DecodeSecret(value string, size int) ([]byte, error) {
	if len(value) == size {
		return []byte(value), nil
	}
	if len(value) == 2*size {
		decoded, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decode hex secret: %w", err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("secret must be %d raw bytes or %d hex chars, got %d chars", size, 2*size, len(value))
}

// Wrap encrypts plain and returns lowercase hex.
func (c *Cipher) Wrap(plain string) (string, error) {
	iv := c.iv
	if c.mode == IVRandom {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return "", fmt.Errorf("read random iv: %w", err)
		}
	}

	padded := pad([]byte(plain))
	out := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	if c.mode == IVRandom {
		out = append(iv, out...)
	}

	return hex.EncodeToString(out), nil
}

// Unwrap reverses Wrap. Any tampering or format error yields ErrMalformed.
func (c *Cipher) Unwrap(opaque string) (string, error) {
	data, err := hex.DecodeString(opaque)
	if err != nil {
		return "", ErrMalformed
	}

	iv := c.iv
	if c.mode == IVRandom {
		if len(data) < aes.BlockSize {
			return "", ErrMalformed
		}
		iv, data = data[:aes.BlockSize], data[aes.BlockSize:]
	}

	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	out := make([]byte, len(data))
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, data)

	plain, err := unpad(out)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

// pad applies PKCS#7 padding to a whole number of AES blocks.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformed
	}

	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrMalformed
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrMalformed
		}
	}

	return b[:len(b)-n], nil
}
