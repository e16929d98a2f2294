// Package cipher implements the symmetric primitive used to seal holder
// bundles. Keys and IVs travel base64-encoded in the holder profile.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	gocipher "crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	dErrors "healthcred/pkg/domain-errors"
)

// Algorithm names a supported symmetric scheme.
type Algorithm string

const (
	AES256CBC        Algorithm = "aes-256-cbc"
	AES256GCM        Algorithm = "aes-256-gcm"
	ChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

// Algorithms lists every supported scheme.
func Algorithms() []Algorithm {
	return []Algorithm{AES256CBC, AES256GCM, ChaCha20Poly1305}
}

// ParseAlgorithm normalizes an algorithm name from a holder profile.
func ParseAlgorithm(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	switch alg {
	case AES256CBC, AES256GCM, ChaCha20Poly1305:
		return alg, nil
	case "":
		return AES256CBC, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported cipher algorithm %q", s))
}

// Key is the symmetric key material owned by a holder profile.
type Key struct {
	Value     string    `json:"value"`
	IV        string    `json:"iv"`
	Algorithm Algorithm `json:"algorithm"`
}

// KeySize returns the key length in bytes and the IV/nonce length for alg.
func KeySize(alg Algorithm) (keyLen, ivLen int) {
	switch alg {
	case AES256GCM:
		return 32, 12
	case ChaCha20Poly1305:
		return chacha20poly1305.KeySize, chacha20poly1305.NonceSize
	default:
		return 32, aes.BlockSize
	}
}

// GenerateKey returns fresh random key material for alg.
func GenerateKey(alg Algorithm) (Key, error) {
	keyLen, ivLen := KeySize(alg)
	buf := make([]byte, keyLen+ivLen)
	if _, err := rand.Read(buf); err != nil {
		return Key{}, fmt.Errorf("generate key material: %w", err)
	}
	return Key{
		Value:     base64.StdEncoding.EncodeToString(buf[:keyLen]),
		IV:        base64.StdEncoding.EncodeToString(buf[keyLen:]),
		Algorithm: alg,
	}, nil
}

// Encrypt seals data under key and returns raw ciphertext.
func Encrypt(data []byte, key Key) ([]byte, error) {
	alg, k, iv, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	switch alg {
	case AES256GCM:
		aead, err := newGCM(k)
		if err != nil {
			return nil, err
		}
		return aead.Seal(nil, iv, data, nil), nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(k)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid chacha20 key")
		}
		return aead.Seal(nil, iv, data, nil), nil
	default:
		block, err := aes.NewCipher(k)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid aes key")
		}
		padded := pkcs7Pad(data, aes.BlockSize)
		out := make([]byte, len(padded))
		gocipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return out, nil
	}
}

// Decrypt opens ciphertext produced by Encrypt. Malformed ciphertext, a wrong
// key, or a failed authentication tag all return a CodeValidation error.
func Decrypt(data []byte, key Key) ([]byte, error) {
	alg, k, iv, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	switch alg {
	case AES256GCM:
		aead, err := newGCM(k)
		if err != nil {
			return nil, err
		}
		out, err := aead.Open(nil, iv, data, nil)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "bundle authentication failed")
		}
		return out, nil
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(k)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid chacha20 key")
		}
		out, err := aead.Open(nil, iv, data, nil)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "bundle authentication failed")
		}
		return out, nil
	default:
		if len(data) == 0 || len(data)%aes.BlockSize != 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "ciphertext is not a whole number of blocks")
		}
		block, err := aes.NewCipher(k)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid aes key")
		}
		out := make([]byte, len(data))
		gocipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		return pkcs7Unpad(out, aes.BlockSize)
	}
}

// DecryptBase64 decodes a base64 document body and decrypts it.
func DecryptBase64(content string, key Key) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "bundle is not valid base64")
	}
	return Decrypt(raw, key)
}

func decodeKey(key Key) (Algorithm, []byte, []byte, error) {
	alg, err := ParseAlgorithm(string(key.Algorithm))
	if err != nil {
		return "", nil, nil, err
	}
	keyLen, ivLen := KeySize(alg)

	k, err := base64.StdEncoding.DecodeString(key.Value)
	if err != nil {
		return "", nil, nil, dErrors.Wrap(err, dErrors.CodeValidation, "symmetric key is not valid base64")
	}
	if len(k) != keyLen {
		return "", nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("symmetric key must be %d bytes", keyLen))
	}
	iv, err := base64.StdEncoding.DecodeString(key.IV)
	if err != nil {
		return "", nil, nil, dErrors.Wrap(err, dErrors.CodeValidation, "iv is not valid base64")
	}
	if len(iv) != ivLen {
		return "", nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("iv must be %d bytes", ivLen))
	}
	return alg, k, iv, nil
}

func newGCM(k []byte) (gocipher.AEAD, error) {
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid aes key")
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "init gcm")
	}
	return aead, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, dErrors.New(dErrors.CodeValidation, "invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
