package verifier

import (
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"healthcred/internal/credential/models"
)

// ParsePublicKey parses a public key in the given encoding.
func ParsePublicKey(value []byte, enc models.KeyEncoding) (crypto.PublicKey, error) {
	switch enc {
	case models.KeyEncodingPEM:
		return ParsePublicKeyPEM(string(value))
	case models.KeyEncodingJWK:
		return ParsePublicKeyJWK(value)
	}
	return nil, fmt.Errorf("unsupported key encoding %q", enc)
}

// ParsePublicKeyPEM accepts PKIX ("PUBLIC KEY") and PKCS#1 ("RSA PUBLIC KEY") blocks.
func ParsePublicKeyPEM(s string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(s)))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PEM public key: %w", err)
	}
	return key, nil
}

// ParsePublicKeyJWK accepts a single JWK or a JWK set with one key.
func ParsePublicKeyJWK(raw []byte) (crypto.PublicKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		set, setErr := jwk.Parse(raw)
		if setErr != nil || set.Len() == 0 {
			return nil, fmt.Errorf("parse JWK: %w", err)
		}
		var ok bool
		if key, ok = set.Key(0); !ok {
			return nil, errors.New("JWK set is empty")
		}
	}
	var out any
	if err := jwk.Export(key, &out); err != nil {
		return nil, fmt.Errorf("export JWK: %w", err)
	}
	return out, nil
}

// DecodeSignature accepts unpadded base64url, falling back to padded and
// standard alphabets.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("signature is not base64")
}
