package verifier

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AllowedAlgorithms are the JWS algorithms accepted for compact credentials.
var AllowedAlgorithms = []string{"ES256", "PS256", "RS256", "EdDSA"}

// Compact is a split, undecoded JWS in compact serialization.
type Compact struct {
	Alg          string
	Kid          string
	Typ          string
	Zip          string
	Payload      []byte
	SigningInput string
	Signature    []byte
}

// SplitCompact decodes the header, payload and signature segments of a JWS
// without verifying anything.
func SplitCompact(token string) (*Compact, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("compact JWS has %d segments", len(parts))
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		Typ string `json:"typ"`
		Zip string `json:"zip"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return &Compact{
		Alg:          header.Alg,
		Kid:          header.Kid,
		Typ:          header.Typ,
		Zip:          header.Zip,
		Payload:      payload,
		SigningInput: parts[0] + "." + parts[1],
		Signature:    sig,
	}, nil
}

// VerifyJWS checks a detached signature over signingInput with alg.
func VerifyJWS(alg, signingInput string, sig []byte, key crypto.PublicKey) error {
	if !slices.Contains(AllowedAlgorithms, alg) {
		return fmt.Errorf("algorithm %q not allowed", alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("algorithm %q not available", alg)
	}
	return method.Verify(signingInput, sig, key)
}

// NumericDate converts a JWT NumericDate claim to time.
func NumericDate(v any) time.Time {
	switch n := v.(type) {
	case float64:
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}
		}
		return NumericDate(f)
	}
	return time.Time{}
}

// ErrNoKeyResolver is returned when an issuer key is needed but the
// context carries no resolver.
var ErrNoKeyResolver = errors.New("no issuer key resolver configured")
