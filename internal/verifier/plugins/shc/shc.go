// Package shc verifies SMART Health Cards: an ES256 JWS with a raw-deflated
// payload, optionally wrapped in the numeric "shc:/" QR encoding.
package shc

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
)

const (
	name   = "smart-health-card"
	prefix = "shc:/"

	// maxPayload bounds inflation of untrusted input.
	maxPayload = 1 << 20
)

type Plugin struct{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return name
}

func (p *Plugin) Claims(item models.RawItem, vctx verifier.Context) bool {
	return item.Format == models.FormatSHC && vctx.Keys != nil
}

// DecodeNumeric turns "shc:/<digits>" into the underlying JWS. Each pair of
// digits encodes one character as value+45. Multi-chunk cards are rejected.
func DecodeNumeric(s string) (string, error) {
	if !strings.HasPrefix(s, prefix) {
		return s, nil
	}
	digits := strings.TrimPrefix(s, prefix)
	if strings.Contains(digits, "/") {
		return "", errors.New("chunked health cards are not supported")
	}
	if len(digits)%2 != 0 {
		return "", errors.New("numeric health card has odd length")
	}
	var b strings.Builder
	b.Grow(len(digits) / 2)
	for i := 0; i < len(digits); i += 2 {
		n, err := strconv.Atoi(digits[i : i+2])
		if err != nil {
			return "", fmt.Errorf("numeric health card: %w", err)
		}
		b.WriteByte(byte(n + 45))
	}
	return b.String(), nil
}

// EncodeNumeric is the inverse of DecodeNumeric.
func EncodeNumeric(jws string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < len(jws); i++ {
		fmt.Fprintf(&b, "%02d", int(jws[i])-45)
	}
	return b.String()
}

type card struct {
	compact *verifier.Compact
	jws     string
	payload []byte
}

func open(raw string) (*card, error) {
	jws, err := DecodeNumeric(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	c, err := verifier.SplitCompact(jws)
	if err != nil {
		return nil, err
	}
	payload := c.Payload
	if c.Zip == "DEF" {
		r := flate.NewReader(bytes.NewReader(c.Payload))
		defer r.Close()
		payload, err = io.ReadAll(io.LimitReader(r, maxPayload))
		if err != nil {
			return nil, fmt.Errorf("inflate payload: %w", err)
		}
	}
	return &card{compact: c, jws: jws, payload: payload}, nil
}

func (p *Plugin) Decode(item models.RawItem) (*models.Credential, error) {
	c, err := open(item.Compact)
	if err != nil {
		return nil, err
	}
	var claims struct {
		Iss string      `json:"iss"`
		Nbf json.Number `json:"nbf"`
		VC  struct {
			Type              []string       `json:"type"`
			CredentialSubject map[string]any `json:"credentialSubject"`
		} `json:"vc"`
	}
	if err := json.Unmarshal(c.payload, &claims); err != nil {
		return nil, fmt.Errorf("decode health card payload: %w", err)
	}
	var document map[string]any
	if err := json.Unmarshal(c.payload, &document); err != nil {
		return nil, fmt.Errorf("decode health card payload: %w", err)
	}

	sum := sha256.Sum256([]byte(c.jws))
	cred := &models.Credential{
		Format:   models.FormatSHC,
		ID:       "urn:sha256:" + hex.EncodeToString(sum[:]),
		Types:    claims.VC.Type,
		Issuer:   claims.Iss,
		Subject:  claims.VC.CredentialSubject,
		Document: document,
	}
	if claims.Nbf != "" {
		cred.IssuedAt = verifier.NumericDate(claims.Nbf)
	}
	return cred, nil
}

func (p *Plugin) Verify(ctx context.Context, cred *models.Credential, vctx verifier.Context) error {
	if vctx.Keys == nil {
		return verifier.NewError(verifier.FailureKeyUnavailable, name, "issuer key lookup", verifier.ErrNoKeyResolver)
	}
	c, err := open(cred.Raw.Compact)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, name, "open health card", err)
	}
	if c.compact.Alg != "ES256" {
		return verifier.NewError(verifier.FailureMalformed, name, fmt.Sprintf("unexpected algorithm %q", c.compact.Alg), nil)
	}
	key, err := vctx.Keys.Resolve(ctx, cred.Issuer, c.compact.Kid)
	if err != nil {
		return verifier.NewError(verifier.FailureKeyUnavailable, name, "resolve issuer key", err)
	}
	if err := verifier.VerifyJWS(c.compact.Alg, c.compact.SigningInput, c.compact.Signature, key); err != nil {
		return verifier.NewError(verifier.FailureSignature, name, "signature mismatch", err)
	}
	return nil
}
