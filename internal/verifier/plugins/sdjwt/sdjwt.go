// Package sdjwt verifies SD-JWT VCs: an issuer-signed JWT followed by
// "~"-separated selective disclosures whose digests must appear in the
// signed "_sd" arrays.
package sdjwt

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
)

const name = "sd-jwt-vc"

// reserved claims are protocol plumbing and never part of the subject data.
var reserved = map[string]bool{
	"iss": true, "iat": true, "nbf": true, "exp": true, "jti": true,
	"vct": true, "cnf": true, "status": true, "_sd": true, "_sd_alg": true,
}

type Plugin struct{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return name
}

func (p *Plugin) Claims(item models.RawItem, vctx verifier.Context) bool {
	return item.Format == models.FormatSDJWT && vctx.Keys != nil
}

// Disclosure is one decoded [salt, name, value] triple.
type Disclosure struct {
	Encoded string
	Salt    string
	Name    string
	Value   any
}

// Digest is the base64url SHA-256 of the encoded disclosure.
func (d Disclosure) Digest() string {
	sum := sha256.Sum256([]byte(d.Encoded))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Split separates the issuer JWT from its disclosures. A trailing key
// binding JWT is dropped.
func Split(compact string) (issuerJWT string, disclosures []Disclosure, err error) {
	parts := strings.Split(compact, "~")
	issuerJWT = parts[0]
	for _, part := range parts[1:] {
		if part == "" || strings.Count(part, ".") == 2 {
			continue
		}
		d, err := decodeDisclosure(part)
		if err != nil {
			return "", nil, err
		}
		disclosures = append(disclosures, d)
	}
	return issuerJWT, disclosures, nil
}

func decodeDisclosure(encoded string) (Disclosure, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Disclosure{}, fmt.Errorf("decode disclosure: %w", err)
	}
	var triple []any
	if err := json.Unmarshal(raw, &triple); err != nil {
		return Disclosure{}, fmt.Errorf("decode disclosure: %w", err)
	}
	if len(triple) != 3 {
		return Disclosure{}, fmt.Errorf("disclosure has %d elements, want 3", len(triple))
	}
	salt, _ := triple[0].(string)
	claim, ok := triple[1].(string)
	if !ok || claim == "" {
		return Disclosure{}, errors.New("disclosure has no claim name")
	}
	return Disclosure{Encoded: encoded, Salt: salt, Name: claim, Value: triple[2]}, nil
}

func (p *Plugin) Decode(item models.RawItem) (*models.Credential, error) {
	issuerJWT, disclosures, err := Split(item.Compact)
	if err != nil {
		return nil, err
	}
	c, err := verifier.SplitCompact(issuerJWT)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(c.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode SD-JWT payload: %w", err)
	}

	document := make(map[string]any, len(payload)+len(disclosures))
	subject := make(map[string]any)
	for k, v := range payload {
		if k == "_sd" || k == "_sd_alg" {
			continue
		}
		document[k] = v
		if !reserved[k] {
			subject[k] = v
		}
	}
	for _, d := range disclosures {
		document[d.Name] = d.Value
		subject[d.Name] = d.Value
	}

	cred := &models.Credential{
		Format:   models.FormatSDJWT,
		Subject:  subject,
		Document: document,
	}
	cred.Issuer, _ = payload["iss"].(string)
	if vct, ok := payload["vct"].(string); ok {
		cred.Types = []string{vct}
	}
	if jti, ok := payload["jti"].(string); ok && jti != "" {
		cred.ID = jti
	} else {
		sum := sha256.Sum256([]byte(issuerJWT))
		cred.ID = "urn:sha256:" + hex.EncodeToString(sum[:])
	}
	if iat, ok := payload["iat"]; ok {
		cred.IssuedAt = verifier.NumericDate(iat)
	}
	return cred, nil
}

func (p *Plugin) Verify(ctx context.Context, cred *models.Credential, vctx verifier.Context) error {
	issuerJWT, disclosures, err := Split(cred.Raw.Compact)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, name, "split disclosures", err)
	}
	claims, err := verifier.VerifyJWT(ctx, name, issuerJWT, vctx)
	if err != nil {
		return err
	}

	if alg, ok := claims["_sd_alg"].(string); ok && alg != "sha-256" {
		return verifier.NewError(verifier.FailureMalformed, name, fmt.Sprintf("unsupported _sd_alg %q", alg), nil)
	}
	digests := make(map[string]bool)
	collectDigests(map[string]any(claims), digests)
	for _, d := range disclosures {
		if !digests[d.Digest()] {
			return verifier.NewError(verifier.FailureSignature, name,
				fmt.Sprintf("disclosure %q is not covered by the issuer signature", d.Name), nil)
		}
	}
	return nil
}

// collectDigests gathers every "_sd" entry, including nested objects.
func collectDigests(v any, into map[string]bool) {
	switch node := v.(type) {
	case map[string]any:
		if sd, ok := node["_sd"].([]any); ok {
			for _, entry := range sd {
				if s, ok := entry.(string); ok {
					into[s] = true
				}
			}
		}
		for k, child := range node {
			if k != "_sd" {
				collectDigests(child, into)
			}
		}
	case []any:
		for _, child := range node {
			collectDigests(child, into)
		}
	}
}
