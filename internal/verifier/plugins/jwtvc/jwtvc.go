// Package jwtvc verifies compact JWTs that carry a W3C credential in their
// "vc" claim.
package jwtvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
)

const name = "jwt-vc"

type Plugin struct{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return name
}

func (p *Plugin) Claims(item models.RawItem, vctx verifier.Context) bool {
	return item.Format == models.FormatJWTVC && vctx.Keys != nil
}

func (p *Plugin) Decode(item models.RawItem) (*models.Credential, error) {
	c, err := verifier.SplitCompact(item.Compact)
	if err != nil {
		return nil, err
	}
	return DecodePayload(models.FormatJWTVC, c.Payload)
}

// DecodePayload maps registered JWT claims and the "vc" claim onto a credential.
func DecodePayload(format models.Format, payload []byte) (*models.Credential, error) {
	var claims struct {
		Iss string          `json:"iss"`
		Sub string          `json:"sub"`
		Jti string          `json:"jti"`
		Nbf json.Number     `json:"nbf"`
		Iat json.Number     `json:"iat"`
		VC  json.RawMessage `json:"vc"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("decode JWT claims: %w", err)
	}
	if len(claims.VC) == 0 {
		return nil, errors.New(`JWT has no "vc" claim`)
	}
	cred, err := verifier.DecodeW3CBody(format, claims.VC)
	if err != nil {
		return nil, err
	}
	var document map[string]any
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("decode JWT claims: %w", err)
	}
	cred.Document = document

	if cred.ID == "" {
		cred.ID = claims.Jti
	}
	if claims.Iss != "" {
		cred.Issuer = claims.Iss
	}
	if cred.IssuedAt.IsZero() {
		if claims.Nbf != "" {
			cred.IssuedAt = verifier.NumericDate(claims.Nbf)
		} else if claims.Iat != "" {
			cred.IssuedAt = verifier.NumericDate(claims.Iat)
		}
	}
	if claims.Sub != "" {
		if cred.Subject == nil {
			cred.Subject = map[string]any{}
		}
		if _, ok := cred.Subject["id"]; !ok {
			cred.Subject["id"] = claims.Sub
		}
	}
	return cred, nil
}

func (p *Plugin) Verify(ctx context.Context, cred *models.Credential, vctx verifier.Context) error {
	_, err := verifier.VerifyJWT(ctx, name, cred.Raw.Compact, vctx)
	return err
}
