// Package selfattested verifies W3C credentials and consent receipts signed
// by the holder with RSA-PSS (SHA-256) over the canonical document.
package selfattested

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
)

// Plugin handles one key encoding. Register one instance per encoding.
type Plugin struct {
	encoding models.KeyEncoding
}

// New creates a plugin for PEM or JWK holder keys.
func New(enc models.KeyEncoding) *Plugin {
	return &Plugin{encoding: enc}
}

func (p *Plugin) Name() string {
	return "selfattested-" + string(p.encoding)
}

// Claims self-attested items when a key in this plugin's encoding is
// available, either declared by the holder or embedded in the proof.
func (p *Plugin) Claims(item models.RawItem, vctx verifier.Context) bool {
	if item.Format != models.FormatSelfAttested {
		return false
	}
	if p.holderKeyUsable(vctx) {
		return true
	}
	var probe struct {
		Proof models.Proof `json:"proof"`
	}
	if err := json.Unmarshal(item.JSON, &probe); err != nil {
		return false
	}
	return len(p.embeddedKey(&probe.Proof)) > 0
}

func (p *Plugin) Decode(item models.RawItem) (*models.Credential, error) {
	return verifier.DecodeW3C(models.FormatSelfAttested, item.JSON)
}

func (p *Plugin) Verify(_ context.Context, cred *models.Credential, vctx verifier.Context) error {
	if cred.Proof == nil {
		return verifier.NewError(verifier.FailureMalformed, p.Name(), "credential has no proof", nil)
	}
	key, err := p.key(cred.Proof, vctx)
	if err != nil {
		return err
	}
	return p.check(cred.Raw.JSON, cred.Proof.SignatureValue, key)
}

// AcceptsHolderKey reports whether consent receipts signed with a key of
// this encoding are handled here.
func (p *Plugin) AcceptsHolderKey(enc models.KeyEncoding) bool {
	return enc == p.encoding
}

func (p *Plugin) VerifyConsent(_ context.Context, receipt *models.ConsentReceipt, vctx verifier.Context) error {
	if !p.holderKeyUsable(vctx) {
		return verifier.NewError(verifier.FailureKeyUnavailable, p.Name(), "holder has no public key", nil)
	}
	key, err := p.parse([]byte(vctx.HolderPublicKey))
	if err != nil {
		return err
	}
	return p.check(receipt.Raw, receipt.Proof.SignatureValue, key)
}

func (p *Plugin) check(doc json.RawMessage, signatureValue string, key *rsa.PublicKey) error {
	input, err := verifier.SigningInput(doc)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, p.Name(), "canonicalize document", err)
	}
	sig, err := verifier.DecodeSignature(signatureValue)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, p.Name(), "decode signature", err)
	}
	if err := jwt.SigningMethodPS256.Verify(string(input), sig, key); err != nil {
		return verifier.NewError(verifier.FailureSignature, p.Name(), "signature mismatch", err)
	}
	return nil
}

func (p *Plugin) key(proof *models.Proof, vctx verifier.Context) (*rsa.PublicKey, error) {
	if p.holderKeyUsable(vctx) {
		return p.parse([]byte(vctx.HolderPublicKey))
	}
	if embedded := p.embeddedKey(proof); len(embedded) > 0 {
		return p.parse(embedded)
	}
	return nil, verifier.NewError(verifier.FailureKeyUnavailable, p.Name(), "no public key available", nil)
}

func (p *Plugin) holderKeyUsable(vctx verifier.Context) bool {
	return vctx.HolderKeyEncoding == p.encoding && vctx.HolderPublicKey != ""
}

func (p *Plugin) embeddedKey(proof *models.Proof) []byte {
	switch p.encoding {
	case models.KeyEncodingPEM:
		return []byte(proof.PublicKeyPem)
	case models.KeyEncodingJWK:
		return proof.PublicKeyJwk
	}
	return nil
}

func (p *Plugin) parse(value []byte) (*rsa.PublicKey, error) {
	key, err := verifier.ParsePublicKey(value, p.encoding)
	if err != nil {
		return nil, verifier.NewError(verifier.FailureKeyUnavailable, p.Name(), "parse public key", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, verifier.NewError(verifier.FailureKeyUnavailable, p.Name(),
			fmt.Sprintf("expected RSA public key, got %T", key), nil)
	}
	return rsaKey, nil
}

var _ verifier.ConsentVerifier = (*Plugin)(nil)
