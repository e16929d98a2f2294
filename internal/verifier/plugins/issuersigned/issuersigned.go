// Package issuersigned verifies W3C credentials carrying an ECDSA P-256
// issuer proof. The verification key is resolved through the organization's
// issuer key cache using the proof's "issuer#kid" verification method.
package issuersigned

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
)

const name = "issuersigned-es256"

type Plugin struct{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string {
	return name
}

func (p *Plugin) Claims(item models.RawItem, vctx verifier.Context) bool {
	return item.Format == models.FormatIssuerSigned && vctx.Keys != nil
}

func (p *Plugin) Decode(item models.RawItem) (*models.Credential, error) {
	return verifier.DecodeW3C(models.FormatIssuerSigned, item.JSON)
}

func (p *Plugin) Verify(ctx context.Context, cred *models.Credential, vctx verifier.Context) error {
	if vctx.Keys == nil {
		return verifier.NewError(verifier.FailureKeyUnavailable, name, "issuer key lookup", verifier.ErrNoKeyResolver)
	}
	issuer, kid := SplitVerificationMethod(cred.Proof.VerificationMethod, cred.Issuer)
	if issuer == "" || kid == "" {
		return verifier.NewError(verifier.FailureMalformed, name,
			fmt.Sprintf("unusable verification method %q", cred.Proof.VerificationMethod), nil)
	}

	key, err := vctx.Keys.Resolve(ctx, issuer, kid)
	if err != nil {
		return verifier.NewError(verifier.FailureKeyUnavailable, name, "resolve issuer key", err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return verifier.NewError(verifier.FailureKeyUnavailable, name, fmt.Sprintf("expected ECDSA key, got %T", key), nil)
	}

	input, err := verifier.SigningInput(cred.Raw.JSON)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, name, "canonicalize document", err)
	}
	sig, err := verifier.DecodeSignature(cred.Proof.SignatureValue)
	if err != nil {
		return verifier.NewError(verifier.FailureMalformed, name, "decode signature", err)
	}
	if err := jwt.SigningMethodES256.Verify(string(input), sig, ecKey); err != nil {
		return verifier.NewError(verifier.FailureSignature, name, "signature mismatch", err)
	}
	return nil
}

// SplitVerificationMethod splits "issuer#kid". A bare "#kid" falls back to
// the credential's issuer.
func SplitVerificationMethod(method, fallbackIssuer string) (issuer, kid string) {
	issuer, kid, found := strings.Cut(method, "#")
	if !found {
		return fallbackIssuer, method
	}
	if issuer == "" {
		issuer = fallbackIssuer
	}
	return issuer, kid
}
