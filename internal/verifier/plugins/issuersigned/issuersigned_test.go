package issuersigned

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
	"healthcred/pkg/testutil"
)

func TestVerify(t *testing.T) {
	issuer := testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
	raw := issuer.SignW3C(testutil.VaccinationCredential("urn:uuid:iss-1"))
	item := models.RawItem{Format: models.FormatIssuerSigned, JSON: raw}
	p := New()

	decode := func(t *testing.T) *models.Credential {
		cred, err := p.Decode(item)
		require.NoError(t, err)
		cred.Raw = item
		return cred
	}

	t.Run("known issuer key", func(t *testing.T) {
		vctx := verifier.Context{Keys: testutil.NewKeyRing(issuer)}
		require.True(t, p.Claims(item, vctx))
		assert.NoError(t, p.Verify(context.Background(), decode(t), vctx))
	})

	t.Run("unknown issuer key", func(t *testing.T) {
		vctx := verifier.Context{Keys: testutil.NewKeyRing()}
		err := p.Verify(context.Background(), decode(t), vctx)
		require.Error(t, err)
		assert.Equal(t, verifier.FailureKeyUnavailable, verifier.CategoryOf(err))
	})

	t.Run("key from a different issuer", func(t *testing.T) {
		impostor := testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
		vctx := verifier.Context{Keys: testutil.NewKeyRing(impostor)}
		err := p.Verify(context.Background(), decode(t), vctx)
		require.Error(t, err)
		assert.Equal(t, verifier.FailureSignature, verifier.CategoryOf(err))
	})

	t.Run("not claimed without a key resolver", func(t *testing.T) {
		assert.False(t, p.Claims(item, verifier.Context{}))
	})
}

func TestSplitVerificationMethod(t *testing.T) {
	tests := []struct {
		method, fallback, issuer, kid string
	}{
		{"https://iss.example#k1", "ignored", "https://iss.example", "k1"},
		{"#k1", "https://fallback", "https://fallback", "k1"},
		{"k1", "https://fallback", "https://fallback", "k1"},
	}
	for _, tt := range tests {
		issuer, kid := SplitVerificationMethod(tt.method, tt.fallback)
		assert.Equal(t, tt.issuer, issuer, tt.method)
		assert.Equal(t, tt.kid, kid, tt.method)
	}
}
