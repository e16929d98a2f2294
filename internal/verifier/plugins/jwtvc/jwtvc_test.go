package jwtvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
	"healthcred/pkg/testutil"
)

func vcBody() map[string]any {
	doc := testutil.VaccinationCredential("urn:uuid:jwt-1")
	delete(doc, "issuer")
	return doc
}

func TestDecode(t *testing.T) {
	issuer := testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
	token := issuer.SignJWTVC(vcBody(), time.Time{})

	cred, err := New().Decode(models.RawItem{Format: models.FormatJWTVC, Compact: token})
	require.NoError(t, err)

	assert.Equal(t, "urn:uuid:jwt-1", cred.ID)
	assert.Equal(t, testutil.TestIDs.IssuerID, cred.Issuer)
	assert.Equal(t, []string{"VerifiableCredential", "VaccinationCertificate"}, cred.Types)
	assert.Equal(t, "https://schemas.example.org/vaccination/v1", cred.SchemaRef)
	assert.Equal(t, "Ada Example", cred.Subject["name"])
	assert.Contains(t, cred.Document, "vc")
}

func TestDecode_MissingVCClaim(t *testing.T) {
	_, err := DecodePayload(models.FormatJWTVC, []byte(`{"iss":"x"}`))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	issuer := testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := New()

	verify := func(t *testing.T, token string, keys verifier.KeyResolver) error {
		item := models.RawItem{Format: models.FormatJWTVC, Compact: token}
		cred, err := p.Decode(item)
		require.NoError(t, err)
		cred.Raw = item
		return p.Verify(context.Background(), cred, verifier.Context{Keys: keys, Now: now})
	}

	t.Run("valid token", func(t *testing.T) {
		assert.NoError(t, verify(t, issuer.SignJWTVC(vcBody(), time.Time{}), testutil.NewKeyRing(issuer)))
	})

	t.Run("expired token", func(t *testing.T) {
		err := verify(t, issuer.SignJWTVC(vcBody(), now.Add(-time.Hour)), testutil.NewKeyRing(issuer))
		require.Error(t, err)
		assert.Equal(t, verifier.FailureSignature, verifier.CategoryOf(err))
	})

	t.Run("unknown key", func(t *testing.T) {
		err := verify(t, issuer.SignJWTVC(vcBody(), time.Time{}), testutil.NewKeyRing())
		require.Error(t, err)
		assert.Equal(t, verifier.FailureKeyUnavailable, verifier.CategoryOf(err))
	})
}
