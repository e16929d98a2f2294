package shc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
	"healthcred/pkg/testutil"
)

var immunization = []string{
	"https://smarthealth.cards#health-card",
	"https://smarthealth.cards#immunization",
}

func subject() map[string]any {
	return map[string]any{
		"fhirVersion": "4.0.1",
		"fhirBundle":  map[string]any{"resourceType": "Bundle", "type": "collection"},
	}
}

func TestNumericRoundTrip(t *testing.T) {
	jws := "eyJhbGciOiJFUzI1NiJ9.abc-_.xyz"
	decoded, err := DecodeNumeric(EncodeNumeric(jws))
	require.NoError(t, err)
	assert.Equal(t, jws, decoded)

	_, err = DecodeNumeric("shc:/123")
	assert.Error(t, err, "odd length")
	_, err = DecodeNumeric("shc:/1/2/5655")
	assert.Error(t, err, "chunked")
}

func TestVerify(t *testing.T) {
	issuer := testutil.NewIssuer("https://spec.smarthealth.cards/examples/issuer", "shc-key")
	p := New()

	for _, numeric := range []bool{true, false} {
		item := models.RawItem{Format: models.FormatSHC, Compact: issuer.SignSHC(immunization, subject(), numeric)}

		cred, err := p.Decode(item)
		require.NoError(t, err)
		cred.Raw = item

		assert.Equal(t, issuer.ID, cred.Issuer)
		assert.Equal(t, immunization, cred.Types)
		assert.Equal(t, "4.0.1", cred.Subject["fhirVersion"])
		assert.NoError(t, p.Verify(context.Background(), cred, verifier.Context{Keys: testutil.NewKeyRing(issuer)}))
	}

	t.Run("wrong key", func(t *testing.T) {
		item := models.RawItem{Format: models.FormatSHC, Compact: issuer.SignSHC(immunization, subject(), true)}
		cred, err := p.Decode(item)
		require.NoError(t, err)
		cred.Raw = item

		other := testutil.NewIssuer(issuer.ID, issuer.KeyID)
		err = p.Verify(context.Background(), cred, verifier.Context{Keys: testutil.NewKeyRing(other)})
		require.Error(t, err)
		assert.Equal(t, verifier.FailureSignature, verifier.CategoryOf(err))
	})
}
