package sdjwt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"healthcred/internal/credential/models"
	"healthcred/internal/verifier"
	"healthcred/pkg/testutil"
)

type SDJWTSuite struct {
	suite.Suite
	issuer *testutil.Issuer
	vctx   verifier.Context
}

func TestSDJWTSuite(t *testing.T) {
	suite.Run(t, new(SDJWTSuite))
}

func (s *SDJWTSuite) SetupSuite() {
	s.issuer = testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
	s.vctx = verifier.Context{Keys: testutil.NewKeyRing(s.issuer)}
}

func (s *SDJWTSuite) token() string {
	return s.issuer.SignSDJWT(
		"https://credentials.example.org/vct/IdentityCredential",
		map[string]any{"jti": "urn:uuid:sd-1", "nationality": "NL"},
		map[string]any{"given_name": "Ada", "birthdate": "1990-04-01"},
	)
}

func (s *SDJWTSuite) decode(token string) *models.Credential {
	item := models.RawItem{Format: models.FormatSDJWT, Compact: token}
	cred, err := New().Decode(item)
	s.Require().NoError(err)
	cred.Raw = item
	return cred
}

func (s *SDJWTSuite) TestDecode_MergesDisclosures() {
	cred := s.decode(s.token())

	s.Equal("urn:uuid:sd-1", cred.ID)
	s.Equal([]string{"https://credentials.example.org/vct/IdentityCredential"}, cred.Types)
	s.Equal("Ada", cred.Subject["given_name"])
	s.Equal("NL", cred.Subject["nationality"])
	s.NotContains(cred.Subject, "iss")
	s.NotContains(cred.Subject, "_sd")
}

func (s *SDJWTSuite) TestVerify() {
	s.Run("all disclosures covered", func() {
		s.NoError(New().Verify(context.Background(), s.decode(s.token()), s.vctx))
	})

	s.Run("injected disclosure is rejected", func() {
		forged := s.token() + testutil.EncodeDisclosure("salt", "is_admin", true) + "~"
		err := New().Verify(context.Background(), s.decode(forged), s.vctx)
		s.Require().Error(err)
		s.Equal(verifier.FailureSignature, verifier.CategoryOf(err))
		s.Contains(err.Error(), "is_admin")
	})

	s.Run("tampered issuer JWT is rejected", func() {
		token := s.token()
		jwt, rest, _ := strings.Cut(token, "~")
		parts := strings.Split(jwt, ".")
		parts[2] = parts[2][:len(parts[2])-4] + "AAAA"
		err := New().Verify(context.Background(), s.decode(strings.Join(parts, ".")+"~"+rest), s.vctx)
		s.Error(err)
	})
}

func (s *SDJWTSuite) TestSplit_DropsKeyBindingJWT() {
	token := s.token() + "eyJhbGciOiJFUzI1NiJ9.e30.sig"
	_, disclosures, err := Split(token)
	s.Require().NoError(err)
	s.Len(disclosures, 2)
}
