package validator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"healthcred/internal/bundle"
	"healthcred/internal/credential/models"
	"healthcred/internal/credential/validator/mocks"
	"healthcred/internal/verifier"
	"healthcred/internal/verifier/plugins/issuersigned"
	"healthcred/internal/verifier/plugins/selfattested"
	"healthcred/internal/verifier/plugins/shc"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/testutil"
)

type ValidatorSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	transformer *mocks.MockTransformer
	holder      *testutil.Holder
	issuer      *testutil.Issuer
	validator   *Validator
	req         Request
	ctx         context.Context
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.transformer = mocks.NewMockTransformer(s.ctrl)
	s.holder = testutil.NewHolder()
	s.issuer = testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)
	s.ctx = context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := verifier.NewRegistry(logger).MustRegister(
		selfattested.New(models.KeyEncodingPEM),
		issuersigned.New(),
		shc.New(),
	)
	s.validator = New(registry, WithTransformer(s.transformer), WithLogger(logger))
	s.req = Request{
		Entity:       &models.EntityConfig{EntityID: testutil.TestIDs.EntityID, Category: models.CategoryIndividual},
		HolderID:     s.holder.ID,
		SubmissionID: "sub-1",
		SubmittedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Verify: verifier.Context{
			EntityID:          testutil.TestIDs.EntityID,
			HolderPublicKey:   s.holder.PublicPEM(),
			HolderKeyEncoding: models.KeyEncodingPEM,
			Keys:              testutil.NewKeyRing(s.issuer),
			Now:               time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (s *ValidatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ValidatorSuite) item(index int, raw json.RawMessage) models.RawItem {
	return bundle.Classify(index, raw).Raw
}

func (s *ValidatorSuite) TestValid_SelfAttested() {
	raw := s.holder.SignSelfAttested(testutil.VaccinationCredential("urn:uuid:v-1"))

	out := s.validator.Validate(s.ctx, s.item(1, raw), s.req)
	s.Require().True(out.Valid)
	s.Nil(out.Invalid)
	s.Equal("urn:uuid:v-1", out.Credential["id"])
	s.Equal(&models.StatDoc{
		EntityID:            testutil.TestIDs.EntityID,
		HolderID:            s.holder.ID,
		CredID:              "urn:uuid:v-1",
		SchemaID:            "https://schemas.example.org/vaccination/v1",
		CredType:            "VaccinationCertificate",
		SubmissionID:        "sub-1",
		SubmissionTimestamp: s.req.SubmittedAt,
	}, out.Stat)
	s.Nil(out.Metadata, "metadata pass is off by default")
}

func (s *ValidatorSuite) TestValid_IssuerSignedAndSHC() {
	s.Run("issuer signed", func() {
		raw := s.issuer.SignW3C(testutil.VaccinationCredential("urn:uuid:is-1"))
		out := s.validator.Validate(s.ctx, s.item(0, raw), s.req)
		s.True(out.Valid)
		s.Equal("VaccinationCertificate", out.Type.CredType)
	})

	s.Run("smart health card", func() {
		card := s.issuer.SignSHC([]string{
			"https://smarthealth.cards#health-card",
			"https://smarthealth.cards#immunization",
		}, map[string]any{"fhirVersion": "4.0.1"}, true)
		out := s.validator.Validate(s.ctx, s.item(0, testutil.Quote(card)), s.req)
		s.True(out.Valid)
		s.Equal("immunization", out.Type.CredType)
		s.Equal("immunization", out.Stat.CredType)
	})
}

func (s *ValidatorSuite) TestInvalid() {
	s.Run("tampered credential keeps its id and type", func() {
		raw := s.holder.SignSelfAttested(testutil.VaccinationCredential("urn:uuid:t-1"))
		var doc map[string]any
		s.Require().NoError(json.Unmarshal(raw, &doc))
		doc["credentialSubject"].(map[string]any)["doseNumber"] = 3
		tampered, _ := json.Marshal(doc)

		out := s.validator.Validate(s.ctx, s.item(2, tampered), s.req)
		s.False(out.Valid)
		s.Nil(out.Stat)
		s.Equal("urn:uuid:t-1", out.Invalid.ID)
		s.Equal("VaccinationCertificate", out.Invalid.Type)
		s.Contains(out.Invalid.Reason, "signature")
	})

	s.Run("unsupported item", func() {
		out := s.validator.Validate(s.ctx, s.item(4, []byte(`{"hello":"world"}`)), s.req)
		s.False(out.Valid)
		s.Equal(models.InvalidCredential{Type: models.CredTypeUnknown, ID: "item-4", Reason: "unsupported credential"}, *out.Invalid)
	})

	s.Run("unknown issuer key", func() {
		other := testutil.NewIssuer("https://rogue.example.org", "k9")
		out := s.validator.Validate(s.ctx, s.item(0, other.SignW3C(testutil.VaccinationCredential("urn:uuid:r-1"))), s.req)
		s.False(out.Valid)
		s.Equal("urn:uuid:r-1", out.Invalid.ID)
	})

	s.Run("verified credential without a specific type", func() {
		doc := testutil.VaccinationCredential("urn:uuid:u-1")
		doc["type"] = []any{"VerifiableCredential"}
		out := s.validator.Validate(s.ctx, s.item(0, s.holder.SignSelfAttested(doc)), s.req)
		s.False(out.Valid)
		s.Equal("unknown credential type", out.Invalid.Reason)
	})
}

func (s *ValidatorSuite) TestInvalid_ReasonIsDeterministic() {
	item := s.item(3, []byte(`"not.a.jwt"`))
	first := s.validator.Validate(s.ctx, item, s.req)
	second := s.validator.Validate(s.ctx, item, s.req)
	s.False(first.Valid)
	s.Equal(first.Invalid, second.Invalid)
}

func (s *ValidatorSuite) TestTransform() {
	raw := s.holder.SignSelfAttested(testutil.VaccinationCredential("urn:uuid:m-1"))
	req := s.req
	req.Entity = &models.EntityConfig{
		EntityID:         testutil.TestIDs.EntityID,
		TransformEnabled: true,
		MapperName:       "vaccination-v1",
	}

	s.Run("applies the organization mapper", func() {
		s.transformer.EXPECT().
			Apply(gomock.Any(), gomock.Any(), "vaccination-v1").
			DoAndReturn(func(_ context.Context, doc map[string]any, _ string) (map[string]any, error) {
				return map[string]any{"record": map[string]any{"id": doc["id"]}}, nil
			})
		out := s.validator.Validate(s.ctx, s.item(0, raw), req)
		s.Require().True(out.Valid)
		s.Equal(map[string]any{"record": map[string]any{"id": "urn:uuid:m-1"}}, out.Credential)
		s.Equal("urn:uuid:m-1", out.Stat.CredID)
	})

	s.Run("transform failure invalidates the credential", func() {
		s.transformer.EXPECT().
			Apply(gomock.Any(), gomock.Any(), "vaccination-v1").
			Return(nil, dErrors.New(dErrors.CodeValidation, "mapper vaccination-v1: output does not match schema"))
		out := s.validator.Validate(s.ctx, s.item(0, raw), req)
		s.False(out.Valid)
		s.Equal("transform failed: mapper vaccination-v1: output does not match schema", out.Invalid.Reason)
	})

	s.Run("missing mapper name", func() {
		noName := req
		noName.Entity = &models.EntityConfig{TransformEnabled: true}
		out := s.validator.Validate(s.ctx, s.item(0, raw), noName)
		s.False(out.Valid)
		s.Contains(out.Invalid.Reason, "no mapper configured")
	})
}

func (s *ValidatorSuite) TestMetadata() {
	req := s.req
	req.Entity = &models.EntityConfig{EntityID: testutil.TestIDs.EntityID, MetadataEnabled: true}

	s.Run("complete metadata", func() {
		raw := s.holder.SignSelfAttested(testutil.VaccinationCredential("urn:uuid:md-1"))
		out := s.validator.Validate(s.ctx, s.item(0, raw), req)
		s.Require().True(out.Valid)
		s.NoError(out.MetadataErr)
		s.Equal("COVID-19 vaccine", out.Metadata["vaccineCodeDisplay"])
		s.Equal("urn:uuid:md-1", out.Metadata["credId"])
		s.Equal("selfattested-pem", out.Metadata["plugin"])
	})

	s.Run("mandatory field failure discards only the metadata", func() {
		doc := testutil.VaccinationCredential("urn:uuid:md-2")
		delete(doc["credentialSubject"].(map[string]any), "occurrenceAt")
		out := s.validator.Validate(s.ctx, s.item(0, s.holder.SignSelfAttested(doc)), req)
		s.True(out.Valid)
		s.NotNil(out.Stat)
		s.Nil(out.Metadata)
		var me *MetadataError
		s.True(errors.As(out.MetadataErr, &me))
	})
}
