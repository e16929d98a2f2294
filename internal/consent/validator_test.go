package consent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"healthcred/internal/bundle"
	"healthcred/internal/credential/models"
	"healthcred/internal/holder"
	"healthcred/internal/mapper"
	mapperstore "healthcred/internal/mapper/store"
	"healthcred/internal/verifier"
	"healthcred/internal/verifier/plugins/selfattested"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/middleware/requesttime"
	"healthcred/pkg/testutil"
)

type failingDeleter struct{ calls int }

func (d *failingDeleter) Delete(context.Context, string, string, string) error {
	d.calls++
	return errors.New("document service down")
}

type ValidatorSuite struct {
	suite.Suite
	holder    *testutil.Holder
	now       time.Time
	documents *holder.MemoryDocuments
	validator *Validator
	ctx       context.Context
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.holder = testutil.NewHolder()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.documents = holder.NewMemoryDocuments()
	s.documents.Put("bundle-1", "c2VhbGVk")
	s.ctx = context.Background()
	s.validator = s.newValidator(s.documents)
}

func (s *ValidatorSuite) newValidator(d Deleter) *Validator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := verifier.NewRegistry(logger).MustRegister(
		selfattested.New(models.KeyEncodingPEM),
		selfattested.New(models.KeyEncodingJWK),
	)
	return NewValidator(registry, d,
		WithClock(func() time.Time { return s.now }),
		WithLogger(logger),
	)
}

func (s *ValidatorSuite) holderContext() HolderContext {
	return HolderContext{
		HolderID:    s.holder.ID,
		EntityID:    testutil.TestIDs.EntityID,
		PublicKey:   s.holder.PublicPEM(),
		KeyEncoding: models.KeyEncodingPEM,
		DocumentID:  "bundle-1",
		LinkID:      "link-1",
		Token:       "upload-token",
	}
}

func (s *ValidatorSuite) receipt(id string, at time.Time) *models.ConsentReceipt {
	item := bundle.Classify(0, s.holder.SignConsent(id, at))
	s.Require().NotNil(item.Consent, "fixture must be a structurally valid receipt")
	return item.Consent
}

func (s *ValidatorSuite) TestValidate_Accepts() {
	s.Run("fresh receipt with PEM key", func() {
		res := s.validator.Validate(s.ctx, s.receipt("c-1", s.now.Add(-time.Hour)), s.holderContext())
		s.True(res.Valid)
		s.Equal("c-1", res.Metadata["consentId"])
		s.Equal("selfattested-pem", res.Metadata["verifiedBy"])
	})

	s.Run("JWK holder key", func() {
		h := s.holderContext()
		h.PublicKey = s.holder.PublicJWK()
		h.KeyEncoding = models.KeyEncodingJWK
		res := s.validator.Validate(s.ctx, s.receipt("c-2", s.now), h)
		s.True(res.Valid)
	})

	s.Run("within clock skew", func() {
		res := s.validator.Validate(s.ctx, s.receipt("c-3", s.now.Add(4*time.Second)), s.holderContext())
		s.True(res.Valid)
	})

	s.Run("exactly at the retention limit", func() {
		res := s.validator.Validate(s.ctx, s.receipt("c-4", s.now.Add(-defaultMaxAge)), s.holderContext())
		s.True(res.Valid)
	})
}

func (s *ValidatorSuite) TestValidate_TimeWindow() {
	s.Run("more than 5 seconds in the future", func() {
		res := s.validator.Validate(s.ctx, s.receipt("c-f", s.now.Add(6*time.Second)), s.holderContext())
		s.False(res.Valid)
		s.Equal(ReasonFuture, res.Reason)
	})

	s.Run("older than 8 weeks", func() {
		res := s.validator.Validate(s.ctx, s.receipt("c-e", s.now.Add(-defaultMaxAge-time.Second)), s.holderContext())
		s.False(res.Valid)
		s.Equal(ReasonExpired, res.Reason)
	})

	s.Empty(s.documents.Deleted(), "time-window rejections keep the bundle")
}

func (s *ValidatorSuite) TestValidate_SignatureFailureDeletesBundle() {
	h := s.holderContext()
	h.PublicKey = testutil.NewHolderWithFreshKey().PublicPEM()

	res := s.validator.Validate(s.ctx, s.receipt("c-1", s.now), h)
	s.False(res.Valid)
	s.Equal(ReasonSignature, res.Reason)
	s.Contains(res.ErrorMessage, "c-1")
	s.Equal([]string{"bundle-1"}, s.documents.Deleted())
}

func (s *ValidatorSuite) TestValidate_DeleteFailureIsSwallowed() {
	d := &failingDeleter{}
	v := s.newValidator(d)
	h := s.holderContext()
	h.PublicKey = testutil.NewHolderWithFreshKey().PublicPEM()

	res := v.Validate(s.ctx, s.receipt("c-1", s.now), h)
	s.False(res.Valid)
	s.Equal(ReasonSignature, res.Reason)
	s.Equal(1, d.calls)
}

func (s *ValidatorSuite) TestValidate_UnknownKeyEncoding() {
	h := s.holderContext()
	h.KeyEncoding = "x509-thumbprint"
	res := s.validator.Validate(s.ctx, s.receipt("c-1", s.now), h)
	s.False(res.Valid)
	s.Equal(ReasonSignature, res.Reason)
}

func (s *ValidatorSuite) TestValidate_NilReceipt() {
	res := s.validator.Validate(s.ctx, nil, s.holderContext())
	s.False(res.Valid)
	s.Equal(ReasonMissing, res.Reason)
	s.Equal("no valid consent receipt", res.ErrorMessage)
}

func (s *ValidatorSuite) TestSelect() {
	first := s.holder.SignConsent("first", s.now)
	second := s.holder.SignConsent("second", s.now)
	unsigned := []byte(`{"id":"u","consentTimestamp":"2026-03-01T00:00:00Z","proof":{"type":"RsaPssSignature2023"}}`)

	s.Run("first structurally valid receipt wins", func() {
		b, err := bundle.Parse(testutil.Bundle(unsigned, first, second))
		s.Require().NoError(err)
		got, reason := s.validator.Select(s.ctx, b.Consents())
		s.Require().NotNil(got)
		s.Equal("first", got.ID)
		s.Empty(reason)
	})

	s.Run("order decides which receipt is used", func() {
		b, err := bundle.Parse(testutil.Bundle(second, first))
		s.Require().NoError(err)
		got, _ := s.validator.Select(s.ctx, b.Consents())
		s.Require().NotNil(got)
		s.Equal("second", got.ID)
	})

	s.Run("only malformed receipts", func() {
		b, err := bundle.Parse(testutil.Bundle(unsigned))
		s.Require().NoError(err)
		got, reason := s.validator.Select(s.ctx, b.Consents())
		s.Nil(got)
		s.Equal(ReasonMalformed, reason)
	})

	s.Run("no receipts", func() {
		got, reason := s.validator.Select(s.ctx, nil)
		s.Nil(got)
		s.Equal(ReasonMissing, reason)
	})
}

type recordingAuditor struct{ events []audit.Event }

func (a *recordingAuditor) Record(_ context.Context, e audit.Event) { a.events = append(a.events, e) }

func (s *ValidatorSuite) TestValidate_AuditsDeletedBundle() {
	auditor := &recordingAuditor{}
	v := s.newValidator(s.documents)
	WithAuditor(auditor)(v)
	h := s.holderContext()
	h.PublicKey = testutil.NewHolderWithFreshKey().PublicPEM()

	v.Validate(s.ctx, s.receipt("c-1", s.now), h)
	s.Require().Len(auditor.events, 1)
	s.Equal(audit.ActionBundleDeleted, auditor.events[0].Action)
	s.Equal("bundle-1", auditor.events[0].Reference)
}

func (s *ValidatorSuite) TestValidate_UsesRequestTime() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := NewValidator(verifier.NewRegistry(logger).MustRegister(selfattested.New(models.KeyEncodingPEM)), nil,
		WithLogger(logger))
	at := time.Date(2020, 1, 6, 9, 0, 0, 0, time.UTC)
	ctx := requesttime.WithTime(s.ctx, at.Add(time.Hour))

	res := v.Validate(ctx, s.receipt("c-r", at), s.holderContext())
	s.True(res.Valid, "window is measured from the request time, not the wall clock")

	res = v.Validate(requesttime.WithTime(s.ctx, at.Add(-time.Minute)), s.receipt("c-r", at), s.holderContext())
	s.Equal(ReasonFuture, res.Reason)
}

// orgReceipt is signed in an organization's own shape: the consent instant
// lives in givenAt, and consentTimestamp records when the receipt was filed.
func (s *ValidatorSuite) orgReceipt(givenAt, filedAt time.Time) *models.ConsentReceipt {
	raw := s.holder.SignConsentDoc(map[string]any{
		"id":               "c-org",
		"consentTimestamp": filedAt.UTC().Format(time.RFC3339),
		"givenAt":          givenAt.UTC().Format(time.RFC3339),
		"scope":            "vaccination-records",
	})
	item := bundle.Classify(0, raw)
	s.Require().NotNil(item.Consent)
	return item.Consent
}

func (s *ValidatorSuite) mappingValidator() *Validator {
	engine, err := mapper.NewEngine(mapperstore.NewMemory(&mapper.Mapper{
		Name: "consent-v1",
		Spec: map[string]string{
			"id":               "doc.id",
			"consentTimestamp": "doc.givenAt",
			"purpose":          "doc.scope",
		},
	}))
	s.Require().NoError(err)
	v := s.newValidator(s.documents)
	WithTransformer(engine)(v)
	return v
}

func (s *ValidatorSuite) mappedHolder(enabled bool) HolderContext {
	h := s.holderContext()
	h.Entity = &models.EntityConfig{
		EntityID:          h.EntityID,
		TransformEnabled:  enabled,
		ConsentMapperName: "consent-v1",
	}
	return h
}

func (s *ValidatorSuite) TestValidate_MappedTimestampDrivesWindow() {
	v := s.mappingValidator()

	s.Run("mapped consent instant is expired", func() {
		receipt := s.orgReceipt(s.now.Add(-defaultMaxAge-time.Hour), s.now.Add(-time.Hour))

		res := v.Validate(s.ctx, receipt, s.mappedHolder(false))
		s.True(res.Valid, "without mapping the filing time is used")

		res = v.Validate(s.ctx, receipt, s.mappedHolder(true))
		s.False(res.Valid)
		s.Equal(ReasonExpired, res.Reason)
	})

	s.Run("mapped consent instant is fresh", func() {
		receipt := s.orgReceipt(s.now.Add(-time.Hour), s.now.Add(-defaultMaxAge-time.Hour))

		res := v.Validate(s.ctx, receipt, s.mappedHolder(true))
		s.Require().True(res.Valid, res.ErrorMessage)
		s.Equal("c-org", res.Metadata["consentId"])
		s.Equal("vaccination-records", res.Metadata["purpose"])
		s.Equal(s.now.Add(-time.Hour).Format(time.RFC3339), res.Metadata["consentTimestamp"])
		s.Equal("selfattested-pem", res.Metadata["verifiedBy"], "signature still checked over the signed document")
	})
}

func (s *ValidatorSuite) TestValidate_MappingFailureRejects() {
	v := s.mappingValidator()
	h := s.mappedHolder(true)
	h.Entity.ConsentMapperName = "missing"

	res := v.Validate(s.ctx, s.receipt("c-1", s.now), h)
	s.False(res.Valid)
	s.Equal(ReasonMapping, res.Reason)
	s.Empty(s.documents.Deleted())
}
