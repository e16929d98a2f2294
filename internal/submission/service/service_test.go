package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"healthcred/internal/bundle/cipher"
	"healthcred/internal/consent"
	"healthcred/internal/credential/models"
	"healthcred/internal/credential/validator"
	"healthcred/internal/entity"
	"healthcred/internal/holder"
	holderstore "healthcred/internal/holder/store"
	"healthcred/internal/orgcontext"
	"healthcred/internal/platform/objectstore"
	"healthcred/internal/submission/service/mocks"
	statsstore "healthcred/internal/submission/store"
	"healthcred/internal/verifier"
	"healthcred/internal/verifier/plugins/issuersigned"
	"healthcred/internal/verifier/plugins/selfattested"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/audit"
	"healthcred/pkg/platform/middleware/requesttime"
	"healthcred/pkg/testutil"
)

type recordingAuditor struct{ events []audit.Event }

func (a *recordingAuditor) Record(_ context.Context, e audit.Event) { a.events = append(a.events, e) }

type failingObjects struct{ *objectstore.Memory }

func (failingObjects) Put(context.Context, string, string, []byte) error {
	return errors.New("bucket unavailable")
}

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	ctx       context.Context
	now       time.Time
	holder    *testutil.Holder
	issuer    *testutil.Issuer
	profile   *holder.Profile
	documents *holder.MemoryDocuments
	objects   *objectstore.Memory
	stats     *statsstore.Memory
	auditor   *recordingAuditor
	deps      Deps
	ids       int
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requesttime.WithTime(context.Background(), s.now)
	s.holder = testutil.NewHolder()
	s.issuer = testutil.NewIssuer(testutil.TestIDs.IssuerID, testutil.TestIDs.KeyID)

	key, err := cipher.GenerateKey(cipher.AES256GCM)
	s.Require().NoError(err)
	s.profile = &holder.Profile{
		HolderID:      s.holder.ID,
		EntityID:      testutil.TestIDs.EntityID,
		PublicKey:     s.holder.PublicPEM(),
		KeyEncoding:   models.KeyEncodingPEM,
		SymmetricKey:  key,
		UploadToken:   "upload",
		DownloadToken: "download",
		LinkID:        "link-1",
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := verifier.NewRegistry(logger).MustRegister(
		selfattested.New(models.KeyEncodingPEM),
		issuersigned.New(),
	)
	s.documents = holder.NewMemoryDocuments()
	s.objects = objectstore.NewMemory()
	s.stats = statsstore.NewMemory()
	s.auditor = &recordingAuditor{}
	s.ids = 0

	s.deps = Deps{
		Holders:   holderstore.NewMemory(s.profile),
		Entities:  entity.NewMemory(),
		Documents: s.documents,
		Orgs:      orgcontext.NewRegistry(testutil.NewKeyRing(s.issuer), orgcontext.WithLogger(logger)),
		Consent: consent.NewValidator(registry, s.documents,
			consent.WithClock(func() time.Time { return s.now }),
			consent.WithLogger(logger),
		),
		Credentials: validator.New(registry, validator.WithLogger(logger)),
		Objects:     s.objects,
		Stats:       s.stats,
		Auditor:     s.auditor,
	}
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) service() *Service {
	return New(s.deps,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(func() string {
			s.ids++
			return fmt.Sprintf("sub-%d", s.ids)
		}),
	)
}

// upload encrypts a bundle under the holder's key and stores it.
func (s *ServiceSuite) upload(documentID string, entries ...json.RawMessage) SubmitRequest {
	sealed, err := cipher.Encrypt(testutil.Bundle(entries...), s.profile.SymmetricKey)
	s.Require().NoError(err)
	s.documents.Put(documentID, base64.StdEncoding.EncodeToString(sealed))
	return SubmitRequest{HolderID: s.holder.ID, DocumentID: documentID}
}

func (s *ServiceSuite) consent(id string, at time.Time) json.RawMessage {
	return s.holder.SignConsent(id, at)
}

func (s *ServiceSuite) selfAttested(id string) json.RawMessage {
	return s.holder.SignSelfAttested(testutil.VaccinationCredential(id))
}

func (s *ServiceSuite) tampered(id string) json.RawMessage {
	var doc map[string]any
	s.Require().NoError(json.Unmarshal(s.selfAttested(id), &doc))
	doc["credentialSubject"].(map[string]any)["doseNumber"] = 3
	raw, _ := json.Marshal(doc)
	return raw
}

func (s *ServiceSuite) TestSubmit_PersistsValidCredentials() {
	req := s.upload("bundle-1",
		s.consent("consent-1", s.now.Add(-time.Hour)),
		s.selfAttested("urn:uuid:a"),
		s.tampered("urn:uuid:b"),
		s.issuer.SignW3C(testutil.VaccinationCredential("urn:uuid:c")),
	)

	out, err := s.service().Submit(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(StatusProcessed, out.Status)
	s.Equal(StateStatsRecorded, out.State)
	s.Equal("sub-1.json", out.FileName)
	s.Require().Len(out.ValidCredentials, 2)
	s.Equal("urn:uuid:a", out.ValidCredentials[0]["id"])
	s.Equal("urn:uuid:c", out.ValidCredentials[1]["id"])
	s.Require().Len(out.InvalidCredentials, 1)
	s.Equal("urn:uuid:b", out.InvalidCredentials[0].ID)

	raw, err := s.objects.Get(s.ctx, objectstore.ContainerFor(testutil.TestIDs.EntityID), "sub-1.json")
	s.Require().NoError(err)
	var payload []map[string]any
	s.Require().NoError(json.Unmarshal(raw, &payload))
	s.Require().Len(payload, 3)
	meta := payload[2]
	s.Equal(MetadataItemType, meta["type"])
	s.Equal("sub-1", meta["submissionId"])
	s.Equal("consent-1", meta["consent"].(map[string]any)["consentId"])

	stats := s.stats.All()
	s.Require().Len(stats, 2)
	for _, st := range stats {
		s.Equal("sub-1", st.SubmissionID)
		s.Equal(s.holder.ID, st.HolderID)
		s.Equal(s.now, st.SubmissionTimestamp)
	}

	s.Require().Len(s.auditor.events, 1)
	s.Equal(audit.ActionSubmissionPersisted, s.auditor.events[0].Action)
	s.Equal("sub-1", s.auditor.events[0].Reference)
}

func (s *ServiceSuite) TestSubmit_NoConsent() {
	s.Run("no receipt in the bundle", func() {
		out, err := s.service().Submit(s.ctx, s.upload("b-none", s.selfAttested("urn:uuid:a")))
		s.Require().NoError(err)
		s.Equal(StatusNotProcessed, out.Status)
		s.Equal(StateRejected, out.State)
		s.Equal(MsgNoConsent, out.Message)
		s.Empty(out.ValidCredentials)
	})

	s.Run("expired receipt", func() {
		out, err := s.service().Submit(s.ctx, s.upload("b-old",
			s.consent("c-old", s.now.Add(-9*7*24*time.Hour)),
			s.selfAttested("urn:uuid:a"),
		))
		s.Require().NoError(err)
		s.Equal(MsgNoConsent, out.Message)
	})

	names, err := s.objects.List(s.ctx, objectstore.ContainerFor(testutil.TestIDs.EntityID))
	s.Require().NoError(err)
	s.Empty(names)
	s.Empty(s.stats.All())
	for _, e := range s.auditor.events {
		s.Equal(audit.ActionSubmissionRejected, e.Action)
	}
}

func (s *ServiceSuite) TestSubmit_NoValidCredentialReturnsInvalidList() {
	out, err := s.service().Submit(s.ctx, s.upload("b-1",
		s.consent("c-1", s.now),
		s.tampered("urn:uuid:x"),
		json.RawMessage(`{"unknown":"shape"}`),
	))
	s.Require().NoError(err)
	s.Equal(StatusNotProcessed, out.Status)
	s.Equal(MsgNoCredentials, out.Message)
	s.Require().Len(out.InvalidCredentials, 2)
	s.Equal("urn:uuid:x", out.InvalidCredentials[0].ID)
	s.Equal(models.InvalidCredential{Type: models.CredTypeUnknown, ID: "item-2", Reason: "unsupported credential"}, out.InvalidCredentials[1])
	s.NotEmpty(out.InvalidCredentials[0].Reason)
}

func (s *ServiceSuite) TestSubmit_FirstConsentWins() {
	expired := s.consent("c-expired", s.now.Add(-9*7*24*time.Hour))
	fresh := s.consent("c-fresh", s.now)
	cred := s.selfAttested("urn:uuid:a")

	out, err := s.service().Submit(s.ctx, s.upload("b-1", expired, fresh, cred))
	s.Require().NoError(err)
	s.Equal(StatusNotProcessed, out.Status, "the expired receipt comes first and is the one used")

	out, err = s.service().Submit(s.ctx, s.upload("b-2", fresh, expired, cred))
	s.Require().NoError(err)
	s.Equal(StatusProcessed, out.Status)
}

func (s *ServiceSuite) TestSubmit_PersistenceFailure() {
	s.deps.Objects = failingObjects{objectstore.NewMemory()}
	out, err := s.service().Submit(s.ctx, s.upload("b-1", s.consent("c-1", s.now), s.selfAttested("urn:uuid:a")))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
	s.Require().NotNil(out)
	s.Equal(StatusNotProcessed, out.Status)
	s.Equal(MsgPersistFailed, out.Message)
	s.Empty(s.stats.All(), "stats are only written after the payload is stored")
}

func (s *ServiceSuite) TestSubmit_StatsFailureIsBestEffort() {
	stats := mocks.NewMockStatsWriter(s.ctrl)
	stats.EXPECT().BulkInsert(gomock.Any(), gomock.Len(1)).Return(errors.New("stats db down"))
	s.deps.Stats = stats

	out, err := s.service().Submit(s.ctx, s.upload("b-1", s.consent("c-1", s.now), s.selfAttested("urn:uuid:a")))
	s.Require().NoError(err)
	s.Equal(StatusProcessed, out.Status)
	s.Equal(StateStatsRecorded, out.State)
}

func (s *ServiceSuite) TestSubmit_InputErrors() {
	s.Run("unknown holder", func() {
		_, err := s.service().Submit(s.ctx, SubmitRequest{HolderID: "nobody", DocumentID: "b"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("holder store failure", func() {
		holders := mocks.NewMockHolderStore(s.ctrl)
		holders.EXPECT().Get(gomock.Any(), s.holder.ID).Return(nil, errors.New("connection reset"))
		deps := s.deps
		deps.Holders = holders
		_, err := New(deps).Submit(s.ctx, SubmitRequest{HolderID: s.holder.ID, DocumentID: "b"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("missing bundle", func() {
		_, err := s.service().Submit(s.ctx, SubmitRequest{HolderID: s.holder.ID, DocumentID: "never-uploaded"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("bundle sealed under another key", func() {
		other, err := cipher.GenerateKey(cipher.AES256GCM)
		s.Require().NoError(err)
		sealed, err := cipher.Encrypt(testutil.Bundle(s.consent("c", s.now)), other)
		s.Require().NoError(err)
		s.documents.Put("foreign", base64.StdEncoding.EncodeToString(sealed))

		_, err = s.service().Submit(s.ctx, SubmitRequest{HolderID: s.holder.ID, DocumentID: "foreign"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("organization config lookup failure", func() {
		entities := mocks.NewMockEntityStore(s.ctrl)
		entities.EXPECT().Get(gomock.Any(), testutil.TestIDs.EntityID).Return(nil, errors.New("timeout"))
		deps := s.deps
		deps.Entities = entities
		_, err := New(deps).Submit(s.ctx, s.upload("b-1", s.consent("c", s.now)))
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestSubmitCredential() {
	svc := s.service()

	s.Run("issuer-signed credential for a batch row", func() {
		out, err := svc.SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   "row-holder-7",
			BatchID:    "batch-1",
			Credential: s.issuer.SignW3C(testutil.VaccinationCredential("urn:uuid:row-7")),
		})
		s.Require().NoError(err)
		s.True(out.Processed())
		s.Require().Len(out.Stats, 1)
		s.Equal("batch-1", out.Stats[0].BatchID)
		s.Equal("row-holder-7", out.Stats[0].HolderID)
	})

	s.Run("unverifiable credential", func() {
		rogue := testutil.NewIssuer("https://rogue.example.org", "k")
		out, err := svc.SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   "row-holder-8",
			Credential: rogue.SignW3C(testutil.VaccinationCredential("urn:uuid:row-8")),
		})
		s.Require().NoError(err)
		s.False(out.Processed())
		s.Equal(MsgNoCredentials, out.Message)
		s.Len(out.InvalidCredentials, 1)
	})

	s.Run("self-attested credential checked with the holder's profile key", func() {
		out, err := svc.SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   s.holder.ID,
			Credential: s.selfAttested("urn:uuid:self-1"),
		})
		s.Require().NoError(err)
		s.True(out.Processed())
	})

	s.Run("self-attested credential of a holder without a profile", func() {
		out, err := svc.SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   "row-holder-9",
			Credential: s.selfAttested("urn:uuid:self-2"),
		})
		s.Require().NoError(err)
		s.False(out.Processed())
		s.Require().Len(out.InvalidCredentials, 1)
	})

	s.Run("holder lookup failure", func() {
		holders := mocks.NewMockHolderStore(s.ctrl)
		holders.EXPECT().Get(gomock.Any(), "h-1").Return(nil, errors.New("connection reset"))
		deps := s.deps
		deps.Holders = holders
		_, err := New(deps).SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   "h-1",
			Credential: s.selfAttested("urn:uuid:self-3"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("consent receipt is not a credential", func() {
		_, err := svc.SubmitCredential(s.ctx, CredentialRequest{
			EntityID:   testutil.TestIDs.EntityID,
			HolderID:   "h",
			Credential: s.consent("c", s.now),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("entity id required", func() {
		_, err := svc.SubmitCredential(s.ctx, CredentialRequest{HolderID: "h"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestMachine(t *testing.T) {
	m := newMachine()
	if err := m.advance(StatePersisted); err == nil {
		t.Fatal("RECEIVED -> PERSISTED must be refused")
	}
	for _, next := range []State{StateBundleDecrypted, StateItemsClassified, StateConsentChecked, StateCredentialsChecked, StatePersisted, StateStatsRecorded} {
		if err := m.advance(next); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.advance(StateRejected); err == nil {
		t.Fatal("terminal state must not advance")
	}
}
