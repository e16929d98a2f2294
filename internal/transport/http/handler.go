package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	batchmodels "healthcred/internal/batch/models"
	"healthcred/internal/category"
	"healthcred/internal/holder"
	"healthcred/internal/issuance"
	"healthcred/internal/orgcontext"
	submission "healthcred/internal/submission/service"
	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/httputil"
	"healthcred/pkg/platform/sentinel"
	"healthcred/pkg/validation"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Capabilities,Submissions,Batches,Holders,OrgContexts,Issuer

// Capabilities resolves an organization's category behavior.
type Capabilities interface {
	For(ctx context.Context, entityID string) (category.Capability, error)
}

// Submissions is the single-credential submission path.
type Submissions interface {
	SubmitCredential(ctx context.Context, req submission.CredentialRequest) (*submission.Outcome, error)
}

type Batches interface {
	Status(ctx context.Context, entityID, batchID string) (*batchmodels.Status, error)
}

type Holders interface {
	Get(ctx context.Context, holderID string) (*holder.Profile, error)
}

// OrgContexts is the per-organization verification state registry.
type OrgContexts interface {
	Invalidate(ctx context.Context, entityID string)
	Refresh(ctx context.Context, entityID string) (*orgcontext.Context, error)
}

type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (json.RawMessage, error)
}

// Handler serves the submission and batch endpoints. It resolves the
// organization's capability and hands off; no pipeline logic lives here.
type Handler struct {
	caps        Capabilities
	submissions Submissions
	batches     Batches
	holders     Holders
	orgs        OrgContexts
	issuer      Issuer
	logger      *slog.Logger
}

// Deps are the Handler's collaborators. Issuer may be nil, in which case the
// holder issuance route is not mounted.
type Deps struct {
	Capabilities Capabilities
	Submissions  Submissions
	Batches      Batches
	Holders      Holders
	OrgContexts  OrgContexts
	Issuer       Issuer
}

func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		caps:        deps.Capabilities,
		submissions: deps.Submissions,
		batches:     deps.Batches,
		holders:     deps.Holders,
		orgs:        deps.OrgContexts,
		issuer:      deps.Issuer,
		logger:      logger,
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/submissions", h.handleSubmit)
	r.Route("/entities/{entityID}", func(r chi.Router) {
		r.Post("/credentials", h.handleSubmitCredential)
		r.Post("/batches", h.handleUploadBatch)
		r.Get("/batches/{batchID}", h.handleBatchStatus)
		r.Post("/cache/invalidate", h.handleInvalidate)
		if h.issuer != nil {
			r.Post("/holders/{holderID}/credentials", h.handleIssueHolderCredential)
		}
	})
}

type credentialBody struct {
	HolderID   string          `json:"holderId" validate:"required"`
	BatchID    string          `json:"batchId,omitempty"`
	Credential json.RawMessage `json:"credential" validate:"required"`
}

type issueBody struct {
	DocType string         `json:"type" validate:"notblank"`
	Claims  map[string]any `json:"claims"`
}

type invalidateResponse struct {
	EntityID   string `json:"entityId"`
	Refreshed  bool   `json:"refreshed"`
	IssuerKeys int    `json:"issuerKeys,omitempty"`
}

// handleSubmit takes a holder's bundle reference. The organization comes from
// the holder profile, not the URL.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[submission.SubmitRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := validation.Validate(req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.profile(ctx, req.HolderID)
	if err != nil {
		h.fail(ctx, w, "failed to load holder", err)
		return
	}
	capability, err := h.caps.For(ctx, profile.EntityID)
	if err != nil {
		h.fail(ctx, w, "failed to resolve organization category", err)
		return
	}
	out, err := capability.SubmitEntityData(ctx, *req)
	h.writeOutcome(ctx, w, out, err)
}

func (h *Handler) handleSubmitCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeJSON[credentialBody](w, r, h.logger)
	if !ok {
		return
	}
	if err := validation.Validate(body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.submissions.SubmitCredential(ctx, submission.CredentialRequest{
		EntityID:   chi.URLParam(r, "entityID"),
		HolderID:   body.HolderID,
		BatchID:    body.BatchID,
		Credential: body.Credential,
	})
	h.writeOutcome(ctx, w, out, err)
}

func (h *Handler) handleUploadBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[batchmodels.UploadRequest](w, r, h.logger)
	if !ok {
		return
	}
	req.EntityID = chi.URLParam(r, "entityID")
	capability, err := h.caps.For(ctx, req.EntityID)
	if err != nil {
		h.fail(ctx, w, "failed to resolve organization category", err)
		return
	}
	accepted, err := capability.UploadEntityData(ctx, *req)
	if err != nil {
		h.fail(ctx, w, "batch upload failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, accepted)
}

func (h *Handler) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.batches.Status(ctx, chi.URLParam(r, "entityID"), chi.URLParam(r, "batchID"))
	if err != nil {
		h.fail(ctx, w, "failed to read batch status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// handleInvalidate drops the organization's cached verification state.
// With ?refresh=true the state is rebuilt and warmed immediately.
func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "entityID")
	if r.URL.Query().Get("refresh") != "true" {
		h.orgs.Invalidate(ctx, entityID)
		httputil.WriteJSON(w, http.StatusOK, invalidateResponse{EntityID: entityID})
		return
	}
	c, err := h.orgs.Refresh(ctx, entityID)
	if err != nil {
		h.fail(ctx, w, "failed to refresh organization context",
			dErrors.Wrap(err, dErrors.CodeTransient, "issuer keys could not be loaded"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, invalidateResponse{
		EntityID:   entityID,
		Refreshed:  true,
		IssuerKeys: c.Keys.Len(),
	})
}

// handleIssueHolderCredential asks the issuance service for a credential
// about an enrolled holder and submits the result on the holder's behalf.
func (h *Handler) handleIssueHolderCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityID := chi.URLParam(r, "entityID")
	body, ok := httputil.DecodeJSON[issueBody](w, r, h.logger)
	if !ok {
		return
	}
	if err := validation.Validate(body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.profile(ctx, chi.URLParam(r, "holderID"))
	if err == nil && profile.EntityID != entityID {
		err = dErrors.New(dErrors.CodeNotFound, "holder not found")
	}
	if err != nil {
		h.fail(ctx, w, "failed to load holder", err)
		return
	}
	capability, err := h.caps.For(ctx, entityID)
	if err != nil {
		h.fail(ctx, w, "failed to resolve organization category", err)
		return
	}
	issueReq, err := capability.PrepareUserCredentialData(ctx, profile, body.DocType, body.Claims)
	if err != nil {
		h.fail(ctx, w, "failed to prepare credential data", err)
		return
	}
	credential, err := h.issuer.Issue(ctx, issueReq)
	if err != nil {
		h.fail(ctx, w, "credential issuance failed", err)
		return
	}
	out, err := h.submissions.SubmitCredential(ctx, submission.CredentialRequest{
		EntityID:   entityID,
		HolderID:   issueReq.HolderID,
		Credential: credential,
	})
	h.writeOutcome(ctx, w, out, err)
}

func (h *Handler) profile(ctx context.Context, holderID string) (*holder.Profile, error) {
	p, err := h.holders.Get(ctx, holderID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "holder not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load holder profile")
	}
	return p, nil
}

// writeOutcome answers 201 for a persisted submission and 422 for one that
// was rejected (no consent, no valid credential). Both carry the Outcome.
func (h *Handler) writeOutcome(ctx context.Context, w http.ResponseWriter, out *submission.Outcome, err error) {
	if err != nil {
		h.fail(ctx, w, "submission failed", err)
		return
	}
	status := http.StatusCreated
	if !out.Processed() {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, out)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	var de *dErrors.Error
	if !errors.As(err, &de) || httputil.DomainCodeToHTTPStatus(de.Code) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg, "error", err)
	httputil.WriteError(w, err)
}
