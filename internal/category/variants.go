package category

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"

	batchmodels "healthcred/internal/batch/models"
	"healthcred/internal/credential/models"
	"healthcred/internal/holder"
	"healthcred/internal/issuance"
	submission "healthcred/internal/submission/service"
	dErrors "healthcred/pkg/domain-errors"
)

// holderNamespace seeds derived holder ids for organization batch rows.
var holderNamespace = uuid.MustParse("6f1c9e2a-52b4-4c1e-9d53-0b7f3f5a8e11")

// Individual is the category for organizations whose holders enroll and
// submit their own bundles. It has no batch ingestion.
type Individual struct {
	submitter Submitter
}

func NewIndividual(submitter Submitter) *Individual {
	return &Individual{submitter: submitter}
}

func (c *Individual) Name() string {
	return models.CategoryIndividual
}

func (c *Individual) PrepareUserCredentialData(_ context.Context, profile *holder.Profile, docType string, claims map[string]any) (issuance.Request, error) {
	return userRequest(c, profile, docType, claims, nil)
}

func (c *Individual) PrepareProfileCredentialData(_ context.Context, row batchmodels.Row) (issuance.Request, error) {
	return issuance.Request{}, dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("organization %s does not issue profile credentials", row.EntityID))
}

func (c *Individual) SubmitEntityData(ctx context.Context, req submission.SubmitRequest) (*submission.Outcome, error) {
	return c.submitter.Submit(ctx, req)
}

func (c *Individual) UploadEntityData(_ context.Context, req batchmodels.UploadRequest) (*batchmodels.Accepted, error) {
	return nil, dErrors.New(dErrors.CodeValidation,
		fmt.Sprintf("organization %s does not accept batch uploads", req.EntityID))
}

// HolderID is the enrolled profile's id.
func (c *Individual) HolderID(ref HolderRef) (string, error) {
	if ref.Profile == nil || ref.Profile.HolderID == "" {
		return "", dErrors.New(dErrors.CodeValidation, "holder profile is required")
	}
	return ref.Profile.HolderID, nil
}

// Organization is the category for organizations that issue credentials to
// their members in batches. Batch rows carry the holder reference.
type Organization struct {
	submitter Submitter
	uploader  Uploader
}

// NewOrganization creates the organization category. uploader may be nil
// when no issuance service is configured; batch uploads are then refused.
func NewOrganization(submitter Submitter, uploader Uploader) *Organization {
	return &Organization{submitter: submitter, uploader: uploader}
}

func (c *Organization) Name() string {
	return models.CategoryOrganization
}

func (c *Organization) PrepareUserCredentialData(_ context.Context, profile *holder.Profile, docType string, claims map[string]any) (issuance.Request, error) {
	var extra map[string]any
	if profile != nil {
		extra = map[string]any{"organizationId": profile.EntityID}
	}
	return userRequest(c, profile, docType, claims, extra)
}

func (c *Organization) PrepareProfileCredentialData(_ context.Context, row batchmodels.Row) (issuance.Request, error) {
	holderID, err := c.HolderID(HolderRef{Row: &row})
	if err != nil {
		return issuance.Request{}, err
	}
	claims := maps.Clone(row.Fields)
	if claims == nil {
		claims = map[string]any{}
	}
	delete(claims, "holderId")
	claims["id"] = holderID
	claims["organizationId"] = row.EntityID
	return issuance.Request{
		EntityID: row.EntityID,
		HolderID: holderID,
		DocType:  row.DocType,
		Claims:   claims,
	}, nil
}

func (c *Organization) SubmitEntityData(ctx context.Context, req submission.SubmitRequest) (*submission.Outcome, error) {
	return c.submitter.Submit(ctx, req)
}

func (c *Organization) UploadEntityData(ctx context.Context, req batchmodels.UploadRequest) (*batchmodels.Accepted, error) {
	if c.uploader == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "batch issuance is not configured")
	}
	return c.uploader.Upload(ctx, req)
}

// HolderID prefers an explicit holderId column. Otherwise the id is derived
// from the organization and the row's externalId, so re-uploading a member
// yields the same holder.
func (c *Organization) HolderID(ref HolderRef) (string, error) {
	if ref.Profile != nil && ref.Profile.HolderID != "" {
		return ref.Profile.HolderID, nil
	}
	if ref.Row == nil {
		return "", dErrors.New(dErrors.CodeValidation, "holder reference is required")
	}
	if id, ok := ref.Row.Fields["holderId"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id), nil
	}
	ext, ok := ref.Row.Fields["externalId"]
	if !ok || ext == nil || fmt.Sprint(ext) == "" {
		return "", dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("row %d has neither holderId nor externalId", ref.Row.RowID))
	}
	return uuid.NewSHA1(holderNamespace, []byte(ref.Row.EntityID+"/"+fmt.Sprint(ext))).String(), nil
}

func userRequest(c Capability, profile *holder.Profile, docType string, claims, extra map[string]any) (issuance.Request, error) {
	holderID, err := c.HolderID(HolderRef{Profile: profile})
	if err != nil {
		return issuance.Request{}, err
	}
	if docType == "" {
		return issuance.Request{}, dErrors.New(dErrors.CodeValidation, "credential type is required")
	}
	out := maps.Clone(claims)
	if out == nil {
		out = map[string]any{}
	}
	maps.Copy(out, extra)
	out["id"] = holderID
	return issuance.Request{
		EntityID: profile.EntityID,
		HolderID: holderID,
		DocType:  docType,
		Claims:   out,
	}, nil
}
