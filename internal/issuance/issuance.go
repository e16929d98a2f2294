// Package issuance calls the rate-limited credential issuance service that
// turns a batch row into a signed credential.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"healthcred/internal/platform/httpclient"
	dErrors "healthcred/pkg/domain-errors"
)

// Request asks the issuance service for one credential.
type Request struct {
	EntityID string         `json:"entityId"`
	HolderID string         `json:"holderId"`
	DocType  string         `json:"type"`
	Claims   map[string]any `json:"claims"`
}

type response struct {
	Credential json.RawMessage `json:"credential"`
}

// Client is the HTTP issuance client. Transient failures are retried by the
// underlying httpclient; 4xx responses surface as validation errors.
type Client struct {
	client *httpclient.Client
}

func NewClient(client *httpclient.Client) *Client {
	return &Client{client: client}
}

// Issue returns the issued credential as it would appear in a bundle: a JSON
// object or a JSON string holding a compact encoding.
func (c *Client) Issue(ctx context.Context, req Request) (json.RawMessage, error) {
	var resp response
	if err := c.client.PostJSON(ctx, "/credentials", req, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode >= http.StatusBadRequest && se.StatusCode < http.StatusInternalServerError {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "issuance rejected the row")
		}
		return nil, err
	}
	if len(resp.Credential) == 0 || string(resp.Credential) == "null" {
		return nil, dErrors.New(dErrors.CodeInternal, "issuance returned no credential")
	}
	return resp.Credential, nil
}
