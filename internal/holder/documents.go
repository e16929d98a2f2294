package holder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"healthcred/internal/platform/httpclient"
	"healthcred/pkg/platform/sentinel"
)

// DocumentClient talks to the document service over HTTP.
type DocumentClient struct {
	client *httpclient.Client
}

// NewDocumentClient wraps a configured httpclient.
func NewDocumentClient(client *httpclient.Client) *DocumentClient {
	return &DocumentClient{client: client}
}

type documentResponse struct {
	Content string `json:"content"`
}

// Fetch returns the base64 content of a document. It returns
// sentinel.ErrNotFound when the document does not exist and sentinel.ErrEmpty
// when it exists without content.
func (c *DocumentClient) Fetch(ctx context.Context, documentID, linkID, token string) (string, error) {
	var resp documentResponse
	if err := c.client.GetJSON(ctx, documentPath(documentID, linkID, token), &resp); err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return "", fmt.Errorf("document %s: %w", documentID, sentinel.ErrNotFound)
		}
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("document %s: %w", documentID, sentinel.ErrEmpty)
	}
	return content, nil
}

// Delete removes a document. A document that is already gone counts as deleted.
func (c *DocumentClient) Delete(ctx context.Context, documentID, linkID, token string) error {
	err := c.client.Delete(ctx, documentPath(documentID, linkID, token))
	if err != nil && !httpclient.IsStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

func documentPath(documentID, linkID, token string) string {
	q := url.Values{}
	q.Set("linkId", linkID)
	q.Set("token", token)
	return "/documents/" + url.PathEscape(documentID) + "?" + q.Encode()
}

// MemoryDocuments is an in-process document service used when no document
// service URL is configured and in tests.
type MemoryDocuments struct {
	mu      sync.Mutex
	docs    map[string]string
	deleted []string
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string]string)}
}

// Put stores base64 content under documentID.
func (m *MemoryDocuments) Put(documentID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = content
}

func (m *MemoryDocuments) Fetch(_ context.Context, documentID, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.docs[documentID]
	if !ok {
		return "", fmt.Errorf("document %s: %w", documentID, sentinel.ErrNotFound)
	}
	if content == "" {
		return "", fmt.Errorf("document %s: %w", documentID, sentinel.ErrEmpty)
	}
	return content, nil
}

func (m *MemoryDocuments) Delete(_ context.Context, documentID, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentID)
	m.deleted = append(m.deleted, documentID)
	return nil
}

// Deleted lists document ids passed to Delete, in call order.
func (m *MemoryDocuments) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// IsMissing reports whether err means the document cannot be used.
func IsMissing(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrEmpty)
}
