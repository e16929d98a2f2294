package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "healthcred/pkg/domain-errors"
)

type upload struct {
	EntityID string           `json:"-" validate:"required"`
	DocType  string           `json:"type" validate:"notblank,max=8"`
	Rows     []map[string]any `json:"rows" validate:"min=1,max=2"`
}

func TestValidate(t *testing.T) {
	ok := upload{EntityID: "org-1", DocType: "Card", Rows: []map[string]any{{}}}
	require.NoError(t, Validate(&ok))

	cases := []struct {
		name string
		req  upload
		msg  string
	}{
		{"untagged field uses its go name", upload{DocType: "Card", Rows: ok.Rows}, "entityID is required"},
		{"blank string", upload{EntityID: "org-1", DocType: "  ", Rows: ok.Rows}, "type must not be blank"},
		{"long string", upload{EntityID: "org-1", DocType: "MembershipCard", Rows: ok.Rows}, "type must be at most 8"},
		{"empty slice", upload{EntityID: "org-1", DocType: "Card"}, "rows must have at least 1 entries"},
		{"long slice", upload{EntityID: "org-1", DocType: "Card", Rows: make([]map[string]any, 3)}, "rows must have at most 2 entries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}
