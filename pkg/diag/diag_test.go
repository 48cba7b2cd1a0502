package diag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResult_EmptyIsOK(t *testing.T) {
	r := NewResult(nil)
	assert.True(t, r.OK)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"diagnostics":[]}`, string(b))
}

func TestNewResult_AnyDiagnosticFails(t *testing.T) {
	r := NewResult([]Diagnostic{
		New(LinkNotGrounded, "response.links[0]", "Link not grounded"),
		New(LinkNotGrounded, "response.links[2]", "Link not grounded"),
		New(MinimalityMissing, "commitments", "missing"),
	})

	assert.False(t, r.OK)
	assert.Equal(t, 2, r.Count(LinkNotGrounded))
	assert.True(t, r.Has(MinimalityMissing))
	assert.False(t, r.Has(SchemaError))
	assert.Equal(t, map[Code]int{LinkNotGrounded: 2, MinimalityMissing: 1}, r.CodeCounts())
}

func TestWith_DoesNotAlias(t *testing.T) {
	base := New(PolicyViolation, "policy.P1.when", "inapplicable")
	a := base.With("clause_id", "P1")
	b := a.With("extra", 1)

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]any{"clause_id": "P1"}, a.Details)
	assert.Equal(t, map[string]any{"clause_id": "P1", "extra": 1}, b.Details)
}

func TestCodes_Closed(t *testing.T) {
	assert.Len(t, Codes(), 15)
	assert.True(t, WriteSafetyFail.Valid())
	assert.False(t, Code("SOMETHING_ELSE").Valid())
}
