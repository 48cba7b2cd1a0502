package replay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

func runOp(t *testing.T, name string, oc *OpContext, inputs []any, fact certificate.DerivedFact) (any, error) {
	t.Helper()
	op, ok := testRegistry(t).Lookup(name)
	require.True(t, ok, name)
	if oc == nil {
		oc = NewOpContext(certificate.IdentityContext{}, certificate.Response{}, testTrace())
	}
	return op.Fn(oc, condition.Env{}, inputs, fact)
}

func normalizeFact(op, field string) certificate.NormalizeFact {
	return certificate.NormalizeFact{FactNode: certificate.FactNode{ID: "n", Op: op}, Field: field}
}

func TestNormalizeOps(t *testing.T) {
	tests := []struct {
		op    string
		input any
		field string
		want  string
	}{
		{OpNormWhitespace, map[string]any{"value": "  Alice \t  Smith\n"}, "", "Alice Smith"},
		{OpNormPersonName, map[string]any{"value": "  ALICE   Smith "}, "", "alice smith"},
		{OpNormPersonName, "Zélie", "", "zélie"},
		{OpNormProjectName, map[string]any{"name": "Project: Apollo (Phase II)"}, "name", "project-apollo-phase-ii"},
		{OpNormProjectName, "  --Data Lake--  ", "", "data-lake"},
	}

	for _, tt := range tests {
		t.Run(tt.op+"/"+tt.want, func(t *testing.T) {
			got, err := runOp(t, tt.op, nil, []any{tt.input}, normalizeFact(tt.op, tt.field))
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"value": tt.want}, got)
		})
	}

	_, err := runOp(t, OpNormWhitespace, nil, []any{map[string]any{"value": 3.0}}, normalizeFact(OpNormWhitespace, ""))
	assert.Error(t, err)
	_, err = runOp(t, OpNormWhitespace, nil, []any{"a", "b"}, normalizeFact(OpNormWhitespace, ""))
	assert.Error(t, err)
}

func TestDataClassFromFields(t *testing.T) {
	classify := func(fields ...string) certificate.ClassifyFact {
		return certificate.ClassifyFact{FactNode: certificate.FactNode{ID: "c", Op: OpDataClassFromFields}, Fields: fields}
	}

	tests := []struct {
		name   string
		inputs []any
		fact   certificate.ClassifyFact
		want   string
	}{
		{"default internal", []any{map[string]any{"value": "Apollo"}}, classify(), ClassInternal},
		{"pii field", []any{map[string]any{"email": "x"}}, classify(), ClassConfidential},
		{"pii value", []any{map[string]any{"note": "reach me at a.b@corp.example"}}, classify(), ClassConfidential},
		{"secret field wins", []any{map[string]any{"email": "a@b.io", "api_key": "k"}}, classify(), ClassRestricted},
		{"field filter", []any{map[string]any{"email": "a@b.io", "name": "Bob"}}, classify("name"), ClassInternal},
		{"nested", []any{map[string]any{"value": []any{map[string]any{"salary": 1.0}}}}, classify(), ClassConfidential},
		{"tagged public", []any{map[string]any{"visibility": "public", "title": "Handbook"}}, classify(), ClassPublic},
		{"one untagged input", []any{map[string]any{"visibility": "public"}, map[string]any{"title": "x"}}, classify(), ClassInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runOp(t, OpDataClassFromFields, nil, tt.inputs, tt.fact)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"data_class": tt.want}, got)
		})
	}
}

func TestJoinByID(t *testing.T) {
	people := map[string]any{"value": []any{
		map[string]any{"id": "e1", "name": "Alice"},
		map[string]any{"id": "e2", "name": "Bob"},
	}}
	join := func(key string) certificate.JoinFact {
		return certificate.JoinFact{FactNode: certificate.FactNode{ID: "j", Op: OpJoinByID}, Key: key}
	}

	got, err := runOp(t, OpJoinByID, nil, []any{people, map[string]any{"value": "e2"}}, join(""))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": map[string]any{"id": "e2", "name": "Bob"}}, got)

	roles := []any{
		map[string]any{"id": "e2", "role": "lead"},
		map[string]any{"id": "e3", "role": "qa"},
	}
	got, err = runOp(t, OpJoinByID, nil, []any{people, roles}, join("id"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": []any{
		map[string]any{"id": "e2", "name": "Bob", "role": "lead"},
	}}, got)

	_, err = runOp(t, OpJoinByID, nil, []any{people, "e9"}, join(""))
	assert.Error(t, err)
	_, err = runOp(t, OpJoinByID, nil, []any{"not a list", "e1"}, join(""))
	assert.Error(t, err)
	_, err = runOp(t, OpJoinByID, nil, []any{people}, join(""))
	assert.Error(t, err)
}

func TestComputeLinksMinimal(t *testing.T) {
	oc := NewOpContext(certificate.IdentityContext{}, certificate.Response{}, certificate.ExecutionTrace{
		Artifacts: []certificate.Artifact{
			{Kind: "project", ID: "p1"},
			{Kind: "employee", ID: "e2"},
			{Kind: "employee", ID: "e1"},
		},
	})
	fact := certificate.ComputeFact{FactNode: certificate.FactNode{ID: "l", Op: OpComputeLinksMinimal}}

	got, err := runOp(t, OpComputeLinksMinimal, oc, []any{
		map[string]any{"value": []any{
			map[string]any{"kind": "employee", "id": "e2"},
			map[string]any{"kind": "employee", "id": "e1", "team": map[string]any{"kind": "project", "id": "p1"}},
			map[string]any{"kind": "employee", "id": "e2"},
			map[string]any{"kind": "employee", "id": "ghost"},
			map[string]any{"kind": "robot", "id": "p1"},
		}},
	}, fact)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"links": []any{
		map[string]any{"kind": "employee", "id": "e1"},
		map[string]any{"kind": "employee", "id": "e2"},
		map[string]any{"kind": "project", "id": "p1"},
	}}, got)
}

func TestCELEval(t *testing.T) {
	compute := func(expr string, params map[string]any) certificate.ComputeFact {
		return certificate.ComputeFact{FactNode: certificate.FactNode{ID: "x", Op: OpCELEval}, Expr: expr, Params: params}
	}

	got, err := runOp(t, OpCELEval, nil, []any{map[string]any{"value": "bob"}}, compute(`inputs[0].value + "@" + params.domain`, map[string]any{"domain": "corp"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": "bob@corp"}, got)

	got, err = runOp(t, OpCELEval, nil, []any{map[string]any{"value": []any{1.0, 2.0, 3.0}}}, compute(`inputs[0].value.size()`, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 3.0}, got)

	got, err = runOp(t, OpCELEval, nil, nil, compute(`{"ok": true, "n": [1, 2]}`, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": map[string]any{"ok": true, "n": []any{1.0, 2.0}}}, got)

	_, err = runOp(t, OpCELEval, nil, nil, compute(`this is not cel`, nil))
	assert.Error(t, err)
	_, err = runOp(t, OpCELEval, nil, nil, compute(``, nil))
	assert.Error(t, err)
	_, err = runOp(t, OpCELEval, nil, nil, compute(`inputs[3]`, nil))
	assert.Error(t, err)
}

func TestCELEval_MapIterationIsOrdered(t *testing.T) {
	params := map[string]any{}
	for _, k := range []string{"j", "c", "a", "h", "e", "b", "i", "d", "g", "f"} {
		params[k] = k + "!"
	}
	nested := map[string]any{"value": map[string]any{"z": 1.0, "y": 2.0, "x": 3.0, "w": 4.0}}
	tests := []struct {
		expr   string
		inputs []any
		want   any
	}{
		{`params.map(k, k)`, nil, []any{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}},
		{`params.filter(k, k > "f").map(k, params[k])`, nil, []any{"g!", "h!", "i!", "j!"}},
		{`inputs[0].value.map(k, k)`, []any{nested}, []any{"w", "x", "y", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			fact := certificate.ComputeFact{FactNode: certificate.FactNode{ID: "x", Op: OpCELEval}, Expr: tt.expr, Params: params}
			for i := 0; i < 50; i++ {
				got, err := runOp(t, OpCELEval, nil, tt.inputs, fact)
				require.NoError(t, err)
				require.Equal(t, map[string]any{"value": tt.want}, got, "run %d", i)
			}
		})
	}
}

func TestCELEval_RejectsMapLiteralRange(t *testing.T) {
	fact := certificate.ComputeFact{FactNode: certificate.FactNode{ID: "x", Op: OpCELEval}, Expr: `{"b": 1, "a": 2}.map(k, k)`}
	_, err := runOp(t, OpCELEval, nil, nil, fact)
	assert.ErrorContains(t, err, "map literal")

	// Map literals are fine when nothing ranges over them.
	fact.Expr = `{"b": 1, "a": 2}.size()`
	got, err := runOp(t, OpCELEval, nil, nil, fact)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 2.0}, got)
}

func TestCELEvaluator_ProgramCacheIsBounded(t *testing.T) {
	e, err := newCELEvaluator(4)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		fact := certificate.ComputeFact{FactNode: certificate.FactNode{ID: "x", Op: OpCELEval}, Expr: fmt.Sprintf("%d + 1", i)}
		got, err := e.eval(nil, condition.Env{}, nil, fact)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"value": float64(i + 1)}, got)
		assert.LessOrEqual(t, e.programs.Len(), 4)
	}
	assert.True(t, e.programs.Contains("19 + 1"))
	assert.False(t, e.programs.Contains("0 + 1"))
}
