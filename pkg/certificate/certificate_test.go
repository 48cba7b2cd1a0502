package certificate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCertificate = `{
  "pc_version": "1.0.0",
  "task_text": "Who leads project Apollo?",
  "response": {
    "message": "Alice leads Apollo.",
    "outcome": "ok_answer",
    "links": [{"kind": "employee", "id": "emp_alice"}, {"kind": "project", "id": "proj_apollo"}]
  },
  "execution_trace": {
    "ctx_hash": "c0ffee",
    "calls": [
      {"id": "c1", "request": {"tool": "projects_get", "method": "GET", "args": {"id": "proj_apollo"}},
       "response": {"project": {"lead": "Alice", "id": "proj_apollo"}}, "timestamp_ms": 17},
      {"id": "c2", "request": {"tool": "employees_get"}}
    ],
    "artifacts": [{"kind": "employee", "id": "emp_alice"}, {"kind": "project", "id": "proj_apollo"}]
  },
  "derived_facts": {"facts": [
    {"kind": "select", "id": "f1", "op": "json_select", "inputs": [], "call_id": "c1", "json_pointer": "/project/lead", "output": {"value": "Alice"}},
    {"kind": "normalize", "id": "f2", "op": "norm_person_name", "inputs": ["f1"], "output": {"value": "alice"}},
    {"kind": "classify", "id": "f3", "op": "data_class_from_fields", "inputs": ["f1"], "fields": ["lead"], "output": {"data_class": "INTERNAL"}},
    {"kind": "join", "id": "f4", "op": "join_by_id", "inputs": ["f1", "f2"], "key": "id", "output": []},
    {"kind": "compute", "id": "f5", "op": "cel_eval", "inputs": ["f2"], "expr": "inputs[0].value", "output": {"value": "alice"}}
  ]},
  "policy_refs": {"used_clause_ids": ["P2"]},
  "commitments": [
    {"id": "m1", "kind": "trace_binding", "claims": [{"type": "answer_from_call", "details": {"call_id": "c1"}, "supported_by_fact_ids": ["f1"]}]}
  ]
}`

func TestParse_Valid(t *testing.T) {
	cert, err := Parse([]byte(validCertificate))
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cert.PCVersion)
	assert.Equal(t, OutcomeOKAnswer, cert.Response.Outcome)
	assert.Len(t, cert.Response.Links, 2)

	c1, ok := cert.ExecutionTrace.Call("c1")
	require.True(t, ok)
	assert.True(t, c1.HasResponse())
	assert.Equal(t, "GET", c1.Request.Method)
	assert.Equal(t, int64(17), c1.TimestampMS)

	c2, ok := cert.ExecutionTrace.Call("c2")
	require.True(t, ok)
	assert.False(t, c2.HasResponse())

	assert.True(t, cert.ExecutionTrace.HasArtifact("project", "proj_apollo"))
	assert.False(t, cert.ExecutionTrace.HasArtifact("project", "emp_alice"))

	require.Len(t, cert.DerivedFacts.Facts, 5)
	sel, ok := cert.DerivedFacts.Facts[0].(SelectFact)
	require.True(t, ok)
	assert.Equal(t, "c1", sel.CallID)
	assert.Equal(t, "/project/lead", sel.JSONPointer)
	assert.Equal(t, map[string]any{"value": "Alice"}, sel.Node().Output)

	kinds := make([]FactKind, 0, 5)
	for _, f := range cert.DerivedFacts.Facts {
		kinds = append(kinds, f.Kind())
	}
	assert.Equal(t, []FactKind{FactSelect, FactNormalize, FactClassify, FactJoin, FactCompute}, kinds)

	assert.Equal(t, "id", cert.DerivedFacts.Facts[3].(JoinFact).Key)
	assert.Equal(t, "inputs[0].value", cert.DerivedFacts.Facts[4].(ComputeFact).Expr)

	claims := cert.CommitmentsOfKind(CommitTraceBinding)
	require.Len(t, claims, 1)
	callID, ok := claims[0].Claims[0].DetailString("call_id")
	assert.True(t, ok)
	assert.Equal(t, "c1", callID)
}

func TestParse_RoundTrip(t *testing.T) {
	cert, err := Parse([]byte(validCertificate))
	require.NoError(t, err)

	out, err := json.Marshal(cert)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, cert, again)
}

func TestParse_SchemaErrors(t *testing.T) {
	cases := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{"not json", `{`, ""},
		{"missing response", `{"pc_version":"1","task_text":"","execution_trace":{"ctx_hash":"","calls":[],"artifacts":[]},"derived_facts":{"facts":[]},"policy_refs":{"used_clause_ids":[]},"commitments":[]}`, ""},
		{"bad outcome", replaceOnce(validCertificate, `"outcome": "ok_answer"`, `"outcome": "maybe"`), "response.outcome"},
		{"bad link kind", replaceOnce(validCertificate, `{"kind": "employee", "id": "emp_alice"}, {"kind": "project"`, `{"kind": "robot", "id": "emp_alice"}, {"kind": "project"`), "response.links[0].kind"},
		{"select without pointer", replaceOnce(validCertificate, `, "json_pointer": "/project/lead"`, ``), "derived_facts.facts[0]"},
		{"bad response hash", replaceOnce(validCertificate, `"timestamp_ms": 17`, `"timestamp_ms": 17, "response_hash": "XYZ"`), "execution_trace.calls[0].response_hash"},
		{"bad alternative status", replaceOnce(validCertificate, `"commitments": [`, `"commitments": [{"id":"m0","kind":"minimality","for_outcome":"ok_not_found","checked_alternatives":[{"outcome":"ok_answer","status":"tried"}]},`), "commitments[0].checked_alternatives[0].status"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)

			var se *SchemaError
			require.True(t, errors.As(err, &se))
			require.NotEmpty(t, se.Issues)
			if tc.wantPath != "" {
				paths := make([]string, 0, len(se.Issues))
				for _, is := range se.Issues {
					paths = append(paths, is.Path)
				}
				assert.Contains(t, paths, tc.wantPath)
			}
		})
	}
}

func TestIdentityContext_JSON(t *testing.T) {
	var ctx IdentityContext
	require.NoError(t, json.Unmarshal([]byte(`{"ctx_hash":"abc","is_public":true,"user":{"id":"u1"}}`), &ctx))

	assert.Equal(t, "abc", ctx.CtxHash)
	assert.Equal(t, map[string]any{"is_public": true, "user": map[string]any{"id": "u1"}}, ctx.Fields)

	out, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ctx_hash":"abc","is_public":true,"user":{"id":"u1"}}`, string(out))

	require.Error(t, json.Unmarshal([]byte(`{"ctx_hash":5}`), &ctx))
}

func TestOutcome(t *testing.T) {
	assert.False(t, OutcomeOKAnswer.IsEscapeHatch())
	for _, o := range Outcomes()[1:] {
		assert.True(t, o.IsEscapeHatch(), o)
	}
	assert.False(t, Outcome("bogus").Valid())
	assert.False(t, Outcome("bogus").IsEscapeHatch())
}

func TestPointerToPath(t *testing.T) {
	assert.Equal(t, "", PointerToPath(""))
	assert.Equal(t, "response.links[0].kind", PointerToPath("/response/links/0/kind"))
	assert.Equal(t, "a/b.c~d", PointerToPath("/a~1b/c~0d"))
	assert.Equal(t, "[3]", PointerToPath("/3"))
}

func TestDerivedFacts_UnknownKind(t *testing.T) {
	var d DerivedFacts
	err := json.Unmarshal([]byte(`{"facts":[{"kind":"guess","id":"x"}]}`), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "facts[0]")
}

func TestDerivedFacts_EmptyMarshalsAsArray(t *testing.T) {
	out, err := json.Marshal(DerivedFacts{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"facts":[]}`, string(out))
}

func replaceOnce(s, old, new string) string {
	if !strings.Contains(s, old) {
		panic("replaceOnce: pattern not found: " + old)
	}
	return strings.Replace(s, old, new, 1)
}
