package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
version: "1.0.0"
clauses:
  - id: P1
    kind: forbid
    when: {eq: [ctx.is_public, true]}
    forbid:
      - condition: {present: "response.links[0]"}
        message: no links when public+denied
`

const testCert = `{
  "pc_version": "1.0.0",
  "task_text": "What are the salary bands?",
  "response": {"message": "I can't share that.", "outcome": "denied_security", "links": []},
  "execution_trace": {"ctx_hash": "ctx-1", "calls": [], "artifacts": []},
  "derived_facts": {"facts": []},
  "policy_refs": {"used_clause_ids": ["P1"]},
  "commitments": [{"id": "m1", "kind": "minimality", "for_outcome": "denied_security",
    "checked_alternatives": [{"outcome": "ok_answer", "status": "impossible", "reason_clause_id": "P1"}]}]
}`

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CERTKERNEL_POLICY", "CERTKERNEL_PROFILE", "CERTKERNEL_DB", "CERTKERNEL_REDIS_ADDR",
		"CERTKERNEL_OTLP_ENDPOINT", "CERTKERNEL_S3_ENDPOINT", "CERTKERNEL_PARALLEL_CHECKS",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "ERROR")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type fixture struct {
	policy, cert, publicCtx, privateCtx string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	return fixture{
		policy:     writeFile(t, dir, "policy.yaml", testPolicy),
		cert:       writeFile(t, dir, "cert.json", testCert),
		publicCtx:  writeFile(t, dir, "public.json", `{"ctx_hash": "ctx-1", "is_public": true}`),
		privateCtx: writeFile(t, dir, "private.json", `{"ctx_hash": "ctx-1", "is_public": false}`),
	}
}

func TestVerifyCmd_ExitCodes(t *testing.T) {
	isolateEnv(t)
	fx := newFixture(t)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{
			name:     "pass",
			args:     []string{"verify", "--policy", fx.policy, "--cert", fx.cert, "--ctx", fx.publicCtx, "--task", "What are the salary bands?"},
			wantCode: exitOK,
			wantOut:  "PASS",
		},
		{
			name:     "fail on private caller",
			args:     []string{"verify", "--policy", fx.policy, "--cert", fx.cert, "--ctx", fx.privateCtx, "--task", "What are the salary bands?"},
			wantCode: exitFailed,
			wantOut:  "MINIMALITY_FAIL",
		},
		{
			name:     "fail on task mismatch",
			args:     []string{"verify", "--policy", fx.policy, "--cert", fx.cert, "--ctx", fx.publicCtx, "--task", "Something else"},
			wantCode: exitFailed,
			wantOut:  "SCHEMA_ERROR",
		},
		{
			name:     "missing policy",
			args:     []string{"verify", "--cert", fx.cert},
			wantCode: exitRuntime,
			wantErr:  "--policy",
		},
		{
			name:     "missing certificate file",
			args:     []string{"verify", "--policy", fx.policy, "--cert", filepath.Join(t.TempDir(), "nope.json")},
			wantCode: exitRuntime,
			wantErr:  "read",
		},
		{
			name:     "unknown source scheme",
			args:     []string{"verify", "--policy", "ftp://example/policy.yaml", "--cert", fx.cert},
			wantCode: exitRuntime,
			wantErr:  "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code, "stdout=%s stderr=%s", stdout.String(), stderr.String())
			if tt.wantOut != "" {
				assert.Contains(t, stdout.String(), tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestVerifyCmd_JSONWithReceipts(t *testing.T) {
	isolateEnv(t)
	fx := newFixture(t)
	db := filepath.Join(t.TempDir(), "receipts.db")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"verify", "--json",
		"--policy", "file://" + fx.policy,
		"--cert", fx.cert,
		"--ctx", fx.publicCtx,
		"--task", "What are the salary bands?",
		"--db", db,
	}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	var out struct {
		Result struct {
			OK bool `json:"ok"`
		} `json:"result"`
		CertificateHash string `json:"certificate_hash"`
		PolicyVersion   string `json:"policy_version"`
		ReceiptID       string `json:"receipt_id"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.Result.OK)
	assert.Equal(t, "1.0.0", out.PolicyVersion)
	assert.Len(t, out.CertificateHash, 64)
	assert.NotEmpty(t, out.ReceiptID)
}

func TestVerifyCmd_Profile(t *testing.T) {
	isolateEnv(t)
	fx := newFixture(t)
	profile := writeFile(t, t.TempDir(), "profile.yaml", `
name: strict
parallel_checks: true
`)

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"verify", "--policy", fx.policy, "--cert", fx.cert, "--ctx", fx.publicCtx,
		"--task", "What are the salary bands?", "--profile", profile,
	}, &stdout, &stderr)
	assert.Equal(t, exitOK, code, stderr.String())

	bad := writeFile(t, t.TempDir(), "bad.yaml", "surprise: true\n")
	stdout.Reset()
	stderr.Reset()
	code = run([]string{"verify", "--policy", fx.policy, "--cert", fx.cert, "--profile", bad}, &stdout, &stderr)
	assert.Equal(t, exitRuntime, code)
}

func TestHashCmd(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", `{"b": 1, "a": [true, null]}`)
	b := writeFile(t, dir, "b.json", `{"a":[true,null],"b":1.0}`)

	var outA, outB, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{"hash", a}, &outA, &stderr))
	require.Equal(t, exitOK, run([]string{"hash", b}, &outB, &stderr))
	assert.Equal(t, outA.String(), outB.String())
	assert.Contains(t, outA.String(), "jcs-rfc8785+sha256/v1")

	bad := writeFile(t, dir, "bad.json", `{`)
	assert.Equal(t, exitRuntime, run([]string{"hash", bad}, &outA, &stderr))
}

func TestPolicyDigestCmd(t *testing.T) {
	isolateEnv(t)
	fx := newFixture(t)

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{"policy", "digest", fx.policy}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "version=1.0.0")
	assert.Contains(t, stdout.String(), "clauses=1")

	t.Setenv("CERTKERNEL_POLICY", fx.policy)
	stdout.Reset()
	require.Equal(t, exitOK, run([]string{"policy", "digest"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "digest=")
}

func TestOpsCmd(t *testing.T) {
	isolateEnv(t)

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run([]string{"ops"}, &stdout, &stderr))
	for _, name := range []string{"json_select", "norm_person_name", "join_by_id", "compute_links_minimal"} {
		assert.Contains(t, stdout.String(), name)
	}
}
