// Package diag defines the closed diagnostic taxonomy produced by the
// certificate verification kernel.
//
// Diagnostics are values, not errors: every stage appends to a list and the
// list is the only channel back to the proposer.
package diag

// Code identifies a diagnostic class. The set is closed.
type Code string

const (
	SchemaError          Code = "SCHEMA_ERROR"
	CtxMismatch          Code = "CTX_MISMATCH"
	TraceIntegrityFail   Code = "TRACE_INTEGRITY_FAIL"
	MissingCall          Code = "MISSING_CALL"
	RespHashMismatch     Code = "RESP_HASH_MISMATCH"
	ResponseContractFail Code = "RESPONSE_CONTRACT_FAIL"
	PublicRedactionFail  Code = "PUBLIC_REDACTION_FAIL"
	DerivedReplayFail    Code = "DERIVED_REPLAY_FAIL"
	UnknownOp            Code = "UNKNOWN_OP"
	PolicyClauseMissing  Code = "POLICY_CLAUSE_MISSING"
	PolicyViolation      Code = "POLICY_VIOLATION"
	LinkNotGrounded      Code = "LINK_NOT_GROUNDED"
	MinimalityMissing    Code = "MINIMALITY_MISSING"
	MinimalityFail       Code = "MINIMALITY_FAIL"
	WriteSafetyFail      Code = "WRITE_SAFETY_FAIL"
)

// Codes returns every code in taxonomy order.
func Codes() []Code {
	return []Code{
		SchemaError, CtxMismatch, TraceIntegrityFail, MissingCall, RespHashMismatch,
		ResponseContractFail, PublicRedactionFail, DerivedReplayFail, UnknownOp,
		PolicyClauseMissing, PolicyViolation, LinkNotGrounded, MinimalityMissing,
		MinimalityFail, WriteSafetyFail,
	}
}

// Valid reports whether c belongs to the taxonomy.
func (c Code) Valid() bool {
	for _, known := range Codes() {
		if c == known {
			return true
		}
	}
	return false
}

// Diagnostic is a single machine-readable finding.
type Diagnostic struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Path    string         `json:"path,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// New builds a diagnostic without details.
func New(code Code, path, message string) Diagnostic {
	return Diagnostic{Code: code, Path: path, Message: message}
}

// With returns a copy of d carrying an additional detail entry.
func (d Diagnostic) With(key string, value any) Diagnostic {
	details := make(map[string]any, len(d.Details)+1)
	for k, v := range d.Details {
		details[k] = v
	}
	details[key] = value
	d.Details = details
	return d
}

// Result is the terminal verification outcome.
type Result struct {
	OK          bool         `json:"ok"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// NewResult derives OK from the diagnostic list. A nil list is normalised to
// an empty one so the JSON form is always an array.
func NewResult(diags []Diagnostic) Result {
	if diags == nil {
		diags = []Diagnostic{}
	}
	return Result{OK: len(diags) == 0, Diagnostics: diags}
}

// Count returns how many diagnostics carry code.
func (r Result) Count(code Code) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Code == code {
			n++
		}
	}
	return n
}

// Has reports whether any diagnostic carries code.
func (r Result) Has(code Code) bool {
	return r.Count(code) > 0
}

// CodeCounts tallies diagnostics per code. Codes with no diagnostics are omitted.
func (r Result) CodeCounts() map[Code]int {
	counts := make(map[Code]int)
	for _, d := range r.Diagnostics {
		counts[d.Code]++
	}
	return counts
}
