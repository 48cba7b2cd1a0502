// Package certificate defines the untrusted unit a proposer submits for
// verification: a claimed response, the execution trace it was derived from,
// the derived facts it asserts, the policy clauses it cites and the proof
// obligations it commits to.
//
// Everything in this package is plain data. Construction from raw bytes goes
// through Parse, which validates the document against the certificate schema
// before decoding it.
package certificate

import (
	"encoding/json"
	"fmt"
)

// Outcome is the terminal classification of a response.
type Outcome string

const (
	OutcomeOKAnswer      Outcome = "ok_answer"
	OutcomeOKNotFound    Outcome = "ok_not_found"
	OutcomeDenied        Outcome = "denied_security"
	OutcomeClarification Outcome = "none_clarification_needed"
	OutcomeUnsupported   Outcome = "none_unsupported"
	OutcomeInternalError Outcome = "error_internal"
)

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeOKAnswer,
		OutcomeOKNotFound,
		OutcomeDenied,
		OutcomeClarification,
		OutcomeUnsupported,
		OutcomeInternalError,
	}
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes() {
		if o == known {
			return true
		}
	}
	return false
}

// IsEscapeHatch reports whether o avoids fully answering the task. Every
// escape-hatch outcome must be backed by a minimality proof.
func (o Outcome) IsEscapeHatch() bool {
	return o.Valid() && o != OutcomeOKAnswer
}

// LinkKind is the entity type a response link points at.
type LinkKind string

const (
	LinkEmployee LinkKind = "employee"
	LinkCustomer LinkKind = "customer"
	LinkProject  LinkKind = "project"
	LinkWiki     LinkKind = "wiki"
	LinkLocation LinkKind = "location"
)

// Link references an entity surfaced to the caller.
type Link struct {
	Kind LinkKind `json:"kind"`
	ID   string   `json:"id"`
}

// Response is the answer the proposer wants released.
type Response struct {
	Message       string   `json:"message"`
	Outcome       Outcome  `json:"outcome"`
	Links         []Link   `json:"links"`
	MissingInputs []string `json:"missing_inputs,omitempty"`
}

// IdentityContext is the caller/session snapshot. The wrapper layer computes
// CtxHash over its canonical fields; the kernel compares contexts by hash only
// and reads Fields solely through the condition environment.
type IdentityContext struct {
	CtxHash string
	Fields  map[string]any
}

// MarshalJSON flattens the context into a single object with ctx_hash
// alongside the identity fields.
func (c IdentityContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["ctx_hash"] = c.CtxHash
	return json.Marshal(out)
}

// UnmarshalJSON splits ctx_hash from the remaining identity fields.
func (c *IdentityContext) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	hash, ok := raw["ctx_hash"]
	if ok {
		s, isString := hash.(string)
		if !isString {
			return fmt.Errorf("certificate: ctx_hash must be a string, got %T", hash)
		}
		c.CtxHash = s
		delete(raw, "ctx_hash")
	}
	c.Fields = raw
	return nil
}

// Request describes a recorded API call.
type Request struct {
	Tool     string         `json:"tool"`
	Method   string         `json:"method,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Effect   string         `json:"effect,omitempty"` // "read" or "write"
	Resource string         `json:"resource,omitempty"`
}

// CallRecord is one deterministic call executed by the wrapper layer.
type CallRecord struct {
	ID           string  `json:"id"`
	Request      Request `json:"request"`
	Response     any     `json:"response,omitempty"`
	ResponseHash string  `json:"response_hash,omitempty"`
	Error        string  `json:"error,omitempty"`
	TimestampMS  int64   `json:"timestamp_ms,omitempty"`
}

// HasResponse reports whether the response body was embedded in the trace.
func (c CallRecord) HasResponse() bool { return c.Response != nil }

// Artifact is an entity discovered while executing the trace.
type Artifact struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ExecutionTrace is the ordered call log plus the artifact set.
type ExecutionTrace struct {
	CtxHash   string       `json:"ctx_hash"`
	HashRule  string       `json:"hash_rule,omitempty"`
	Calls     []CallRecord `json:"calls"`
	Artifacts []Artifact   `json:"artifacts"`
}

// Call returns the first call with the given id.
func (t ExecutionTrace) Call(id string) (CallRecord, bool) {
	for _, c := range t.Calls {
		if c.ID == id {
			return c, true
		}
	}
	return CallRecord{}, false
}

// HasArtifact reports whether (kind, id) was discovered during execution.
func (t ExecutionTrace) HasArtifact(kind, id string) bool {
	for _, a := range t.Artifacts {
		if a.Kind == kind && a.ID == id {
			return true
		}
	}
	return false
}

// CommitmentKind names a class of proof obligation.
type CommitmentKind string

const (
	CommitTraceBinding     CommitmentKind = "trace_binding"
	CommitPolicyCompliance CommitmentKind = "policy_compliance"
	CommitLinkGrounding    CommitmentKind = "link_grounding"
	CommitNoninterference  CommitmentKind = "noninterference"
	CommitWriteSafety      CommitmentKind = "write_safety"
	CommitMinimality       CommitmentKind = "minimality"
	CommitClaims           CommitmentKind = "claims"
)

// AlternativeStatus records why an alternative outcome was not chosen.
type AlternativeStatus string

const (
	StatusImpossible   AlternativeStatus = "impossible"
	StatusNotAttempted AlternativeStatus = "not_attempted"
)

// Claim is a structured assertion backed by facts and clauses.
type Claim struct {
	Type                 string         `json:"type"`
	Details              map[string]any `json:"details,omitempty"`
	SupportedByFactIDs   []string       `json:"supported_by_fact_ids,omitempty"`
	SupportedByClauseIDs []string       `json:"supported_by_clause_ids,omitempty"`
}

// DetailString returns Details[key] when it is a string.
func (c Claim) DetailString(key string) (string, bool) {
	v, ok := c.Details[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AlternativeCheck records that an alternative outcome was considered.
type AlternativeCheck struct {
	Outcome        Outcome           `json:"outcome"`
	Status         AlternativeStatus `json:"status"`
	ReasonClauseID string            `json:"reason_clause_id,omitempty"`
	Explanation    string            `json:"explanation,omitempty"`
}

// Commitment is a mechanically checkable proof obligation.
type Commitment struct {
	ID                  string             `json:"id"`
	Kind                CommitmentKind     `json:"kind"`
	Claims              []Claim            `json:"claims,omitempty"`
	ForOutcome          Outcome            `json:"for_outcome,omitempty"`
	CheckedAlternatives []AlternativeCheck `json:"checked_alternatives,omitempty"`
}

// PolicyRefs lists the clauses the proposer cites as justification.
type PolicyRefs struct {
	UsedClauseIDs []string `json:"used_clause_ids"`
}

// Certificate is the unit submitted for validation.
type Certificate struct {
	PCVersion      string         `json:"pc_version"`
	TaskText       string         `json:"task_text"`
	Response       Response       `json:"response"`
	ExecutionTrace ExecutionTrace `json:"execution_trace"`
	DerivedFacts   DerivedFacts   `json:"derived_facts"`
	PolicyRefs     PolicyRefs     `json:"policy_refs"`
	Commitments    []Commitment   `json:"commitments"`
}

// CommitmentsOfKind returns commitments of kind k in certificate order.
func (c *Certificate) CommitmentsOfKind(k CommitmentKind) []Commitment {
	var out []Commitment
	for _, cm := range c.Commitments {
		if cm.Kind == k {
			out = append(out, cm)
		}
	}
	return out
}
