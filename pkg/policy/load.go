package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

type wireRequirement struct {
	Condition any    `json:"condition"`
	Message   string `json:"message"`
}

type wireClause struct {
	ID      string            `json:"id"`
	Kind    ClauseKind        `json:"kind"`
	When    any               `json:"when"`
	Require []wireRequirement `json:"require"`
	Forbid  []wireRequirement `json:"forbid"`
}

type wireProgram struct {
	Version string       `json:"version"`
	Clauses []wireClause `json:"clauses"`
}

// Load compiles a policy program from a JSON or YAML document:
//
//	version: "1.0.0"
//	clauses:
//	  - id: P1
//	    kind: forbid
//	    when: {eq: [ctx.is_public, true]}
//	    forbid:
//	      - condition: {present: "response.links[0]"}
//	        message: no links when public
func Load(data []byte) (*Program, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}

	clauses := make([]Clause, 0, len(doc.Clauses))
	for i, wc := range doc.Clauses {
		c := Clause{ID: wc.ID, Kind: wc.Kind}
		if wc.When != nil {
			c.When, err = condition.FromValue(wc.When)
			if err != nil {
				return nil, fmt.Errorf("%w: clauses[%d].when: %v", ErrInvalidProgram, i, err)
			}
		}
		c.Require, err = decodeRequirements(wc.Require)
		if err != nil {
			return nil, fmt.Errorf("%w: clauses[%d].require%v", ErrInvalidProgram, i, err)
		}
		c.Forbid, err = decodeRequirements(wc.Forbid)
		if err != nil {
			return nil, fmt.Errorf("%w: clauses[%d].forbid%v", ErrInvalidProgram, i, err)
		}
		clauses = append(clauses, c)
	}

	return New(doc.Version, clauses)
}

func decodeRequirements(in []wireRequirement) ([]Requirement, error) {
	out := make([]Requirement, 0, len(in))
	for j, wr := range in {
		c, err := condition.FromValue(wr.Condition)
		if err != nil {
			return nil, fmt.Errorf("[%d].condition: %v", j, err)
		}
		out = append(out, Requirement{Condition: c, Message: wr.Message})
	}
	return out, nil
}

// decodeDocument accepts JSON directly and YAML via a JSON re-encode, so both
// formats share one set of struct tags.
func decodeDocument(data []byte) (*wireProgram, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidProgram)
	}

	if trimmed[0] != '{' {
		var generic any
		if err := yaml.Unmarshal(trimmed, &generic); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidProgram, err)
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("%w: yaml to json: %v", ErrInvalidProgram, err)
		}
		trimmed = converted
	}

	var doc wireProgram
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	return &doc, nil
}
