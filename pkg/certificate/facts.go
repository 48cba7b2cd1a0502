package certificate

import (
	"encoding/json"
	"fmt"
)

// FactKind tags a DerivedFact variant.
type FactKind string

const (
	FactSelect    FactKind = "select"
	FactNormalize FactKind = "normalize"
	FactClassify  FactKind = "classify"
	FactJoin      FactKind = "join"
	FactCompute   FactKind = "compute"
)

// FactNode carries the fields shared by every derived fact.
type FactNode struct {
	ID     string   `json:"id"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs"`
	Output any      `json:"output"`
}

// Node returns the shared fields.
func (n FactNode) Node() FactNode { return n }

// DerivedFact is one of SelectFact, NormalizeFact, ClassifyFact, JoinFact or
// ComputeFact. The set is closed.
type DerivedFact interface {
	Node() FactNode
	Kind() FactKind
	derivedFact()
}

// SelectFact extracts a value from an embedded call response.
type SelectFact struct {
	FactNode
	CallID      string `json:"call_id"`
	JSONPointer string `json:"json_pointer"`
}

// NormalizeFact canonicalizes a single input value.
type NormalizeFact struct {
	FactNode
	Field string `json:"field,omitempty"`
}

// ClassifyFact assigns a label to its inputs.
type ClassifyFact struct {
	FactNode
	Fields []string `json:"fields,omitempty"`
}

// JoinFact combines two inputs on a shared key.
type JoinFact struct {
	FactNode
	Key string `json:"key,omitempty"`
}

// ComputeFact evaluates an expression over its inputs.
type ComputeFact struct {
	FactNode
	Expr   string         `json:"expr,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (SelectFact) Kind() FactKind    { return FactSelect }
func (NormalizeFact) Kind() FactKind { return FactNormalize }
func (ClassifyFact) Kind() FactKind  { return FactClassify }
func (JoinFact) Kind() FactKind      { return FactJoin }
func (ComputeFact) Kind() FactKind   { return FactCompute }

func (SelectFact) derivedFact()    {}
func (NormalizeFact) derivedFact() {}
func (ClassifyFact) derivedFact()  {}
func (JoinFact) derivedFact()      {}
func (ComputeFact) derivedFact()   {}

func (f SelectFact) MarshalJSON() ([]byte, error) {
	type plain SelectFact
	return json.Marshal(struct {
		Kind FactKind `json:"kind"`
		plain
	}{FactSelect, plain(f)})
}

func (f NormalizeFact) MarshalJSON() ([]byte, error) {
	type plain NormalizeFact
	return json.Marshal(struct {
		Kind FactKind `json:"kind"`
		plain
	}{FactNormalize, plain(f)})
}

func (f ClassifyFact) MarshalJSON() ([]byte, error) {
	type plain ClassifyFact
	return json.Marshal(struct {
		Kind FactKind `json:"kind"`
		plain
	}{FactClassify, plain(f)})
}

func (f JoinFact) MarshalJSON() ([]byte, error) {
	type plain JoinFact
	return json.Marshal(struct {
		Kind FactKind `json:"kind"`
		plain
	}{FactJoin, plain(f)})
}

func (f ComputeFact) MarshalJSON() ([]byte, error) {
	type plain ComputeFact
	return json.Marshal(struct {
		Kind FactKind `json:"kind"`
		plain
	}{FactCompute, plain(f)})
}

// DerivedFacts is the ordered fact list. Order is the only dependency
// mechanism: a fact may reference only ids positioned before it.
type DerivedFacts struct {
	Facts []DerivedFact
}

type wireFacts struct {
	Facts []json.RawMessage `json:"facts"`
}

// MarshalJSON encodes the list as {"facts": [...]}, never null.
func (d DerivedFacts) MarshalJSON() ([]byte, error) {
	facts := d.Facts
	if facts == nil {
		facts = []DerivedFact{}
	}
	return json.Marshal(struct {
		Facts []DerivedFact `json:"facts"`
	}{facts})
}

// UnmarshalJSON dispatches every element on its "kind" tag.
func (d *DerivedFacts) UnmarshalJSON(data []byte) error {
	var w wireFacts
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Facts = make([]DerivedFact, 0, len(w.Facts))
	for i, raw := range w.Facts {
		f, err := decodeFact(raw)
		if err != nil {
			return fmt.Errorf("facts[%d]: %w", i, err)
		}
		d.Facts = append(d.Facts, f)
	}
	return nil
}

func decodeFact(raw json.RawMessage) (DerivedFact, error) {
	var tag struct {
		Kind FactKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, err
	}

	switch tag.Kind {
	case FactSelect:
		var f SelectFact
		err := json.Unmarshal(raw, &f)
		return f, err
	case FactNormalize:
		var f NormalizeFact
		err := json.Unmarshal(raw, &f)
		return f, err
	case FactClassify:
		var f ClassifyFact
		err := json.Unmarshal(raw, &f)
		return f, err
	case FactJoin:
		var f JoinFact
		err := json.Unmarshal(raw, &f)
		return f, err
	case FactCompute:
		var f ComputeFact
		err := json.Unmarshal(raw, &f)
		return f, err
	default:
		return nil, fmt.Errorf("unknown fact kind %q", tag.Kind)
	}
}
