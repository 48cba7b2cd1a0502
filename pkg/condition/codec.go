package condition

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("condition: malformed")

// Parse decodes the JSON wire form of a condition, e.g.
//
//	{"eq": ["ctx.is_public", true]}
//	{"any": [{"present": "response.links[0]"}, {"in": ["ctx.level", [2, 3]]}]}
func Parse(data []byte) (Condition, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromValue(raw)
}

// FromValue decodes a condition from an already-decoded JSON or YAML value.
func FromValue(raw any) (Condition, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected object, got %T", ErrMalformed, raw)
	}
	if len(obj) != 1 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: exactly one operator required, got %v", ErrMalformed, keys)
	}

	for op, arg := range obj {
		switch op {
		case "eq", "ne":
			path, value, err := pathAndValue(op, arg)
			if err != nil {
				return nil, err
			}
			if op == "eq" {
				return Eq{Path: path, Value: value}, nil
			}
			return Ne{Path: path, Value: value}, nil
		case "present":
			path, ok := arg.(string)
			if !ok || path == "" {
				return nil, fmt.Errorf("%w: present expects a path string", ErrMalformed)
			}
			return Present{Path: path}, nil
		case "in", "not_in":
			path, value, err := pathAndValue(op, arg)
			if err != nil {
				return nil, err
			}
			set, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects [path, [values]]", ErrMalformed, op)
			}
			if op == "in" {
				return In{Path: path, Set: set}, nil
			}
			return NotIn{Path: path, Set: set}, nil
		case "any", "all":
			items, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a list of conditions", ErrMalformed, op)
			}
			children := make([]Condition, 0, len(items))
			for i, item := range items {
				child, err := FromValue(item)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
				}
				children = append(children, child)
			}
			if op == "any" {
				return Any{Conditions: children}, nil
			}
			return All{Conditions: children}, nil
		case "not":
			child, err := FromValue(arg)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			return Not{Condition: child}, nil
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformed, op)
		}
	}
	return nil, ErrMalformed
}

func pathAndValue(op string, arg any) (string, any, error) {
	pair, ok := arg.([]any)
	if !ok || len(pair) != 2 {
		return "", nil, fmt.Errorf("%w: %s expects a two-element list", ErrMalformed, op)
	}
	path, ok := pair[0].(string)
	if !ok || path == "" {
		return "", nil, fmt.Errorf("%w: %s path must be a non-empty string", ErrMalformed, op)
	}
	return path, pair[1], nil
}

func (c Eq) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"eq": []any{c.Path, c.Value}})
}

func (c Ne) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"ne": []any{c.Path, c.Value}})
}

func (c Present) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"present": c.Path})
}

func (c In) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"in": []any{c.Path, nonNil(c.Set)}})
}

func (c NotIn) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"not_in": []any{c.Path, nonNil(c.Set)}})
}

func (c Any) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"any": nonNilConds(c.Conditions)})
}

func (c All) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"all": nonNilConds(c.Conditions)})
}

func (c Not) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"not": c.Condition})
}

func nonNil(set []any) []any {
	if set == nil {
		return []any{}
	}
	return set
}

func nonNilConds(cs []Condition) []Condition {
	if cs == nil {
		return []Condition{}
	}
	return cs
}
