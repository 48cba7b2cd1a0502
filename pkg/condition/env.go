package condition

import (
	"reflect"
	"strconv"
	"strings"
)

// Env is the flattened, path-addressable view conditions are evaluated against.
// Top-level keys are namespaces such as "ctx", "response", "df" and "task".
type Env map[string]any

// Resolve looks up a dotted path. Segments index into maps by key and into
// sequences by position; "links.0" and "links[0]" are equivalent. Any
// traversal failure reports absent rather than an error.
func (e Env) Resolve(path string) (any, bool) {
	steps, ok := parsePath(path)
	if !ok {
		return nil, false
	}

	var cur any = map[string]any(e)
	for _, step := range steps {
		next, found := descend(cur, step)
		if !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

type pathStep struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string) ([]pathStep, bool) {
	if path == "" {
		return nil, false
	}

	var steps []pathStep
	for _, seg := range strings.Split(path, ".") {
		name := seg
		var indexes []int
		if open := strings.IndexByte(seg, '['); open >= 0 {
			name = seg[:open]
			rest := seg[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, false
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, false
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, false
				}
				indexes = append(indexes, n)
				rest = rest[end+1:]
			}
		}

		if name == "" && len(indexes) == 0 {
			return nil, false
		}
		if name != "" {
			steps = append(steps, pathStep{key: name})
		}
		for _, n := range indexes {
			steps = append(steps, pathStep{index: n, isIdx: true})
		}
	}
	return steps, true
}

func descend(cur any, step pathStep) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		if step.isIdx {
			v, ok := node[strconv.Itoa(step.index)]
			return v, ok
		}
		v, ok := node[step.key]
		return v, ok
	case Env:
		return descend(map[string]any(node), step)
	case []any:
		i, ok := stepIndex(step)
		if !ok || i >= len(node) {
			return nil, false
		}
		return node[i], true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		key := step.key
		if step.isIdx {
			key = strconv.Itoa(step.index)
		}
		v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, ok := stepIndex(step)
		if !ok || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}

func stepIndex(step pathStep) (int, bool) {
	if step.isIdx {
		return step.index, true
	}
	n, err := strconv.Atoi(step.key)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
