package nostr

import (
	"nostr-greet/internal/types"
)

// MaxAuthorsPerFilter caps the authors list of one protocol filter; larger
// author sets are split across several filters of the same REQ.
const MaxAuthorsPerFilter = 25

// WireFilters converts f into the JSON objects sent in a REQ
func WireFilters(f types.Filter) []map[string]interface{} {
	if len(f.Authors) <= MaxAuthorsPerFilter {
		return []map[string]interface{}{wireFilter(f, f.Authors)}
	}

	var out []map[string]interface{}
	for start := 0; start < len(f.Authors); start += MaxAuthorsPerFilter {
		end := min(start+MaxAuthorsPerFilter, len(f.Authors))
		out = append(out, wireFilter(f, f.Authors[start:end]))
	}
	return out
}

func wireFilter(f types.Filter, authors []string) map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(authors) > 0 {
		m["authors"] = authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			m["#"+name] = values
		}
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return m
}

// ParseWireFilter is the inverse of WireFilters for one filter object as
// decoded from JSON (numbers as float64). Used by the in-process test relay.
func ParseWireFilter(m map[string]interface{}) types.Filter {
	var f types.Filter
	strs := func(v interface{}) []string {
		arr, _ := v.([]interface{})
		out := make([]string, 0, len(arr))
		for _, x := range arr {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	for key, v := range m {
		switch {
		case key == "ids":
			f.IDs = strs(v)
		case key == "authors":
			f.Authors = strs(v)
		case key == "kinds":
			arr, _ := v.([]interface{})
			for _, x := range arr {
				if n, ok := x.(float64); ok {
					f.Kinds = append(f.Kinds, int(n))
				}
			}
		case key == "since":
			if n, ok := v.(float64); ok {
				f.Since = types.Int64(int64(n))
			}
		case key == "until":
			if n, ok := v.(float64); ok {
				f.Until = types.Int64(int64(n))
			}
		case key == "limit":
			if n, ok := v.(float64); ok {
				f.Limit = int(n)
			}
		case len(key) == 2 && key[0] == '#':
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[key[1:]] = strs(v)
		}
	}
	return f
}
