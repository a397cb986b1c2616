// Package types provides shared type definitions used across internal packages.
package types

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Well-known event kinds
const (
	KindMetadata    = 0
	KindTextNote    = 1
	KindContactList = 3
	KindDeletion    = 5
	KindRepost      = 6
	KindRelayList   = 10002
)

// IsReplaceable reports whether only the newest event of this kind per author is meaningful (NIP-01)
func IsReplaceable(kind int) bool {
	return kind == KindMetadata || kind == KindContactList || (kind >= 10000 && kind < 20000)
}

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Clone returns a deep copy so that callers can't mutate shared tag slices
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Tags != nil {
		c.Tags = make([][]string, len(e.Tags))
		for i, tag := range e.Tags {
			c.Tags[i] = slices.Clone(tag)
		}
	}
	return &c
}

// TagValues returns the first value of every tag with the given name, in order
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// Newer reports whether e sorts before other in the timeline (created_at desc, id asc)
func (e *Event) Newer(other *Event) bool {
	if e.CreatedAt != other.CreatedAt {
		return e.CreatedAt > other.CreatedAt
	}
	return e.ID < other.ID
}

// Filter represents a Nostr subscription filter (NIP-01).
// Since and Until are inclusive bounds.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string // tag name (without '#') -> accepted values
	Since   *int64
	Until   *int64
	Limit   int
}

// TagFilter selects events that reference a value through a tag, e.g. {"e", [noteID]}
type TagFilter struct {
	Name   string
	Values []string
}

// Matches applies every constraint except Limit
func (f Filter) Matches(e *Event) bool {
	if e == nil {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		found := false
		for _, v := range e.TagValues(name) {
			if slices.Contains(values, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// WithWindow returns a copy of f bounded by until and limit
func (f Filter) WithWindow(until *int64, limit int) Filter {
	c := f
	c.Until = until
	c.Limit = limit
	return c
}

// Key returns a stable identity for the filter, ignoring the time window and limit.
// Two filters with the same key describe the same logical feed.
func (f Filter) Key() string {
	var b strings.Builder
	writeSorted := func(label string, vals []string) {
		if len(vals) == 0 {
			return
		}
		b.WriteString(label)
		b.WriteByte('=')
		b.WriteString(strings.Join(SortedCopy(vals), ","))
		b.WriteByte(';')
	}
	writeSorted("ids", f.IDs)
	writeSorted("authors", f.Authors)
	if len(f.Kinds) > 0 {
		kinds := slices.Clone(f.Kinds)
		sort.Ints(kinds)
		strs := make([]string, len(kinds))
		for i, k := range kinds {
			strs[i] = strconv.Itoa(k)
		}
		writeSorted("kinds", strs)
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeSorted("#"+name, f.Tags[name])
	}
	return b.String()
}

// SortedCopy returns a sorted copy of the slice without modifying the original
func SortedCopy(s []string) []string {
	c := slices.Clone(s)
	sort.Strings(c)
	return c
}

// Int64 returns a pointer to v, for Since/Until literals
func Int64(v int64) *int64 {
	return &v
}
