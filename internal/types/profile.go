package types

import (
	"encoding/json"
)

// ProfileMetadata contains user profile metadata (kind 0).
// A nil field was absent from the event; a pointer to "" was explicitly set empty.
type ProfileMetadata struct {
	Name        *string `json:"name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	About       *string `json:"about,omitempty"`
	Picture     *string `json:"picture,omitempty"`
	Banner      *string `json:"banner,omitempty"`
	Website     *string `json:"website,omitempty"`
	NIP05       *string `json:"nip05,omitempty"`
	Lud06       *string `json:"lud06,omitempty"`
	Lud16       *string `json:"lud16,omitempty"`
}

// ParseProfileMetadata decodes kind 0 content. Known fields holding non-string
// values are treated as absent rather than failing the whole document.
func ParseProfileMetadata(content string) (ProfileMetadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return ProfileMetadata{}, err
	}

	str := func(key string) *string {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil
		}
		return &s
	}

	m := ProfileMetadata{
		Name:        str("name"),
		DisplayName: str("display_name"),
		About:       str("about"),
		Picture:     str("picture"),
		Banner:      str("banner"),
		Website:     str("website"),
		NIP05:       str("nip05"),
		Lud06:       str("lud06"),
		Lud16:       str("lud16"),
	}
	// Older clients wrote displayName
	if m.DisplayName == nil {
		m.DisplayName = str("displayName")
	}
	return m, nil
}

// IsEmpty reports whether no field was present
func (m ProfileMetadata) IsEmpty() bool {
	return m.Name == nil && m.DisplayName == nil && m.About == nil && m.Picture == nil &&
		m.Banner == nil && m.Website == nil && m.NIP05 == nil && m.Lud06 == nil && m.Lud16 == nil
}

// BestName returns the display name, falling back to name and then fallback
func (m ProfileMetadata) BestName(fallback string) string {
	if m.DisplayName != nil && *m.DisplayName != "" {
		return *m.DisplayName
	}
	if m.Name != nil && *m.Name != "" {
		return *m.Name
	}
	return fallback
}

// Contact is one entry of a contact list ("p" tag)
type Contact struct {
	PubKey    string `json:"pubkey"`
	RelayHint string `json:"relay,omitempty"`
	Petname   string `json:"petname,omitempty"`
}

// ContactGraph is the follow list derived from the newest contact list event
type ContactGraph struct {
	Owner     string    `json:"owner"`
	EventID   string    `json:"event_id,omitempty"`
	CreatedAt int64     `json:"created_at"`
	Contacts  []Contact `json:"contacts"`
}

// Tags renders the graph back into "p" tags
func (g ContactGraph) Tags() [][]string {
	tags := make([][]string, 0, len(g.Contacts))
	for _, c := range g.Contacts {
		tag := []string{"p", c.PubKey}
		if c.RelayHint != "" || c.Petname != "" {
			tag = append(tag, c.RelayHint)
		}
		if c.Petname != "" {
			tag = append(tag, c.Petname)
		}
		tags = append(tags, tag)
	}
	return tags
}

// PubKeys returns the followed pubkeys in list order
func (g ContactGraph) PubKeys() []string {
	out := make([]string, len(g.Contacts))
	for i, c := range g.Contacts {
		out[i] = c.PubKey
	}
	return out
}

// ContactsFromTags builds contact entries from "p" tags, keeping the first occurrence of each pubkey
func ContactsFromTags(tags [][]string) []Contact {
	seen := make(map[string]bool)
	var out []Contact
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "p" || tag[1] == "" || seen[tag[1]] {
			continue
		}
		seen[tag[1]] = true
		c := Contact{PubKey: tag[1]}
		if len(tag) >= 3 {
			c.RelayHint = tag[2]
		}
		if len(tag) >= 4 {
			c.Petname = tag[3]
		}
		out = append(out, c)
	}
	return out
}

// Profile is a composed view of a pubkey, derived on demand
type Profile struct {
	PK        string          `json:"pk"`
	Npub      string          `json:"npub"`
	Following bool            `json:"following"`
	Meta      ProfileMetadata `json:"meta"`
	Relays    []string        `json:"relays,omitempty"`
}
