// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"strings"
	"time"
)

// Event kinds the bot reads or writes.
const (
	KindTextNote    = 1
	KindContactList = 3
	KindEncryptedDM = 4
)

// Tag names used for addressing.
const (
	TagPubKey = "p"
	TagEvent  = "e"
	TagTopic  = "t"
)

// Tag is one ordered tag array, e.g. ["p", "<pubkey>"].
type Tag []string

// Name returns the tag name or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first tag value or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// Values returns every first value of tags named name, in order.
func (ts Tags) Values(name string) []string {
	var out []string
	for _, t := range ts {
		if t.Name() == name && len(t) >= 2 {
			out = append(out, t[1])
		}
	}
	return out
}

// Has reports whether a tag [name, value, ...] is present. Value comparison is
// case-insensitive when fold is true.
func (ts Tags) Has(name, value string, fold bool) bool {
	for _, t := range ts {
		if t.Name() != name || len(t) < 2 {
			continue
		}
		if t[1] == value || (fold && strings.EqualFold(t[1], value)) {
			return true
		}
	}
	return false
}

// Event is a signed relay event. Field names mirror the wire format.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Time returns created_at as a time.Time.
func (e Event) Time() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// Filter selects events for a subscription. Nil pointers are omitted on the wire.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every constraint of f. Limit is ignored.
func (f Filter) Matches(e Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, e.PubKey) {
		return false
	}
	if len(f.PTags) > 0 {
		ok := false
		for _, p := range f.PTags {
			if e.Tags.Has(TagPubKey, p, false) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	return true
}

// Unix returns a pointer to t's unix seconds, for Filter.Since/Until.
func Unix(t time.Time) *int64 {
	v := t.Unix()
	return &v
}
