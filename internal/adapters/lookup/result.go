package lookup

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/askbot/internal/domain/model"
)

const dateLayout = "2006-01-02 15:04 UTC"

// NotesResult is the answer to a notes lookup.
type NotesResult struct {
	PubKey string
	Notes  []model.Event
}

// Format renders the result as reply text.
func (r NotesResult) Format() string {
	if len(r.Notes) == 0 {
		return fmt.Sprintf("No notes found for %s.", r.PubKey)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Notes from %s (%d):", r.PubKey, len(r.Notes))
	for _, n := range r.Notes {
		fmt.Fprintf(&b, "\n\n[%s]\n%s", n.Time().Format(dateLayout), n.Content)
	}
	return b.String()
}

// Image is one image URL found in a note.
type Image struct {
	URL       string
	NoteURL   string
	EventID   string
	CreatedAt time.Time
}

// ImagesResult is the answer to an images lookup.
type ImagesResult struct {
	PubKey string
	Images []Image
}

// Format renders the result as reply text.
func (r ImagesResult) Format() string {
	if len(r.Images) == 0 {
		return fmt.Sprintf("No images found for pubkey %s.", r.PubKey)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are the images associated with pubkey %s:", r.PubKey)
	for _, img := range r.Images {
		fmt.Fprintf(&b, "\n%s (%s)", img.URL, img.NoteURL)
	}
	return b.String()
}

// Stale is a followed account whose newest note is older than the horizon.
type Stale struct {
	PubKey   string
	LastNote time.Time
}

// ActivityReport is the answer to a follow-list activity check.
type ActivityReport struct {
	PubKey        string
	HasFollowList bool
	Follows       int
	Horizon       time.Duration
	Silent        []string
	Stale         []Stale
}

// Flagged returns every followed key the report calls out, silent first.
func (r ActivityReport) Flagged() []string {
	out := append([]string(nil), r.Silent...)
	for _, s := range r.Stale {
		out = append(out, s.PubKey)
	}
	return out
}

// Format renders the report as reply text.
func (r ActivityReport) Format() string {
	if !r.HasFollowList {
		return fmt.Sprintf("No follow list found for %s.", r.PubKey)
	}
	days := int(r.Horizon.Hours() / 24)
	if len(r.Silent) == 0 && len(r.Stale) == 0 {
		return fmt.Sprintf("All %d followed accounts posted within the last %d days.", r.Follows, days)
	}

	lines := make([]string, 0, len(r.Silent)+len(r.Stale)+1)
	lines = append(lines, fmt.Sprintf("%d of %d followed accounts look inactive:", len(r.Silent)+len(r.Stale), r.Follows))
	for _, pk := range r.Silent {
		lines = append(lines, fmt.Sprintf("No notes found for %s", pk))
	}
	for _, s := range r.Stale {
		lines = append(lines, fmt.Sprintf("%s last posted on %s, more than %d days ago", s.PubKey, s.LastNote.Format("2006-01-02"), days))
	}
	return strings.Join(lines, "\n")
}
