// Package lookup answers the bot's commands by reading other accounts'
// events from the relay: recent notes, images posted in notes, and the
// activity of everyone an account follows.
package lookup

import (
	"context"
	"fmt"
	"regexp"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/okian/askbot/internal/adapters/fanout"
	"github.com/okian/askbot/internal/domain/model"
	"github.com/okian/askbot/pkg/logger"
	"github.com/okian/askbot/pkg/metrics"
)

// Default lookup configuration constants.
const (
	defaultLimit         = 100
	defaultCollectWindow = 5 * time.Second
	defaultQueryWindow   = 20 * time.Second
	defaultStaleAfter    = 180 * 24 * time.Hour
	defaultNoteURLPrefix = "https://primal.net/e/"
)

var imageURL = regexp.MustCompile(`(?i)https?://[^\s]+\.(?:jpg|jpeg|png|gif)`)

// Fetcher reads events from the relay.
type Fetcher interface {
	Collect(ctx context.Context, f model.Filter, window time.Duration) ([]model.Event, error)
	Query(ctx context.Context, keys []string, build func(key string) model.Filter, window time.Duration) map[string]fanout.Result
}

// Range bounds a lookup in time. Nil ends are open.
type Range struct {
	Since *time.Time
	Until *time.Time
}

func (r Range) apply(f *model.Filter) {
	if r.Since != nil {
		f.Since = model.Unix(*r.Since)
	}
	if r.Until != nil {
		f.Until = model.Unix(*r.Until)
	}
}

// Service implements the notes, images and follow-activity lookups.
type Service struct {
	fetch         Fetcher
	collectWindow time.Duration
	queryWindow   time.Duration
	staleAfter    time.Duration
	noteURLPrefix string
	limit         int
	now           func() time.Time
	logger        logger.Logger
}

// NewService creates a lookup service reading through fetch.
func NewService(fetch Fetcher, opts ...Option) *Service {
	s := &Service{
		fetch:         fetch,
		collectWindow: defaultCollectWindow,
		queryWindow:   defaultQueryWindow,
		staleAfter:    defaultStaleAfter,
		noteURLPrefix: defaultNoteURLPrefix,
		limit:         defaultLimit,
		now:           time.Now,
		logger:        logger.Get().Named("lookup"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notes returns up to the configured limit of pubkey's notes in r.
func (s *Service) Notes(ctx context.Context, pubkey string, r Range) (NotesResult, error) {
	defer observe("notes", time.Now())

	notes, err := s.notes(ctx, pubkey, r)
	if err != nil {
		return NotesResult{}, err
	}
	return NotesResult{PubKey: pubkey, Notes: notes}, nil
}

// Images returns image URLs found in pubkey's notes in r, newest first.
func (s *Service) Images(ctx context.Context, pubkey string, r Range) (ImagesResult, error) {
	defer observe("images", time.Now())

	notes, err := s.notes(ctx, pubkey, r)
	if err != nil {
		return ImagesResult{}, err
	}

	res := ImagesResult{PubKey: pubkey}
	for _, ev := range notes {
		for _, u := range imageURL.FindAllString(ev.Content, -1) {
			res.Images = append(res.Images, Image{
				URL:       u,
				NoteURL:   s.noteURLPrefix + ev.ID,
				EventID:   ev.ID,
				CreatedAt: ev.Time(),
			})
		}
	}
	return res, nil
}

func (s *Service) notes(ctx context.Context, pubkey string, r Range) ([]model.Event, error) {
	f := model.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{model.KindTextNote},
		Limit:   s.limit,
	}
	r.apply(&f)

	evs, err := s.fetch.Collect(ctx, f, s.collectWindow)
	if err != nil {
		metrics.RecordCollaboratorFailure("lookup")
		return nil, fmt.Errorf("%w: collect notes: %v", ErrUnavailable, err)
	}
	return evs, nil
}

// FollowActivity reads pubkey's newest follow list and reports followed
// accounts that never posted or whose last note is older than the horizon.
func (s *Service) FollowActivity(ctx context.Context, pubkey string) (ActivityReport, error) {
	defer observe("follow_activity", time.Now())

	report := ActivityReport{PubKey: pubkey, Horizon: s.staleAfter}

	lists, err := s.fetch.Collect(ctx, model.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{model.KindContactList},
		Limit:   1,
	}, s.collectWindow)
	if err != nil {
		metrics.RecordCollaboratorFailure("lookup")
		return ActivityReport{}, fmt.Errorf("%w: collect follow list: %v", ErrUnavailable, err)
	}
	if len(lists) == 0 {
		return report, nil
	}
	report.HasFollowList = true

	follows := followed(lists[0])
	report.Follows = len(follows)
	if len(follows) == 0 {
		return report, nil
	}

	results := s.fetch.Query(ctx, follows, latestNote, s.queryWindow)
	var failed int
	var firstErr error
	for _, pk := range follows {
		if err := results[pk].Err; err != nil {
			if failed == 0 {
				firstErr = err
			}
			failed++
		}
	}
	if failed > 0 {
		metrics.RecordCollaboratorFailure("lookup")
		return ActivityReport{}, fmt.Errorf("%w: %d of %d followed accounts not queried: %v",
			ErrUnavailable, failed, len(follows), firstErr)
	}

	horizon := s.now().Add(-s.staleAfter)
	for _, pk := range follows {
		r := results[pk]
		switch {
		case !r.Found:
			report.Silent = append(report.Silent, pk)
		case r.Event.Time().Before(horizon):
			report.Stale = append(report.Stale, Stale{PubKey: pk, LastNote: r.Event.Time()})
		}
	}

	s.logger.Debug(ctx, "follow activity checked",
		logger.String("pubkey", pubkey),
		logger.Int("follows", len(follows)),
		logger.Int("silent", len(report.Silent)),
		logger.Int("stale", len(report.Stale)),
	)
	return report, nil
}

// followed returns the distinct p-tag values of a follow list, in order.
func followed(list model.Event) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, pk := range list.Tags.Values(model.TagPubKey) {
		if pk != "" && seen.Add(pk) {
			out = append(out, pk)
		}
	}
	return out
}

func latestNote(pubkey string) model.Filter {
	return model.Filter{Authors: []string{pubkey}, Kinds: []int{model.KindTextNote}, Limit: 1}
}

func observe(op string, start time.Time) {
	metrics.RecordCollaboratorLatency("lookup_"+op, float64(time.Since(start).Milliseconds()))
}
