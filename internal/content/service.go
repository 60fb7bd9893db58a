package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

// Upload is a raw media file attached to a draft by the admin screen.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Snapshot is the last list the service obtained from the backend.
type Snapshot struct {
	Items []Item
	// FetchedAt is the time of the last successful list, zero if none.
	FetchedAt time.Time
	// Err is the error of the most recent list attempt, nil if it succeeded.
	Err error
}

// Stale reports whether the last list attempt failed.
func (s Snapshot) Stale() bool { return s.Err != nil }

// Service is the facade every caller uses to read and mutate content.
// Every mutation is followed by a fresh List from the backend; the local
// view is never merged optimistically.
type Service struct {
	repo     Repository
	uploader Uploader

	mu        sync.RWMutex
	items     []Item
	fetchedAt time.Time
	lastErr   error
	// listSeq numbers list attempts in start order; applied is the newest
	// attempt whose outcome is stored.
	listSeq uint64
	applied uint64

	// notifyMu orders subscriber delivery with applied.
	notifyMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]func([]Item)
	nextID int
}

// NewService wraps repo. uploader may be nil, which disables direct uploads.
func NewService(repo Repository, uploader Uploader) *Service {
	return &Service{
		repo:     repo,
		uploader: uploader,
		subs:     make(map[int]func([]Item)),
	}
}

// UploadsEnabled reports whether raw files can be stored.
func (s *Service) UploadsEnabled() bool { return s.uploader != nil }

// OnChange registers fn to receive every freshly listed collection. fn runs
// on the goroutine that performed the list, must not block and must not
// call back into the Service. The returned function unregisters fn.
func (s *Service) OnChange(fn func([]Item)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Snapshot returns the last known list together with the outcome of the
// most recent list attempt. The returned slice is a copy.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Items:     cloneItems(s.items),
		FetchedAt: s.fetchedAt,
		Err:       s.lastErr,
	}
}

// Items returns a copy of the last known list (possibly empty).
func (s *Service) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

// Refresh lists the backend. On failure the previous snapshot is returned
// alongside the error so callers can keep rendering stale data.
//
// Overlapping calls are applied in the order they started: a list that
// began before a newer one completed is discarded and the newer snapshot
// is returned instead.
func (s *Service) Refresh(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	s.listSeq++
	seq := s.listSeq
	s.mu.Unlock()

	items, err := s.repo.List(ctx)
	if err != nil {
		s.mu.Lock()
		if seq > s.applied {
			s.applied = seq
			s.lastErr = err
		}
		stale := cloneItems(s.items)
		s.mu.Unlock()
		log.Warn().Err(err).Int("stale_items", len(stale)).Msg("Content list failed, keeping last snapshot")
		return stale, fmt.Errorf("list content: %w", err)
	}

	s.mu.Lock()
	if seq < s.applied {
		current, applied := cloneItems(s.items), s.applied
		s.mu.Unlock()
		log.Debug().Uint64("seq", seq).Uint64("applied", applied).Msg("Discarding out-of-date content list")
		return current, nil
	}
	s.applied = seq
	s.items = items
	s.fetchedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()

	s.notifyMu.Lock()
	if s.appliedSeq() == seq {
		s.notify(items)
	}
	s.notifyMu.Unlock()
	return cloneItems(items), nil
}

func (s *Service) appliedSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Create validates and normalizes d, inserts it, then re-lists. The returned
// list is the fresh server state, or the stale snapshot when the re-list
// failed.
func (s *Service) Create(ctx context.Context, d Draft) (string, []Item, error) {
	if err := d.Validate(); err != nil {
		return "", s.Items(), err
	}
	d = d.Normalized()

	id, err := s.repo.Insert(ctx, d)
	if err != nil {
		return "", s.Items(), fmt.Errorf("insert content: %w", err)
	}
	log.Info().Str("id", id).Str("media_type", string(d.MediaType)).Msg("Content item created")

	items, err := s.Refresh(ctx)
	return id, items, err
}

// CreateWithUpload is Create for drafts that may carry a raw file. When the
// draft has no media URL the file is stored through the uploader and its
// public URL becomes the media reference; a provided media URL bypasses the
// upload. An empty media type is derived from the file.
func (s *Service) CreateWithUpload(ctx context.Context, d Draft, file *Upload) (string, []Item, error) {
	if file == nil || len(file.Data) == 0 || strings.TrimSpace(d.MediaURL) != "" {
		return s.Create(ctx, d)
	}
	if d.MediaType == "" {
		d.MediaType = media.KindFromUpload(file.Filename, file.ContentType)
	}
	if s.uploader == nil {
		return "", s.Items(), &ValidationError{Problems: []string{"media reference is required (uploads are disabled)"}}
	}

	// Validate everything but the media reference before storing the file.
	probe := d
	probe.MediaURL = "pending-upload"
	if err := probe.Validate(); err != nil {
		return "", s.Items(), err
	}

	url, err := s.uploader.Upload(ctx, file.Filename, media.ContentTypeFor(file.Filename, file.ContentType), file.Data)
	if err != nil {
		return "", s.Items(), fmt.Errorf("upload media: %w", err)
	}
	d.MediaURL = url
	return s.Create(ctx, d)
}

// Delete removes id (unknown ids are not an error) then re-lists.
func (s *Service) Delete(ctx context.Context, id string) ([]Item, error) {
	if strings.TrimSpace(id) == "" {
		return s.Items(), &ValidationError{Problems: []string{"id is required"}}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.Items(), fmt.Errorf("delete content %s: %w", id, err)
	}
	log.Info().Str("id", id).Msg("Content item deleted")
	return s.Refresh(ctx)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (s *Service) notify(items []Item) {
	s.subMu.Lock()
	fns := make([]func([]Item), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(cloneItems(items))
	}
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}
