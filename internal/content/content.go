// Package content orchestrates uploads and deletions of meetings and
// regulations: blob uploads, one transaction per submission, change events
// and the refreshed listing.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/blob"
	"github.com/starford/councilhub/internal/filename"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/metrics"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/sse"
	"github.com/starford/councilhub/internal/store"
	"github.com/starford/councilhub/internal/treesync"
)

// URL sections.
const (
	SectionNotifications = "notifi"
	SectionMinutes       = "minutes"
	SectionRegulations   = "regulations"
)

// Section returns the URL section of a meeting kind.
func Section(kind models.MeetingKind) string {
	if kind == models.KindRecord {
		return SectionMinutes
	}
	return SectionNotifications
}

// KindOf maps a URL section to a meeting kind.
func KindOf(section string) (models.MeetingKind, bool) {
	switch section {
	case SectionNotifications:
		return models.KindNotification, true
	case SectionMinutes:
		return models.KindRecord, true
	}
	return "", false
}

// Options configures a Service.
type Options struct {
	DB      *store.DB
	Blobs   blob.Store
	Sync    *treesync.Synchronizer
	Listing *listing.Index
	Events  *sse.Broker
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// StrictUploads fails a submission when any of its files cannot be stored.
	StrictUploads bool
	// UploadConcurrency bounds parallel blob uploads per submission.
	UploadConcurrency int
	Clock             func() time.Time
}

// Service coordinates blob storage, tree synchronization and listings.
type Service struct {
	db          *store.DB
	blobs       blob.Store
	sync        *treesync.Synchronizer
	listing     *listing.Index
	events      *sse.Broker
	metrics     *metrics.Metrics
	log         *slog.Logger
	alloc       *filename.Allocator
	strict      bool
	concurrency int
}

func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	concurrency := opts.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	var allocOpts []filename.Option
	if opts.Clock != nil {
		allocOpts = append(allocOpts, filename.WithClock(opts.Clock))
	}
	syncer := opts.Sync
	if syncer == nil {
		syncer = treesync.New(opts.Blobs, log, opts.Metrics)
	}
	lst := opts.Listing
	if lst == nil {
		lst = listing.New(opts.DB.Gorm())
	}
	return &Service{
		db:          opts.DB,
		blobs:       opts.Blobs,
		sync:        syncer,
		listing:     lst,
		events:      opts.Events,
		metrics:     opts.Metrics,
		log:         log.With(slog.String("component", "content")),
		alloc:       filename.New(nameLookup{db: opts.DB, blobs: opts.Blobs}, allocOpts...),
		strict:      opts.StrictUploads,
		concurrency: concurrency,
	}
}

// nameLookup treats a name as taken when a row uses it or the blob exists.
type nameLookup struct {
	db    *store.DB
	blobs blob.Store
}

func (l nameLookup) SafeNameExists(ctx context.Context, name string) (bool, error) {
	used, err := l.db.SafeNameExists(ctx, name)
	if err != nil || used {
		return used, err
	}
	exists, err := l.blobs.Exists(ctx, name)
	if err != nil {
		return false, apperr.Storage("stat "+name, err)
	}
	return exists, nil
}

// parseID reads the "id" field. "-1" requests a new row.
func parseID(values url.Values, allowCreate bool) (uint, bool, error) {
	raw := strings.TrimSpace(values.Get("id"))
	if raw == "" {
		return 0, false, apperr.Validationf("missing id")
	}
	if raw == "-1" && allowCreate {
		return 0, true, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false, apperr.Validationf("invalid id %q", raw)
	}
	return uint(id), false, nil
}

// expectedVersion reads the optional "version" field, falling back to the
// If-Match value. Zero means unchecked.
func expectedVersion(values url.Values, ifMatch int) (int, error) {
	raw := strings.TrimSpace(values.Get("version"))
	if raw == "" {
		return ifMatch, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.Validationf("invalid version %q", raw)
	}
	return v, nil
}

// rawField returns the JSON value of name and whether it was submitted.
func rawField(values url.Values, name string) (json.RawMessage, bool, error) {
	v, ok := values[name]
	if !ok || len(v) == 0 {
		return nil, false, nil
	}
	s := strings.TrimSpace(v[0])
	if s == "" {
		return nil, true, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, true, apperr.Validationf("%s: malformed JSON", name)
	}
	return json.RawMessage(s), true, nil
}

// deletedFiles decodes the optional JSON list of file refs to collect.
func deletedFiles(values url.Values) ([]string, error) {
	raw, ok, err := rawField(values, "deleted_files")
	if err != nil || !ok || raw == nil {
		return nil, err
	}
	var refs []string
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, apperr.Validationf("deleted_files: %v", err)
	}
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if name := blob.NameFromRef(ref); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
}

func (s *Service) publish(kind, section string, id uint, version int) {
	s.events.PublishContentEvent(kind, sse.ContentChange{Section: section, ID: id, Version: version})
}

// discardUnreferenced removes blobs that no row references. It runs after
// the transaction, so names from a rolled-back submission are removed too.
func (s *Service) discardUnreferenced(ctx context.Context, names []string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		if name == "" {
			continue
		}
		used, err := s.db.SafeNameExists(ctx, name)
		if err != nil {
			s.log.Warn("content: reference check failed", "name", name, "error", err)
			continue
		}
		if used {
			continue
		}
		err = s.blobs.Delete(ctx, name)
		s.metrics.ObserveBlob("delete", err)
		if err != nil {
			s.log.Warn("content: discard blob failed", "name", name, "error", err)
			continue
		}
		s.log.Debug("content: discarded unreferenced blob", "name", name)
	}
}
