// Package treesync replaces the nested children of a meeting or regulation
// with a newly submitted tree. Every method runs on a caller-supplied
// transaction handle so delete and insert commit or roll back together.
package treesync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/blob"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/metrics"
	"github.com/starford/councilhub/internal/models"
)

// Synchronizer performs delete-and-recreate of document subtrees.
type Synchronizer struct {
	blobs   blob.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Synchronizer. m may be nil.
func New(blobs blob.Store, logger *slog.Logger, m *metrics.Metrics) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		blobs:   blobs,
		logger:  logger.With(slog.String("component", "treesync")),
		metrics: m,
	}
}

// Report describes the files garbage-collected by a subtree deletion.
type Report struct {
	// Collected lists safe names whose file rows were removed.
	Collected []string
	// BlobFailures lists collected names whose blob could not be deleted.
	BlobFailures []string
}

func (s *Synchronizer) requireMeeting(tx *gorm.DB, parent doctree.ParentRef) error {
	if !parent.Kind.Valid() {
		return apperr.Validationf("unknown meeting kind %q", parent.Kind)
	}
	var m models.Meeting
	err := tx.Select("id").Where("id = ? AND kind = ?", parent.ID, parent.Kind).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return apperr.Persistence("load meeting", err)
}

func (s *Synchronizer) requireRegulation(tx *gorm.DB, id uint) error {
	var r models.Regulation
	err := tx.Select("id").Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return apperr.Persistence("load regulation", err)
}

// ReplaceAgenda deletes the meeting's current agenda and inserts agenda.
// Files marked deleted in agenda are collected unless agenda still
// references them.
func (s *Synchronizer) ReplaceAgenda(ctx context.Context, tx *gorm.DB, parent doctree.ParentRef, agenda doctree.Agenda) (Report, error) {
	if err := s.requireMeeting(tx, parent); err != nil {
		return Report{}, err
	}
	report, err := s.deleteAgenda(ctx, tx, parent, agenda.DeletedFiles(), agenda.ReferencedFiles())
	if err != nil {
		return report, err
	}
	return report, s.insertAgenda(ctx, tx, parent, agenda)
}

// DeleteAgenda removes every schedule, detail and link of the meeting.
// A reachable file is collected when nothing outside this agenda references
// it, its safe name is in deleted, and it is not in retained.
func (s *Synchronizer) DeleteAgenda(ctx context.Context, tx *gorm.DB, parent doctree.ParentRef, deleted, retained doctree.FileSet) (Report, error) {
	if err := s.requireMeeting(tx, parent); err != nil {
		return Report{}, err
	}
	return s.deleteAgenda(ctx, tx, parent, deleted, retained)
}

// InsertAgenda creates the agenda rows under the meeting in submission order.
func (s *Synchronizer) InsertAgenda(ctx context.Context, tx *gorm.DB, parent doctree.ParentRef, agenda doctree.Agenda) error {
	if err := s.requireMeeting(tx, parent); err != nil {
		return err
	}
	return s.insertAgenda(ctx, tx, parent, agenda)
}

func (s *Synchronizer) deleteAgenda(ctx context.Context, tx *gorm.DB, parent doctree.ParentRef, deleted, retained doctree.FileSet) (Report, error) {
	defer s.metrics.ObserveSync("agenda", "delete", time.Now())

	var schedules []models.Schedule
	err := tx.Where("meeting_id = ?", parent.ID).
		Order("id").
		Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Details.Links").
		Preload("Details.Links.File").
		Find(&schedules).Error
	if err != nil {
		return Report{}, apperr.Persistence("load agenda", err)
	}
	if len(schedules) == 0 {
		s.logger.DebugContext(ctx, "no agenda to delete", slog.String("parent", parent.String()))
		return Report{}, nil
	}

	sub := loadSubtree(schedules)
	total, err := referenceCounts(tx, sub.fileIDs())
	if err != nil {
		return Report{}, err
	}
	victims := collectable(sub, total, deleted, retained)

	if len(sub.detailIDs) > 0 {
		if err := tx.Where("detail_id IN ?", sub.detailIDs).Delete(&models.DetailFile{}).Error; err != nil {
			return Report{}, apperr.Persistence("delete links", err)
		}
	}

	report, err := s.collect(ctx, tx, victims)
	if err != nil {
		return report, err
	}

	if len(sub.detailIDs) > 0 {
		if err := tx.Where("id IN ?", sub.detailIDs).Delete(&models.Detail{}).Error; err != nil {
			return report, apperr.Persistence("delete details", err)
		}
	}
	if err := tx.Where("id IN ?", sub.scheduleIDs).Delete(&models.Schedule{}).Error; err != nil {
		return report, apperr.Persistence("delete schedules", err)
	}

	s.logger.DebugContext(ctx, "agenda deleted",
		slog.String("parent", parent.String()),
		slog.Int("schedules", len(sub.scheduleIDs)),
		slog.Int("details", len(sub.detailIDs)),
		slog.Int("files_collected", len(report.Collected)))
	return report, nil
}

// collect deletes the blob and row of each victim. Blob failures are logged
// and reported; the row is removed regardless.
func (s *Synchronizer) collect(ctx context.Context, tx *gorm.DB, victims []models.File) (Report, error) {
	var report Report
	for _, f := range victims {
		err := s.blobs.Delete(ctx, f.SafeName)
		s.metrics.ObserveBlob("delete", err)
		if err != nil {
			s.logger.WarnContext(ctx, "blob delete failed, dropping row anyway",
				slog.String("file", f.SafeName),
				slog.String("error", apperr.Storage("delete", err).Error()))
			report.BlobFailures = append(report.BlobFailures, f.SafeName)
		}
		if err := tx.Delete(&models.File{}, f.ID).Error; err != nil {
			return report, apperr.Persistence("delete file", err)
		}
		s.metrics.FileCollected()
		report.Collected = append(report.Collected, f.SafeName)
	}
	return report, nil
}

func (s *Synchronizer) insertAgenda(ctx context.Context, tx *gorm.DB, parent doctree.ParentRef, agenda doctree.Agenda) error {
	defer s.metrics.ObserveSync("agenda", "insert", time.Now())

	files := map[string]models.File{}
	for _, sn := range agenda.Schedules {
		schedule := models.Schedule{MeetingID: parent.ID, Title: sn.Title}
		if err := tx.Omit(clause.Associations).Create(&schedule).Error; err != nil {
			return apperr.Persistence("create schedule", err)
		}
		for _, dn := range sn.Details {
			detail := models.Detail{ScheduleID: schedule.ID, Content: dn.Content}
			if err := tx.Omit(clause.Associations).Create(&detail).Error; err != nil {
				return apperr.Persistence("create detail", err)
			}
			linked := map[uint]struct{}{}
			for pos, ref := range dn.Files {
				file, err := findOrCreateFile(tx, files, ref)
				if err != nil {
					return err
				}
				if _, dup := linked[file.ID]; dup {
					continue
				}
				linked[file.ID] = struct{}{}
				link := models.DetailFile{DetailID: detail.ID, FileID: file.ID, Position: pos}
				if err := tx.Omit(clause.Associations).Create(&link).Error; err != nil {
					return apperr.Persistence("link file", err)
				}
			}
		}
	}

	sc, dc, fc := agenda.Counts()
	s.logger.DebugContext(ctx, "agenda inserted",
		slog.String("parent", parent.String()),
		slog.Int("schedules", sc),
		slog.Int("details", dc),
		slog.Int("file_refs", fc))
	return nil
}

// findOrCreateFile reuses an existing row by safe name, which is how files
// become shared between details.
func findOrCreateFile(tx *gorm.DB, cache map[string]models.File, ref doctree.FileRef) (models.File, error) {
	if f, ok := cache[ref.Safe]; ok {
		return f, nil
	}
	var f models.File
	err := tx.Where("safe_name = ?", ref.Safe).Take(&f).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		original := ref.Original
		if original == "" {
			original = ref.Safe
		}
		f = models.File{OriginalName: original, SafeName: ref.Safe}
		if err := tx.Create(&f).Error; err != nil {
			return models.File{}, apperr.Persistence("create file", err)
		}
	default:
		return models.File{}, apperr.Persistence("find file", err)
	}
	cache[ref.Safe] = f
	return f, nil
}
