package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/form"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/sse"
	"github.com/starford/councilhub/internal/treesync"
)

// MeetingInput is one meeting upload.
type MeetingInput struct {
	Kind   models.MeetingKind
	Values url.Values
	// Files are the newfile-* parts.
	Files      []Upload
	Transcript *Upload
	Video      *Upload
	// IfMatch is the version from the If-Match header, zero when absent.
	IfMatch int
	Caller  auth.Caller
}

// MeetingResult is the refreshed listing plus the outcome of the upload.
type MeetingResult struct {
	*listing.MeetingListing
	ID            uint     `json:"id"`
	Version       int      `json:"version"`
	FailedUploads []string `json:"failed_uploads"`
}

func meetingFields(create bool) []form.Field[models.Meeting] {
	fields := []form.Field[models.Meeting]{
		form.Text("title", func(m *models.Meeting, v string) { m.Title = v }),
		form.Parsed("session", listing.ParseSession, func(m *models.Meeting, v int) { m.Session = v }),
		form.Time("datestart", func(m *models.Meeting, v time.Time) { m.DateStart = v }),
		form.Time("dateend", func(m *models.Meeting, v time.Time) { m.DateEnd = v }),
		form.Text("place", func(m *models.Meeting, v string) { m.Place = v }),
		form.Text("person", func(m *models.Meeting, v string) { m.Person = v }),
		form.Text("shorthand", func(m *models.Meeting, v string) { m.Shorthand = v }),
		form.Text("chairman", func(m *models.Meeting, v string) { m.Chairman = v }),
		form.Text("recorder", func(m *models.Meeting, v string) { m.Recorder = v }),
		form.Text("uploadType", func(m *models.Meeting, v string) {
			if v != "" {
				m.UploadType = v
			}
		}),
		form.JSON("present", func(m *models.Meeting, v json.RawMessage) { m.Present = jsonOrEmpty(v) }),
		form.JSON("attendance", func(m *models.Meeting, v json.RawMessage) { m.Attendance = jsonOrEmpty(v) }),
		form.Bool("is_visible", func(m *models.Meeting, v bool) { m.IsVisible = v }),
	}
	if create {
		for i := range fields[:4] {
			fields[i] = fields[i].Require()
		}
	}
	return fields
}

func jsonOrEmpty(v json.RawMessage) datatypes.JSON {
	if len(v) == 0 {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(v)
}

func validateMeeting(m *models.Meeting) error {
	return invalid(validation.ValidateStruct(m,
		validation.Field(&m.Title, validation.Required, validation.RuneLength(1, 100)),
		validation.Field(&m.Session, validation.Min(1)),
		validation.Field(&m.UploadType, validation.In(models.UploadTypeFile, models.UploadTypeLink)),
		validation.Field(&m.Place, validation.RuneLength(0, 100)),
		validation.Field(&m.Person, validation.RuneLength(0, 100)),
	))
}

// meetingColumns lists every column an edit writes.
func meetingColumns(m *models.Meeting) map[string]any {
	return map[string]any{
		"title":              m.Title,
		"session":            m.Session,
		"datestart":          m.DateStart,
		"dateend":            m.DateEnd,
		"place":              m.Place,
		"person":             m.Person,
		"shorthand":          m.Shorthand,
		"chairman":           m.Chairman,
		"recorder":           m.Recorder,
		"upload_type":        m.UploadType,
		"meeting_transcript": m.MeetingTranscript,
		"video":              m.Video,
		"attendance":         m.Attendance,
		"present":            m.Present,
		"is_visible":         m.IsVisible,
		"version":            gorm.Expr("version + 1"),
	}
}

func (s *Service) loadMeeting(ctx context.Context, kind models.MeetingKind, id uint) (models.Meeting, error) {
	var m models.Meeting
	err := s.db.Gorm().WithContext(ctx).Where("id = ? AND kind = ?", id, kind).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, apperr.ErrNotFound
	}
	return m, apperr.Persistence("load meeting", err)
}

// SaveMeeting creates (id "-1") or edits a meeting and replaces its agenda
// when content is submitted.
func (s *Service) SaveMeeting(ctx context.Context, in MeetingInput) (res *MeetingResult, err error) {
	section := Section(in.Kind)
	defer func() { s.metrics.ObserveRequest(section, "upload", err) }()

	if !in.Kind.Valid() {
		return nil, apperr.Validationf("unknown meeting kind %q", in.Kind)
	}
	id, create, err := parseID(in.Values, true)
	if err != nil {
		return nil, err
	}
	expected, err := expectedVersion(in.Values, in.IfMatch)
	if err != nil {
		return nil, err
	}

	draft := models.Meeting{
		Kind:       in.Kind,
		UploadType: models.UploadTypeFile,
		Attendance: datatypes.JSON(`{}`),
		Present:    datatypes.JSON(`{}`),
		IsVisible:  true,
		Version:    1,
		UserID:     in.Caller.ID,
	}
	var oldBlobs []string
	if !create {
		if draft, err = s.loadMeeting(ctx, in.Kind, id); err != nil {
			return nil, err
		}
		if expected != 0 && draft.Version != expected {
			return nil, apperr.ErrConflict
		}
		oldBlobs = meetingBlobs(&draft)
	}
	prevUploadType := draft.UploadType

	if err := form.Bind(in.Values, &draft, meetingFields(create)); err != nil {
		return nil, err
	}
	if err := validateMeeting(&draft); err != nil {
		return nil, err
	}
	contentRaw, hasContent, err := rawField(in.Values, "content")
	if err != nil {
		return nil, err
	}

	var video *Upload
	if draft.UploadType == models.UploadTypeFile {
		video = in.Video
	}
	b, err := s.storeParts(ctx, in.Files, in.Transcript, video)
	if err != nil {
		return nil, err
	}
	defer s.discardUnreferenced(ctx, b.stored)

	var agenda doctree.Agenda
	if hasContent {
		if agenda, err = doctree.ParseAgenda(contentRaw, b.attachments); err != nil {
			return nil, err
		}
	}

	if b.transcript != nil {
		draft.MeetingTranscript = b.transcript.Safe
	}
	switch {
	case draft.UploadType == models.UploadTypeLink:
		if link, ok := in.Values["videoLink"]; ok && len(link) > 0 {
			draft.Video = link[0]
		} else if prevUploadType != models.UploadTypeLink {
			// a stored file name is not a link
			draft.Video = ""
		}
	case b.video != nil:
		draft.Video = b.video.Safe
	}

	var report treesync.Report
	err = s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if create {
			if err := tx.Omit(clause.Associations).Create(&draft).Error; err != nil {
				return apperr.Persistence("create meeting", err)
			}
		} else {
			q := tx.Model(&models.Meeting{}).Where("id = ? AND kind = ?", id, in.Kind)
			if expected != 0 {
				q = q.Where("version = ?", expected)
			}
			upd := q.Updates(meetingColumns(&draft))
			if upd.Error != nil {
				return apperr.Persistence("update meeting", upd.Error)
			}
			if upd.RowsAffected == 0 {
				if expected != 0 {
					return apperr.ErrConflict
				}
				return apperr.ErrNotFound
			}
			var fresh models.Meeting
			if err := tx.Select("version").Where("id = ?", id).Take(&fresh).Error; err != nil {
				return apperr.Persistence("reload meeting", err)
			}
			draft.Version = fresh.Version
		}

		if !hasContent {
			return nil
		}
		var err error
		report, err = s.sync.ReplaceAgenda(ctx, tx, doctree.ParentRef{Kind: in.Kind, ID: draft.ID}, agenda)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.discardUnreferenced(ctx, oldBlobs)
	schedules, details, files := agenda.Counts()
	s.log.Info("content: meeting saved",
		"section", section, "id", draft.ID, "version", draft.Version, "created", create,
		"schedules", schedules, "details", details, "files", files,
		"collected", len(report.Collected), "failed_uploads", len(b.failed))

	kind := sse.Updated
	if create {
		kind = sse.Created
	}
	s.publish(kind, section, draft.ID, draft.Version)

	lst, err := s.listing.Meetings(ctx, in.Kind, false)
	if err != nil {
		return nil, err
	}
	lst.Editable = true
	failed := b.failed
	if failed == nil {
		failed = []string{}
	}
	return &MeetingResult{MeetingListing: lst, ID: draft.ID, Version: draft.Version, FailedUploads: failed}, nil
}

// meetingBlobs lists the stored media of m that are blob names.
func meetingBlobs(m *models.Meeting) []string {
	names := []string{m.MeetingTranscript}
	if m.UploadType != models.UploadTypeLink {
		names = append(names, m.Video)
	}
	return names
}

// DeleteMeeting removes the meeting with its agenda. Files listed in the
// optional deleted_files field are collected when nothing else uses them.
func (s *Service) DeleteMeeting(ctx context.Context, kind models.MeetingKind, values url.Values) (lst *listing.MeetingListing, err error) {
	section := Section(kind)
	defer func() { s.metrics.ObserveRequest(section, "delete", err) }()

	if !kind.Valid() {
		return nil, apperr.Validationf("unknown meeting kind %q", kind)
	}
	id, _, err := parseID(values, false)
	if err != nil {
		return nil, err
	}
	deleted, err := deletedFiles(values)
	if err != nil {
		return nil, err
	}

	existing, err := s.loadMeeting(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	var report treesync.Report
	err = s.db.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		report, err = s.sync.DeleteAgenda(ctx, tx, doctree.ParentRef{Kind: kind, ID: id}, doctree.NewFileSet(deleted...), nil)
		if err != nil {
			return err
		}
		res := tx.Where("id = ? AND kind = ?", id, kind).Delete(&models.Meeting{})
		if res.Error != nil {
			return apperr.Persistence("delete meeting", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.discardUnreferenced(ctx, meetingBlobs(&existing))
	s.log.Info("content: meeting deleted", "section", section, "id", id, "collected", len(report.Collected))
	s.publish(sse.Deleted, section, id, 0)

	lst, err = s.listing.Meetings(ctx, kind, false)
	if err != nil {
		return nil, err
	}
	lst.Editable = true
	return lst, nil
}
