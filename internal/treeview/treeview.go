// Package treeview loads persisted meetings and regulations with their full
// nested bodies and turns them into the JSON shapes served to clients.
package treeview

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/blob"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/models"
)

// Meeting is the full client view of a notification or record.
type Meeting struct {
	ID                uint            `json:"id"`
	Title             string          `json:"title"`
	Session           int             `json:"session"`
	Place             string          `json:"place"`
	DateStart         time.Time       `json:"datestart"`
	DateEnd           time.Time       `json:"dateend"`
	Person            string          `json:"person"`
	Shorthand         string          `json:"shorthand"`
	Attendance        json.RawMessage `json:"attendance"`
	Present           json.RawMessage `json:"present"`
	IsVisible         bool            `json:"is_visible"`
	UploadType        string          `json:"upload_type"`
	Chairman          string          `json:"chairman"`
	Recorder          string          `json:"recorder"`
	MeetingTranscript string          `json:"meeting_transcript"`
	Video             string          `json:"video"`
	Version           int             `json:"version"`
	Schedules         []Schedule      `json:"schedules"`
}

type Schedule struct {
	ID      uint     `json:"id"`
	Title   string   `json:"title"`
	Details []Detail `json:"details"`
}

// Detail carries parallel display-name and URL lists for its files.
type Detail struct {
	ID       uint     `json:"id"`
	Content  string   `json:"content"`
	FileName []string `json:"file_name"`
	FileURLs []string `json:"file_urls"`
}

// Regulation is the full client view of a regulation.
type Regulation struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	IsVisible   bool       `json:"is_visible"`
	Description string     `json:"description"`
	Version     int        `json:"version"`
	Chapters    []Chapter  `json:"chapters"`
	Revisions   []Revision `json:"revisions"`
}

type Chapter struct {
	ID       uint      `json:"id"`
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	Articles []Article `json:"articles"`
}

type Article struct {
	ID         uint        `json:"id"`
	Title      string      `json:"title"`
	SortIndex  float64     `json:"sort_index"`
	Paragraphs []Paragraph `json:"paragraphs"`
}

type Paragraph struct {
	ID      uint     `json:"id"`
	Number  int      `json:"number"`
	Content string   `json:"content"`
	Clauses []Clause `json:"clauses"`
}

type Clause struct {
	ID      uint   `json:"id"`
	Number  int    `json:"number"`
	Content string `json:"content"`
}

type Revision struct {
	ID         uint   `json:"id"`
	ModifiedAt string `json:"modified_at"`
	Note       string `json:"note"`
}

// Serializer reads trees from the database.
type Serializer struct {
	db    *gorm.DB
	blobs blob.Store
}

// New returns a Serializer resolving file URLs through blobs.
func New(db *gorm.DB, blobs blob.Store) *Serializer {
	return &Serializer{db: db, blobs: blobs}
}

func byID(db *gorm.DB) *gorm.DB { return db.Order("id") }

// Meeting loads one meeting with schedules, details and files.
func (s *Serializer) Meeting(ctx context.Context, parent doctree.ParentRef) (*Meeting, error) {
	var m models.Meeting
	err := s.db.WithContext(ctx).
		Where("id = ? AND kind = ?", parent.ID, parent.Kind).
		Preload("Schedules", byID).
		Preload("Schedules.Details", byID).
		Preload("Schedules.Details.Links", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Schedules.Details.Links.File").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Persistence("load meeting", err)
	}
	return s.meetingView(&m), nil
}

func (s *Serializer) meetingView(m *models.Meeting) *Meeting {
	out := &Meeting{
		ID:         m.ID,
		Title:      m.Title,
		Session:    m.Session,
		Place:      m.Place,
		DateStart:  m.DateStart,
		DateEnd:    m.DateEnd,
		Person:     m.Person,
		Shorthand:  m.Shorthand,
		Attendance: rawOrEmpty(m.Attendance),
		Present:    rawOrEmpty(m.Present),
		IsVisible:  m.IsVisible,
		UploadType: m.UploadType,
		Chairman:   m.Chairman,
		Recorder:   m.Recorder,
		Version:    m.Version,
		Schedules:  make([]Schedule, 0, len(m.Schedules)),
	}
	if m.MeetingTranscript != "" {
		out.MeetingTranscript = s.blobs.URL(m.MeetingTranscript)
	}
	out.Video = m.Video
	if m.UploadType == models.UploadTypeFile && m.Video != "" {
		out.Video = s.blobs.URL(m.Video)
	}

	for _, sch := range m.Schedules {
		vs := Schedule{ID: sch.ID, Title: sch.Title, Details: make([]Detail, 0, len(sch.Details))}
		for _, d := range sch.Details {
			vd := Detail{
				ID:       d.ID,
				Content:  d.Content,
				FileName: make([]string, 0, len(d.Links)),
				FileURLs: make([]string, 0, len(d.Links)),
			}
			for _, l := range d.Links {
				vd.FileName = append(vd.FileName, l.File.OriginalName)
				vd.FileURLs = append(vd.FileURLs, s.blobs.URL(l.File.SafeName))
			}
			vs.Details = append(vs.Details, vd)
		}
		out.Schedules = append(out.Schedules, vs)
	}
	return out
}

// Regulation loads one regulation with its four-level body and revisions.
// Articles are ordered by sort index; paragraphs and clauses by id.
func (s *Serializer) Regulation(ctx context.Context, id uint) (*Regulation, error) {
	var r models.Regulation
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Preload("Chapters", byID).
		Preload("Chapters.Articles", byID).
		Preload("Chapters.Articles.Paragraphs", byID).
		Preload("Chapters.Articles.Paragraphs.Clauses", byID).
		Preload("Revisions", byID).
		Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Persistence("load regulation", err)
	}
	return regulationView(&r), nil
}

func regulationView(r *models.Regulation) *Regulation {
	out := &Regulation{
		ID:          r.ID,
		Title:       r.Title,
		Category:    r.Category,
		IsVisible:   r.IsVisible,
		Description: r.Description,
		Version:     r.Version,
		Chapters:    make([]Chapter, 0, len(r.Chapters)),
		Revisions:   make([]Revision, 0, len(r.Revisions)),
	}
	for _, c := range r.Chapters {
		vc := Chapter{ID: c.ID, Number: c.Number, Title: c.Title, Articles: make([]Article, 0, len(c.Articles))}
		articles := append([]models.Article(nil), c.Articles...)
		sort.SliceStable(articles, func(i, j int) bool {
			return articles[i].SortIndex < articles[j].SortIndex
		})
		for _, a := range articles {
			va := Article{ID: a.ID, Title: a.Title, SortIndex: a.SortIndex, Paragraphs: make([]Paragraph, 0, len(a.Paragraphs))}
			for _, p := range a.Paragraphs {
				vp := Paragraph{ID: p.ID, Number: p.Number, Content: p.Content, Clauses: make([]Clause, 0, len(p.Clauses))}
				for _, cl := range p.Clauses {
					vp.Clauses = append(vp.Clauses, Clause{ID: cl.ID, Number: cl.Number, Content: cl.Content})
				}
				va.Paragraphs = append(va.Paragraphs, vp)
			}
			vc.Articles = append(vc.Articles, va)
		}
		out.Chapters = append(out.Chapters, vc)
	}
	for _, rev := range r.Revisions {
		out.Revisions = append(out.Revisions, Revision{
			ID:         rev.ID,
			ModifiedAt: time.Time(rev.ModifiedAt).Format(doctree.RevisionDateLayout),
			Note:       rev.Note,
		})
	}
	return out
}

func rawOrEmpty(j []byte) json.RawMessage {
	if len(j) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(j)
}
