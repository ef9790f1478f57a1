// Package listing builds the selector listings for meetings and regulations
// without loading their nested bodies.
package listing

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/models"
)

type MeetingItem struct {
	ID        uint   `json:"id"`
	Title     string `json:"title"`
	Session   int    `json:"session"`
	IsVisible bool   `json:"is_visible"`
}

// MeetingListing is ordered by session then start time, newest first.
type MeetingListing struct {
	Items         []MeetingItem `json:"items"`
	SessionList   []int         `json:"session_list"`
	SessionLabels []string      `json:"session_labels"`
	Editable      bool          `json:"editable"`
}

type RegulationItem struct {
	ID        uint   `json:"id"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	IsVisible bool   `json:"is_visible"`
}

// RegulationListing is ordered by category precedence then id.
type RegulationListing struct {
	Regulations  []RegulationItem `json:"regulations"`
	CategoryList []string         `json:"category_list"`
	Editable     bool             `json:"editable"`
}

// Index queries listings.
type Index struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Meetings lists meetings of kind. With onlyVisible, hidden rows are
// filtered before ordering.
func (ix *Index) Meetings(ctx context.Context, kind models.MeetingKind, onlyVisible bool) (*MeetingListing, error) {
	q := ix.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Select("id", "title", "session", "is_visible").
		Where("kind = ?", kind)
	if onlyVisible {
		q = q.Where("is_visible = ?", true)
	}

	var rows []models.Meeting
	if err := q.Order("session DESC").Order("datestart DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, apperr.Persistence("list meetings", err)
	}

	out := &MeetingListing{
		Items:         make([]MeetingItem, 0, len(rows)),
		SessionList:   []int{},
		SessionLabels: []string{},
	}
	seen := map[int]struct{}{}
	for _, r := range rows {
		out.Items = append(out.Items, MeetingItem{ID: r.ID, Title: r.Title, Session: r.Session, IsVisible: r.IsVisible})
		if _, ok := seen[r.Session]; ok {
			continue
		}
		seen[r.Session] = struct{}{}
		out.SessionList = append(out.SessionList, r.Session)
		out.SessionLabels = append(out.SessionLabels, SessionLabel(r.Session))
	}
	return out, nil
}

// Regulations lists regulations by the fixed category precedence; unknown
// categories sort after all known ones.
func (ix *Index) Regulations(ctx context.Context, onlyVisible bool) (*RegulationListing, error) {
	q := ix.db.WithContext(ctx).
		Model(&models.Regulation{}).
		Select("id", "title", "category", "is_visible")
	if onlyVisible {
		q = q.Where("is_visible = ?", true)
	}

	var rows []models.Regulation
	if err := q.Clauses(categoryOrder()).Find(&rows).Error; err != nil {
		return nil, apperr.Persistence("list regulations", err)
	}

	out := &RegulationListing{
		Regulations:  make([]RegulationItem, 0, len(rows)),
		CategoryList: append([]string(nil), models.Categories...),
	}
	for _, r := range rows {
		out.Regulations = append(out.Regulations, RegulationItem{ID: r.ID, Title: r.Title, Category: r.Category, IsVisible: r.IsVisible})
	}
	return out, nil
}

func categoryOrder() clause.OrderBy {
	var sql strings.Builder
	vars := make([]any, 0, len(models.Categories))
	sql.WriteString("CASE category")
	for i, c := range models.Categories {
		sql.WriteString(" WHEN ? THEN ")
		sql.WriteString(string(rune('1' + i)))
		vars = append(vars, c)
	}
	sql.WriteString(" ELSE 100 END, id")
	return clause.OrderBy{Expression: clause.Expr{SQL: sql.String(), Vars: vars, WithoutParentheses: true}}
}
