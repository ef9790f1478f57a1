package content

import (
	"context"
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/form"
	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/sse"
)

// RegulationInput is one regulation upload.
type RegulationInput struct {
	Values  url.Values
	IfMatch int
	Caller  auth.Caller
}

type RegulationResult struct {
	*listing.RegulationListing
	ID      uint `json:"id"`
	Version int  `json:"version"`
}

func regulationFields(create bool) []form.Field[models.Regulation] {
	title := form.Text("title", func(r *models.Regulation, v string) { r.Title = v })
	if create {
		title = title.Require()
	}
	return []form.Field[models.Regulation]{
		title,
		form.Text("category", func(r *models.Regulation, v string) {
			if v == "" {
				v = models.CategoryOther
			}
			r.Category = v
		}),
		form.Text("description", func(r *models.Regulation, v string) { r.Description = v }),
		form.Bool("is_visible", func(r *models.Regulation, v bool) { r.IsVisible = v }),
	}
}

func validateRegulation(r *models.Regulation) error {
	return invalid(validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&r.Category, validation.Required, validation.RuneLength(1, 255)),
	))
}

// SaveRegulation creates (id "-1") or edits a regulation. The chapter tree
// and revisions are replaced when either is submitted.
func (s *Service) SaveRegulation(ctx context.Context, in RegulationInput) (res *RegulationResult, err error) {
	defer func() { s.metrics.ObserveRequest(SectionRegulations, "upload", err) }()

	id, create, err := parseID(in.Values, true)
	if err != nil {
		return nil, err
	}
	expected, err := expectedVersion(in.Values, in.IfMatch)
	if err != nil {
		return nil, err
	}

	draft := models.Regulation{
		Category:  models.CategoryOther,
		IsVisible: true,
		Version:   1,
		UserID:    in.Caller.ID,
	}
	if !create {
		err := s.db.Gorm().WithContext(ctx).Where("id = ?", id).Take(&draft).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		if err != nil {
			return nil, apperr.Persistence("load regulation", err)
		}
		if expected != 0 && draft.Version != expected {
			return nil, apperr.ErrConflict
		}
	}

	if err := form.Bind(in.Values, &draft, regulationFields(create)); err != nil {
		return nil, err
	}
	if err := validateRegulation(&draft); err != nil {
		return nil, err
	}

	content, hasContent, err := rawField(in.Values, "content")
	if err != nil {
		return nil, err
	}
	revisions, hasRevisions, err := rawField(in.Values, "revision")
	if err != nil {
		return nil, err
	}
	replace := hasContent || hasRevisions
	var body doctree.RegulationBody
	if replace {
		if body, err = doctree.ParseRegulation(content, revisions); err != nil {
			return nil, err
		}
	}

	err = s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if create {
			if err := tx.Omit(clause.Associations).Create(&draft).Error; err != nil {
				return apperr.Persistence("create regulation", err)
			}
		} else {
			q := tx.Model(&models.Regulation{}).Where("id = ?", id)
			if expected != 0 {
				q = q.Where("version = ?", expected)
			}
			upd := q.Updates(map[string]any{
				"title":       draft.Title,
				"category":    draft.Category,
				"description": draft.Description,
				"is_visible":  draft.IsVisible,
				"version":     gorm.Expr("version + 1"),
			})
			if upd.Error != nil {
				return apperr.Persistence("update regulation", upd.Error)
			}
			if upd.RowsAffected == 0 {
				if expected != 0 {
					return apperr.ErrConflict
				}
				return apperr.ErrNotFound
			}
			var fresh models.Regulation
			if err := tx.Select("version").Where("id = ?", id).Take(&fresh).Error; err != nil {
				return apperr.Persistence("reload regulation", err)
			}
			draft.Version = fresh.Version
		}

		if !replace {
			return nil
		}
		return s.sync.ReplaceRegulation(ctx, tx, draft.ID, body)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("content: regulation saved",
		"id", draft.ID, "version", draft.Version, "created", create,
		"chapters", len(body.Chapters), "revisions", len(body.Revisions))

	kind := sse.Updated
	if create {
		kind = sse.Created
	}
	s.publish(kind, SectionRegulations, draft.ID, draft.Version)

	lst, err := s.listing.Regulations(ctx, false)
	if err != nil {
		return nil, err
	}
	lst.Editable = true
	return &RegulationResult{RegulationListing: lst, ID: draft.ID, Version: draft.Version}, nil
}

// DeleteRegulation removes the regulation with its body and revisions.
func (s *Service) DeleteRegulation(ctx context.Context, values url.Values) (lst *listing.RegulationListing, err error) {
	defer func() { s.metrics.ObserveRequest(SectionRegulations, "delete", err) }()

	id, _, err := parseID(values, false)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.sync.DeleteRegulation(ctx, tx, id); err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Regulation{})
		if res.Error != nil {
			return apperr.Persistence("delete regulation", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("content: regulation deleted", "id", id)
	s.publish(sse.Deleted, SectionRegulations, id, 0)

	lst, err = s.listing.Regulations(ctx, false)
	if err != nil {
		return nil, err
	}
	lst.Editable = true
	return lst, nil
}
