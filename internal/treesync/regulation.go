package treesync

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/models"
)

// ReplaceRegulation swaps the chapters and revisions of a regulation.
func (s *Synchronizer) ReplaceRegulation(ctx context.Context, tx *gorm.DB, id uint, body doctree.RegulationBody) error {
	if err := s.requireRegulation(tx, id); err != nil {
		return err
	}
	if err := s.deleteRegulation(ctx, tx, id); err != nil {
		return err
	}
	return s.insertRegulation(ctx, tx, id, body)
}

// DeleteRegulation removes every chapter, article, paragraph, clause and
// revision of the regulation, leaving the regulation row itself.
func (s *Synchronizer) DeleteRegulation(ctx context.Context, tx *gorm.DB, id uint) error {
	if err := s.requireRegulation(tx, id); err != nil {
		return err
	}
	return s.deleteRegulation(ctx, tx, id)
}

// InsertRegulation creates the body rows in submission order.
func (s *Synchronizer) InsertRegulation(ctx context.Context, tx *gorm.DB, id uint, body doctree.RegulationBody) error {
	if err := s.requireRegulation(tx, id); err != nil {
		return err
	}
	return s.insertRegulation(ctx, tx, id, body)
}

func (s *Synchronizer) deleteRegulation(ctx context.Context, tx *gorm.DB, id uint) error {
	defer s.metrics.ObserveSync("regulation", "delete", time.Now())

	var chapters []models.Chapter
	err := tx.Where("regulation_id = ?", id).
		Preload("Articles.Paragraphs.Clauses").
		Find(&chapters).Error
	if err != nil {
		return apperr.Persistence("load regulation body", err)
	}

	var chapterIDs, articleIDs, paragraphIDs, clauseIDs []uint
	for _, c := range chapters {
		chapterIDs = append(chapterIDs, c.ID)
		for _, a := range c.Articles {
			articleIDs = append(articleIDs, a.ID)
			for _, p := range a.Paragraphs {
				paragraphIDs = append(paragraphIDs, p.ID)
				for _, cl := range p.Clauses {
					clauseIDs = append(clauseIDs, cl.ID)
				}
			}
		}
	}

	steps := []struct {
		what  string
		ids   []uint
		model any
	}{
		{"clauses", clauseIDs, &models.Clause{}},
		{"paragraphs", paragraphIDs, &models.Paragraph{}},
		{"articles", articleIDs, &models.Article{}},
		{"chapters", chapterIDs, &models.Chapter{}},
	}
	for _, step := range steps {
		if len(step.ids) == 0 {
			continue
		}
		if err := tx.Where("id IN ?", step.ids).Delete(step.model).Error; err != nil {
			return apperr.Persistence("delete "+step.what, err)
		}
	}

	res := tx.Where("regulation_id = ?", id).Delete(&models.Revision{})
	if res.Error != nil {
		return apperr.Persistence("delete revisions", res.Error)
	}

	if len(chapterIDs) == 0 && res.RowsAffected == 0 {
		s.logger.DebugContext(ctx, "no regulation body to delete", slog.Uint64("regulation_id", uint64(id)))
	}
	return nil
}

func (s *Synchronizer) insertRegulation(ctx context.Context, tx *gorm.DB, id uint, body doctree.RegulationBody) error {
	defer s.metrics.ObserveSync("regulation", "insert", time.Now())

	create := func(what string, v any) error {
		if err := tx.Omit(clause.Associations).Create(v).Error; err != nil {
			return apperr.Persistence("create "+what, err)
		}
		return nil
	}

	for _, cn := range body.Chapters {
		chapter := models.Chapter{RegulationID: id, Number: cn.Number, Title: cn.Title}
		if err := create("chapter", &chapter); err != nil {
			return err
		}
		for _, an := range cn.Articles {
			article := models.Article{ChapterID: chapter.ID, Title: an.Title, SortIndex: an.SortIndex}
			if err := create("article", &article); err != nil {
				return err
			}
			for _, pn := range an.Paragraphs {
				paragraph := models.Paragraph{ArticleID: article.ID, Number: pn.Number, Content: pn.Content}
				if err := create("paragraph", &paragraph); err != nil {
					return err
				}
				for _, cln := range pn.Clauses {
					cl := models.Clause{ParagraphID: paragraph.ID, Number: cln.Number, Content: cln.Content}
					if err := create("clause", &cl); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, rn := range body.Revisions {
		rev := models.Revision{RegulationID: id, ModifiedAt: datatypes.Date(rn.Date), Note: rn.Note}
		if err := create("revision", &rev); err != nil {
			return err
		}
	}

	s.logger.DebugContext(ctx, "regulation body inserted",
		slog.Uint64("regulation_id", uint64(id)),
		slog.Int("chapters", len(body.Chapters)),
		slog.Int("revisions", len(body.Revisions)))
	return nil
}
