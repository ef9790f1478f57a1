package treesync

import (
	"sort"

	"gorm.io/gorm"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/models"
)

// subtree is the in-memory view of an agenda about to be deleted.
type subtree struct {
	scheduleIDs []uint
	detailIDs   []uint
	files       map[uint]models.File
	// within counts links to each file from details inside the subtree.
	within map[uint]int64
}

func loadSubtree(schedules []models.Schedule) subtree {
	sub := subtree{files: map[uint]models.File{}, within: map[uint]int64{}}
	for _, s := range schedules {
		sub.scheduleIDs = append(sub.scheduleIDs, s.ID)
		for _, d := range s.Details {
			sub.detailIDs = append(sub.detailIDs, d.ID)
			for _, l := range d.Links {
				sub.files[l.FileID] = l.File
				sub.within[l.FileID]++
			}
		}
	}
	return sub
}

func (s subtree) fileIDs() []uint {
	ids := make([]uint, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// referenceCounts returns, per file id, the number of details across the
// whole database that link to it.
func referenceCounts(tx *gorm.DB, fileIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(fileIDs))
	if len(fileIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		FileID uint
		Refs   int64
	}
	err := tx.Model(&models.DetailFile{}).
		Select("file_id, COUNT(*) AS refs").
		Where("file_id IN ?", fileIDs).
		Group("file_id").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Persistence("count file references", err)
	}
	for _, r := range rows {
		counts[r.FileID] = r.Refs
	}
	return counts, nil
}

// collectable picks the files that may be removed with the subtree: no
// reference survives outside it, the client marked it deleted, and the
// replacement tree does not attach it again. For a file with a single
// reference this is exactly "reference count == 1 and marked".
func collectable(sub subtree, total map[uint]int64, deleted, retained doctree.FileSet) []models.File {
	var out []models.File
	for _, id := range sub.fileIDs() {
		f := sub.files[id]
		if total[id]-sub.within[id] > 0 {
			continue
		}
		if !deleted.Has(f.SafeName) || retained.Has(f.SafeName) {
			continue
		}
		out = append(out, f)
	}
	return out
}
