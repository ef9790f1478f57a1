package treesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/store"
	"github.com/starford/councilhub/internal/testutil"
)

type fixture struct {
	db    *store.DB
	blobs *testutil.MemBlobs
	sync  *Synchronizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs := testutil.NewMemBlobs()
	return &fixture{
		db:    testutil.TestDB(t),
		blobs: blobs,
		sync:  New(blobs, testutil.Logger(), nil),
	}
}

func (f *fixture) meeting(t *testing.T, kind models.MeetingKind) doctree.ParentRef {
	t.Helper()
	m := models.Meeting{
		Kind:       kind,
		Title:      "第一次會議",
		Session:    1,
		DateStart:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		DateEnd:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Attendance: datatypes.JSON(`{}`),
		Present:    datatypes.JSON(`{}`),
		IsVisible:  true,
		Version:    1,
	}
	require.NoError(t, f.db.Gorm().Create(&m).Error)
	return doctree.ParentRef{Kind: kind, ID: m.ID}
}

func (f *fixture) replace(t *testing.T, parent doctree.ParentRef, agenda doctree.Agenda) Report {
	t.Helper()
	var report Report
	err := f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
		var err error
		report, err = f.sync.ReplaceAgenda(context.Background(), tx, parent, agenda)
		return err
	})
	require.NoError(t, err)
	return report
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Gorm().Model(model).Count(&n).Error)
	return n
}

func sharedAgenda() doctree.Agenda {
	shared := doctree.FileRef{Original: "預算表.xlsx", Safe: "budget.xlsx"}
	return doctree.Agenda{Schedules: []doctree.ScheduleNode{
		{Title: "報告事項", Details: []doctree.DetailNode{
			{Content: "一", Files: []doctree.FileRef{shared, {Original: "a.pdf", Safe: "a.pdf"}}},
			{Content: "二", Files: []doctree.FileRef{shared}},
		}},
		{Title: "討論事項", Details: []doctree.DetailNode{
			{Content: "三"},
		}},
	}}
}

func TestReplaceAgendaIsIdempotent(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)

	f.replace(t, parent, sharedAgenda())
	var before []models.File
	require.NoError(t, f.db.Gorm().Order("id").Find(&before).Error)

	f.replace(t, parent, sharedAgenda())
	var after []models.File
	require.NoError(t, f.db.Gorm().Order("id").Find(&after).Error)

	assert.Equal(t, before, after, "resubmission must reuse file rows by safe name")
	assert.EqualValues(t, 2, f.count(t, &models.Schedule{}))
	assert.EqualValues(t, 3, f.count(t, &models.Detail{}))
	assert.EqualValues(t, 3, f.count(t, &models.DetailFile{}))
}

func TestSharedFileSurvivesPartialRemoval(t *testing.T) {
	f := newFixture(t)
	first := f.meeting(t, models.KindNotification)
	second := f.meeting(t, models.KindRecord)
	f.blobs.Seed("budget.xlsx", []byte("x"))

	ref := doctree.FileRef{Original: "預算表.xlsx", Safe: "budget.xlsx"}
	one := func(files ...doctree.FileRef) doctree.Agenda {
		return doctree.Agenda{Schedules: []doctree.ScheduleNode{{Title: "s", Details: []doctree.DetailNode{{Content: "d", Files: files}}}}}
	}
	f.replace(t, first, one(ref))
	f.replace(t, second, one(ref))

	// First meeting drops the file and marks it deleted; the second still uses it.
	dropped := one()
	dropped.Schedules[0].Details[0].DeletedFiles = []string{"budget.xlsx"}
	report := f.replace(t, first, dropped)

	assert.Empty(t, report.Collected)
	assert.EqualValues(t, 1, f.count(t, &models.File{}))
	ok, _ := f.blobs.Exists(context.Background(), "budget.xlsx")
	assert.True(t, ok)

	// The last reference removes it.
	report = f.replace(t, second, dropped)
	assert.Equal(t, []string{"budget.xlsx"}, report.Collected)
	assert.EqualValues(t, 0, f.count(t, &models.File{}))
	ok, _ = f.blobs.Exists(context.Background(), "budget.xlsx")
	assert.False(t, ok)
}

func TestUnmarkedFileIsKept(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindRecord)
	f.replace(t, parent, sharedAgenda())

	report := f.replace(t, parent, doctree.Agenda{})
	assert.Empty(t, report.Collected)
	assert.EqualValues(t, 2, f.count(t, &models.File{}), "files not marked deleted stay")
	assert.EqualValues(t, 0, f.count(t, &models.Schedule{}))
}

func TestMarkedButStillAttachedIsKept(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindRecord)
	f.replace(t, parent, sharedAgenda())

	again := sharedAgenda()
	again.Schedules[1].Details[0].DeletedFiles = []string{"a.pdf"}
	report := f.replace(t, parent, again)

	assert.Empty(t, report.Collected)
	assert.EqualValues(t, 2, f.count(t, &models.File{}))
}

func TestDeleteAgendaCollectsFileSharedWithinSubtree(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)
	f.replace(t, parent, sharedAgenda())
	f.blobs.Seed("budget.xlsx", []byte("x"))

	var report Report
	err := f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
		var err error
		report, err = f.sync.DeleteAgenda(context.Background(), tx, parent, doctree.NewFileSet("budget.xlsx"), nil)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"budget.xlsx"}, report.Collected)
	assert.Equal(t, []string{"budget.xlsx"}, f.blobs.Deleted())
	assert.EqualValues(t, 1, f.count(t, &models.File{}), "a.pdf was not marked")
	assert.EqualValues(t, 0, f.count(t, &models.DetailFile{}))
	assert.EqualValues(t, 0, f.count(t, &models.Detail{}))
}

func TestBlobDeleteFailureStillDropsRow(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)
	f.replace(t, parent, sharedAgenda())
	f.blobs.FailDelete("a.pdf")

	dropped := doctree.Agenda{Schedules: []doctree.ScheduleNode{{Title: "s", Details: []doctree.DetailNode{{DeletedFiles: []string{"a.pdf"}}}}}}
	report := f.replace(t, parent, dropped)

	assert.Equal(t, []string{"a.pdf"}, report.Collected)
	assert.Equal(t, []string{"a.pdf"}, report.BlobFailures)
	var n int64
	require.NoError(t, f.db.Gorm().Model(&models.File{}).Where("safe_name = ?", "a.pdf").Count(&n).Error)
	assert.Zero(t, n)
}

func TestFailureRollsBackWholeReplacement(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)
	f.replace(t, parent, sharedAgenda())

	err := f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
		if _, err := f.sync.ReplaceAgenda(context.Background(), tx, parent, doctree.Agenda{}); err != nil {
			return err
		}
		return apperr.ErrConflict
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	assert.EqualValues(t, 2, f.count(t, &models.Schedule{}), "delete must be rolled back")
	assert.EqualValues(t, 3, f.count(t, &models.Detail{}))
}

func TestReplaceAgendaChecksParentKind(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)

	err := f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
		_, err := f.sync.ReplaceAgenda(context.Background(), tx, doctree.Record(parent.ID), sharedAgenda())
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDuplicateRefInOneDetailLinksOnce(t *testing.T) {
	f := newFixture(t)
	parent := f.meeting(t, models.KindNotification)
	ref := doctree.FileRef{Original: "a.pdf", Safe: "a.pdf"}
	f.replace(t, parent, doctree.Agenda{Schedules: []doctree.ScheduleNode{{Title: "s", Details: []doctree.DetailNode{{Files: []doctree.FileRef{ref, ref}}}}}})

	assert.EqualValues(t, 1, f.count(t, &models.DetailFile{}))
}

func TestCollectable(t *testing.T) {
	sub := subtree{
		files: map[uint]models.File{
			1: {ID: 1, SafeName: "only-here.pdf"},
			2: {ID: 2, SafeName: "shared-outside.pdf"},
			3: {ID: 3, SafeName: "twice-here.pdf"},
			4: {ID: 4, SafeName: "unmarked.pdf"},
		},
		within: map[uint]int64{1: 1, 2: 1, 3: 2, 4: 1},
	}
	total := map[uint]int64{1: 1, 2: 2, 3: 2, 4: 1}
	deleted := doctree.NewFileSet("only-here.pdf", "shared-outside.pdf", "twice-here.pdf")

	var names []string
	for _, f := range collectable(sub, total, deleted, nil) {
		names = append(names, f.SafeName)
	}
	assert.Equal(t, []string{"only-here.pdf", "twice-here.pdf"}, names)

	names = names[:0]
	for _, f := range collectable(sub, total, deleted, doctree.NewFileSet("twice-here.pdf")) {
		names = append(names, f.SafeName)
	}
	assert.Equal(t, []string{"only-here.pdf"}, names)
}

func TestReplaceRegulation(t *testing.T) {
	f := newFixture(t)
	reg := models.Regulation{Title: "組織章程", Category: models.Categories[0], IsVisible: true, Version: 1}
	require.NoError(t, f.db.Gorm().Create(&reg).Error)

	body := doctree.RegulationBody{
		Chapters: []doctree.ChapterNode{{Number: 1, Title: "總綱", Articles: []doctree.ArticleNode{
			{Title: "第一條", SortIndex: 1, Paragraphs: []doctree.ParagraphNode{
				{Number: 1, Content: "p", Clauses: []doctree.ClauseNode{{Number: 1, Content: "c1"}, {Number: 2, Content: "c2"}}},
			}},
		}}},
		Revisions: []doctree.RevisionNode{{Date: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), Note: "修正"}},
	}
	replace := func(b doctree.RegulationBody) {
		require.NoError(t, f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
			return f.sync.ReplaceRegulation(context.Background(), tx, reg.ID, b)
		}))
	}

	replace(body)
	replace(body)
	assert.EqualValues(t, 1, f.count(t, &models.Chapter{}))
	assert.EqualValues(t, 1, f.count(t, &models.Article{}))
	assert.EqualValues(t, 1, f.count(t, &models.Paragraph{}))
	assert.EqualValues(t, 2, f.count(t, &models.Clause{}))
	assert.EqualValues(t, 1, f.count(t, &models.Revision{}))

	replace(doctree.RegulationBody{})
	assert.EqualValues(t, 0, f.count(t, &models.Clause{}))
	assert.EqualValues(t, 0, f.count(t, &models.Revision{}))

	err := f.db.Transaction(context.Background(), func(tx *gorm.DB) error {
		return f.sync.DeleteRegulation(context.Background(), tx, reg.ID+100)
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
