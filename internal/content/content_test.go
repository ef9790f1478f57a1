package content_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/content"
	"github.com/starford/councilhub/internal/doctree"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/sse"
	"github.com/starford/councilhub/internal/store"
	"github.com/starford/councilhub/internal/testutil"
	"github.com/starford/councilhub/internal/treeview"
)

var admin = auth.Caller{ID: 1, Username: "admin", Authenticated: true}

type env struct {
	db     *store.DB
	blobs  *testutil.MemBlobs
	svc    *content.Service
	view   *treeview.Serializer
	events *sse.Broker
}

func newEnv(t *testing.T, strict bool) *env {
	t.Helper()
	db := testutil.TestDB(t)
	blobs := testutil.NewMemBlobs()
	events := sse.NewBroker(time.Hour, testutil.Logger())
	t.Cleanup(events.Close)
	return &env{
		db:     db,
		blobs:  blobs,
		events: events,
		view:   treeview.New(db.Gorm(), blobs),
		svc: content.New(content.Options{
			DB:            db,
			Blobs:         blobs,
			Events:        events,
			Logger:        testutil.Logger(),
			StrictUploads: strict,
			Clock:         func() time.Time { return time.Unix(1700000000, 0) },
		}),
	}
}

func upload(name, body string) content.Upload {
	return content.Upload{
		Filename: name,
		Size:     int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func meetingValues(id string, agenda any) url.Values {
	v := url.Values{
		"id":         {id},
		"title":      {"第一次常會"},
		"session":    {"第十二屆"},
		"datestart":  {"2024-03-01T09:00"},
		"dateend":    {"2024-03-01T12:00"},
		"place":      {"會議室"},
		"uploadType": {"file"},
		"present":    {`{"a":1}`},
		"attendance": {`{"b":2}`},
		"is_visible": {"true"},
	}
	if agenda != nil {
		raw, _ := json.Marshal(agenda)
		v.Set("content", string(raw))
	}
	return v
}

type wireFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type wireDetail struct {
	Content      string     `json:"content"`
	FileDict     []wireFile `json:"file_dict,omitempty"`
	FileName     []string   `json:"fileName,omitempty"`
	DeletedFiles []string   `json:"deleted_files,omitempty"`
}

type wireSchedule struct {
	Title   string       `json:"title"`
	Details []wireDetail `json:"details"`
}

func (e *env) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Gorm().Model(model).Count(&n).Error)
	return n
}

func TestSaveMeetingCreatesTree(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sub := e.events.Subscribe()

	agenda := []wireSchedule{{Title: "報告事項", Details: []wireDetail{
		{Content: "預算", FileName: []string{"預算 表.xlsx"}},
	}}}
	res, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:       models.KindRecord,
		Values:     meetingValues("-1", agenda),
		Files:      []content.Upload{upload("預算 表.xlsx", "xlsx")},
		Transcript: &content.Upload{Filename: "逐字稿.pdf", Open: upload("逐字稿.pdf", "pdf").Open},
		Caller:     admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Empty(t, res.FailedUploads)
	assert.True(t, res.Editable)
	require.Len(t, res.Items, 1)
	assert.Equal(t, []string{"第十二屆"}, res.SessionLabels)

	tree, err := e.view.Meeting(ctx, doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, 12, tree.Session)
	assert.JSONEq(t, `{"a":1}`, string(tree.Present))
	require.Len(t, tree.Schedules, 1)
	require.Len(t, tree.Schedules[0].Details, 1)
	assert.Equal(t, []string{"預算 表.xlsx"}, tree.Schedules[0].Details[0].FileName)
	assert.Equal(t, "https://test-bucket.s3.example.com/預算_表.xlsx", tree.Schedules[0].Details[0].FileURLs[0])
	assert.Equal(t, "https://test-bucket.s3.example.com/逐字稿.pdf", tree.MeetingTranscript)
	assert.Equal(t, []string{"逐字稿.pdf", "預算_表.xlsx"}, e.blobs.Names())

	select {
	case msg := <-sub:
		assert.Contains(t, string(msg), "event: minutes.created")
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
}

func TestSaveMeetingEditKeepsUnsubmittedParts(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	agenda := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x"}}}}
	created, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:       models.KindNotification,
		Values:     meetingValues("-1", agenda),
		Transcript: ptr(upload("t.pdf", "t")),
		Caller:     admin,
	})
	require.NoError(t, err)

	id := strconv.Itoa(int(created.ID))
	edited, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindNotification,
		Values: url.Values{"id": {id}, "title": {"改名"}},
		Caller: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)

	tree, err := e.view.Meeting(ctx, doctree.Notification(created.ID))
	require.NoError(t, err)
	assert.Equal(t, "改名", tree.Title)
	assert.Equal(t, "會議室", tree.Place)
	assert.Len(t, tree.Schedules, 1, "agenda untouched without content")
	assert.Contains(t, tree.MeetingTranscript, "t.pdf")
	assert.Equal(t, []string{"t.pdf"}, e.blobs.Names())
}

func ptr[T any](v T) *T { return &v }

func TestSaveMeetingVersionConflict(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	created, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind: models.KindRecord, Values: meetingValues("-1", nil), Caller: admin,
	})
	require.NoError(t, err)
	id := strconv.Itoa(int(created.ID))

	_, err = e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind: models.KindRecord, Values: url.Values{"id": {id}, "version": {"1"}}, Caller: admin,
	})
	require.NoError(t, err)

	_, err = e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind: models.KindRecord, Values: url.Values{"id": {id}}, IfMatch: 1, Caller: admin,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	res, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind: models.KindRecord, Values: url.Values{"id": {id}}, Caller: admin,
	})
	require.NoError(t, err, "unchecked edits are last-write-wins")
	assert.Equal(t, 3, res.Version)
}

func TestSaveMeetingValidation(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	cases := map[string]url.Values{
		"missing id":      {"title": {"x"}},
		"missing title":   {"id": {"-1"}, "session": {"1"}, "datestart": {"2024-01-01"}, "dateend": {"2024-01-01"}},
		"bad session":     {"id": {"-1"}, "title": {"x"}, "session": {"abc"}, "datestart": {"2024-01-01"}, "dateend": {"2024-01-01"}},
		"bad upload type": {"id": {"-1"}, "title": {"x"}, "session": {"1"}, "datestart": {"2024-01-01"}, "dateend": {"2024-01-01"}, "uploadType": {"tape"}},
		"bad content":     {"id": {"-1"}, "title": {"x"}, "session": {"1"}, "datestart": {"2024-01-01"}, "dateend": {"2024-01-01"}, "content": {"[{"}},
	}
	for name, values := range cases {
		_, err := e.svc.SaveMeeting(ctx, content.MeetingInput{Kind: models.KindRecord, Values: values, Caller: admin})
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
	assert.Zero(t, e.count(t, &models.Meeting{}))

	_, err := e.svc.SaveMeeting(ctx, content.MeetingInput{Kind: models.KindRecord, Values: url.Values{"id": {"99"}}, Caller: admin})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSaveMeetingPartialUploadFailure(t *testing.T) {
	e := newEnv(t, false)
	e.blobs.FailPut("b.pdf")

	agenda := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x", FileName: []string{"a.pdf", "b.pdf"}}}}}
	res, err := e.svc.SaveMeeting(context.Background(), content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", agenda),
		Files:  []content.Upload{upload("a.pdf", "a"), upload("b.pdf", "b")},
		Caller: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.pdf"}, res.FailedUploads)

	tree, err := e.view.Meeting(context.Background(), doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, tree.Schedules[0].Details[0].FileName)
}

func TestSaveMeetingStrictUploads(t *testing.T) {
	e := newEnv(t, true)
	e.blobs.FailPut("b.pdf")

	agenda := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x", FileName: []string{"a.pdf", "b.pdf"}}}}}
	_, err := e.svc.SaveMeeting(context.Background(), content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", agenda),
		Files:  []content.Upload{upload("a.pdf", "a"), upload("b.pdf", "b")},
		Caller: admin,
	})
	require.ErrorIs(t, err, apperr.ErrStorage)
	assert.Zero(t, e.count(t, &models.Meeting{}))
	assert.Empty(t, e.blobs.Names(), "stored parts are discarded")
}

func TestSaveMeetingDiscardsUnusedUploads(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	// bad file_dict entry fails after the uploads went through
	bad := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x", FileDict: []wireFile{{Name: "old"}}}}}}
	_, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", bad),
		Files:  []content.Upload{upload("a.pdf", "a")},
		Caller: admin,
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, e.blobs.Names())

	// uploaded but never referenced by the agenda
	_, err = e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", []wireSchedule{}),
		Files:  []content.Upload{upload("stray.pdf", "s")},
		Caller: admin,
	})
	require.NoError(t, err)
	assert.Empty(t, e.blobs.Names())
}

func TestSaveMeetingCollisionGetsTimestamp(t *testing.T) {
	e := newEnv(t, false)
	e.blobs.Seed("report.pdf", []byte("orphan"))

	agenda := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x", FileName: []string{"report.pdf"}}}}}
	res, err := e.svc.SaveMeeting(context.Background(), content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", agenda),
		Files:  []content.Upload{upload("report.pdf", "new")},
		Caller: admin,
	})
	require.NoError(t, err)

	tree, err := e.view.Meeting(context.Background(), doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "https://test-bucket.s3.example.com/report_1700000000.pdf", tree.Schedules[0].Details[0].FileURLs[0])
	orphan, err := e.blobs.Get("report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "orphan", string(orphan))
}

func TestSaveMeetingSameNameInOneSecond(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	want := []string{"report.pdf", "report_1700000000.pdf", "report_1700000000_2.pdf"}
	ids := make([]uint, 0, len(want))
	for i, body := range []string{"v1", "v2", "v3"} {
		agenda := []wireSchedule{{Title: "一", Details: []wireDetail{{Content: body, FileName: []string{"report.pdf"}}}}}
		res, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
			Kind:   models.KindRecord,
			Values: meetingValues("-1", agenda),
			Files:  []content.Upload{upload("report.pdf", body)},
			Caller: admin,
		})
		require.NoError(t, err, "upload %d", i)
		ids = append(ids, res.ID)
	}

	for i, id := range ids {
		tree, err := e.view.Meeting(ctx, doctree.Record(id))
		require.NoError(t, err)
		assert.Equal(t, "https://test-bucket.s3.example.com/"+want[i], tree.Schedules[0].Details[0].FileURLs[0])
		stored, err := e.blobs.Get(want[i])
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("v%d", i+1), string(stored))
	}
	assert.EqualValues(t, 3, e.count(t, &models.File{}))
}

func TestSaveMeetingDuplicatePartsAvoidStoredNames(t *testing.T) {
	e := newEnv(t, false)
	e.blobs.Seed("minutes.pdf", []byte("old"))
	e.blobs.Seed("minutes_1700000000.pdf", []byte("older"))

	res, err := e.svc.SaveMeeting(context.Background(), content.MeetingInput{
		Kind:       models.KindRecord,
		Values:     meetingValues("-1", nil),
		Transcript: ptr(upload("minutes.pdf", "new")),
		Caller:     admin,
	})
	require.NoError(t, err)

	tree, err := e.view.Meeting(context.Background(), doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "https://test-bucket.s3.example.com/minutes_1700000000_2.pdf", tree.MeetingTranscript)
	for name, body := range map[string]string{"minutes.pdf": "old", "minutes_1700000000.pdf": "older", "minutes_1700000000_2.pdf": "new"} {
		got, err := e.blobs.Get(name)
		require.NoError(t, err)
		assert.Equal(t, body, string(got), name)
	}
}

func TestSaveMeetingSwitchToLinkDropsStoredVideo(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	res, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", nil),
		Video:  ptr(upload("clip.mp4", "v")),
		Caller: admin,
	})
	require.NoError(t, err)
	tree, err := e.view.Meeting(ctx, doctree.Record(res.ID))
	require.NoError(t, err)
	require.Equal(t, "https://test-bucket.s3.example.com/clip.mp4", tree.Video)

	_, err = e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindRecord,
		Values: url.Values{"id": {fmt.Sprint(res.ID)}, "uploadType": {"link"}},
		Caller: admin,
	})
	require.NoError(t, err)

	tree, err = e.view.Meeting(ctx, doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "link", tree.UploadType)
	assert.Empty(t, tree.Video)
	assert.NotContains(t, e.blobs.Names(), "clip.mp4")
}

func TestSaveMeetingVideoLink(t *testing.T) {
	e := newEnv(t, false)
	values := meetingValues("-1", nil)
	values.Set("uploadType", "link")
	values.Set("videoLink", "https://video.example.com/v/1")

	res, err := e.svc.SaveMeeting(context.Background(), content.MeetingInput{
		Kind:   models.KindRecord,
		Values: values,
		Video:  ptr(upload("ignored.mp4", "v")),
		Caller: admin,
	})
	require.NoError(t, err)

	tree, err := e.view.Meeting(context.Background(), doctree.Record(res.ID))
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/v/1", tree.Video)
	assert.Empty(t, e.blobs.Names())
}

// A meeting with two schedules and three details, one file shared by two of
// the details.
func TestDeleteMeetingSharedFile(t *testing.T) {
	for _, tc := range []struct {
		name      string
		deleted   string
		collected bool
	}{
		{"listed", `["shared.pdf"]`, true},
		{"listed as url", `["https://test-bucket.s3.example.com/shared.pdf"]`, true},
		{"not listed", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, false)
			ctx := context.Background()

			agenda := []wireSchedule{
				{Title: "一", Details: []wireDetail{
					{Content: "d1", FileName: []string{"shared.pdf"}},
					{Content: "d2", FileDict: []wireFile{{Name: "shared.pdf", URL: "shared.pdf"}}},
				}},
				{Title: "二", Details: []wireDetail{{Content: "d3"}}},
			}
			res, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
				Kind:   models.KindNotification,
				Values: meetingValues("-1", agenda),
				Files:  []content.Upload{upload("shared.pdf", "s")},
				Caller: admin,
			})
			require.NoError(t, err)
			require.EqualValues(t, 1, e.count(t, &models.File{}))
			require.EqualValues(t, 2, e.count(t, &models.DetailFile{}))

			values := url.Values{"id": {strconv.Itoa(int(res.ID))}}
			if tc.deleted != "" {
				values.Set("deleted_files", tc.deleted)
			}
			lst, err := e.svc.DeleteMeeting(ctx, models.KindNotification, values)
			require.NoError(t, err)
			assert.Empty(t, lst.Items)

			assert.Zero(t, e.count(t, &models.Meeting{}))
			assert.Zero(t, e.count(t, &models.Schedule{}))
			assert.Zero(t, e.count(t, &models.Detail{}))
			assert.Zero(t, e.count(t, &models.DetailFile{}))
			if tc.collected {
				assert.Zero(t, e.count(t, &models.File{}))
				assert.Empty(t, e.blobs.Names())
			} else {
				assert.EqualValues(t, 1, e.count(t, &models.File{}))
				assert.Equal(t, []string{"shared.pdf"}, e.blobs.Names())
			}
		})
	}
}

func TestDeleteMeetingKeepsFileUsedElsewhere(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	first, err := e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindRecord,
		Values: meetingValues("-1", []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "x", FileName: []string{"s.pdf"}}}}}),
		Files:  []content.Upload{upload("s.pdf", "s")},
		Caller: admin,
	})
	require.NoError(t, err)
	_, err = e.svc.SaveMeeting(ctx, content.MeetingInput{
		Kind:   models.KindNotification,
		Values: meetingValues("-1", []wireSchedule{{Title: "一", Details: []wireDetail{{Content: "y", FileDict: []wireFile{{Name: "s.pdf", URL: "s.pdf"}}}}}}),
		Caller: admin,
	})
	require.NoError(t, err)

	_, err = e.svc.DeleteMeeting(ctx, models.KindRecord, url.Values{
		"id":            {strconv.Itoa(int(first.ID))},
		"deleted_files": {`["s.pdf"]`},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, e.count(t, &models.File{}))
	assert.Equal(t, []string{"s.pdf"}, e.blobs.Names())
}

func TestDeleteMeetingErrors(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	_, err := e.svc.DeleteMeeting(ctx, models.KindRecord, url.Values{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.DeleteMeeting(ctx, models.KindRecord, url.Values{"id": {"42"}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	created, err := e.svc.SaveMeeting(ctx, content.MeetingInput{Kind: models.KindRecord, Values: meetingValues("-1", nil), Caller: admin})
	require.NoError(t, err)
	_, err = e.svc.DeleteMeeting(ctx, models.KindNotification, url.Values{"id": {strconv.Itoa(int(created.ID))}})
	assert.ErrorIs(t, err, apperr.ErrNotFound, "kind must match")
}

func regulationValues(id string) url.Values {
	return url.Values{
		"id":          {id},
		"title":       {"組織章程"},
		"category":    {"憲制性法規篇"},
		"description": {"本會根本大法"},
		"is_visible":  {"false"},
		"content": {`[{"number":1,"title":"總則","articles":[
			{"title":"第二條","sort_index":"2","paragraphs":[]},
			{"title":"第一條","sort_index":1,"paragraphs":[{"number":1,"content":"名稱","clauses":[{"number":1,"content":"甲"}]}]}
		]}]`},
		"revision": {`[{"date":"2023-05-01","note":"制定"}]`},
	}
}

func TestSaveAndDeleteRegulation(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	res, err := e.svc.SaveRegulation(ctx, content.RegulationInput{Values: regulationValues("-1"), Caller: admin})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	require.Len(t, res.Regulations, 1)
	assert.False(t, res.Regulations[0].IsVisible)

	tree, err := e.view.Regulation(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, tree.Chapters, 1)
	require.Len(t, tree.Chapters[0].Articles, 2)
	assert.Equal(t, "第一條", tree.Chapters[0].Articles[0].Title)
	require.Len(t, tree.Revisions, 1)
	assert.Equal(t, "2023-05-01", tree.Revisions[0].ModifiedAt)

	id := strconv.Itoa(int(res.ID))
	edited, err := e.svc.SaveRegulation(ctx, content.RegulationInput{
		Values: url.Values{"id": {id}, "version": {"1"}, "category": {""}},
		Caller: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, edited.Version)
	assert.Equal(t, models.CategoryOther, edited.Regulations[0].Category)

	tree, err = e.view.Regulation(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, tree.Chapters, 1, "body untouched without content or revision")

	_, err = e.svc.SaveRegulation(ctx, content.RegulationInput{Values: url.Values{"id": {id}, "version": {"1"}}, Caller: admin})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	lst, err := e.svc.DeleteRegulation(ctx, url.Values{"id": {id}})
	require.NoError(t, err)
	assert.Empty(t, lst.Regulations)
	for _, m := range []any{&models.Regulation{}, &models.Chapter{}, &models.Article{}, &models.Paragraph{}, &models.Clause{}, &models.Revision{}} {
		assert.Zero(t, e.count(t, m), "%T", m)
	}

	_, err = e.svc.DeleteRegulation(ctx, url.Values{"id": {id}})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestKindOf(t *testing.T) {
	k, ok := content.KindOf("minutes")
	assert.True(t, ok)
	assert.Equal(t, models.KindRecord, k)
	assert.Equal(t, "notifi", content.Section(models.KindNotification))
	_, ok = content.KindOf("regulations")
	assert.False(t, ok)
}
