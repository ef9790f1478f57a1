package doctree

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/blob"
)

// RevisionDateLayout is the wire format of revision dates.
const RevisionDateLayout = "2006-01-02"

type agendaWire []struct {
	Title   string `json:"title"`
	Details []struct {
		Content  string `json:"content"`
		FileDict []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"file_dict"`
		FileName     []string `json:"fileName"`
		DeletedFiles []string `json:"deleted_files"`
	} `json:"details"`
}

// ParseAgenda decodes the agenda JSON submitted with a meeting upload.
//
// Existing attachments arrive in file_dict as {name: original, url: safe name
// or blob URL}. New attachments are listed by original name in fileName and
// resolved through uploaded; names missing from uploaded (failed uploads) are
// dropped.
func ParseAgenda(raw []byte, uploaded map[string]FileRef) (Agenda, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Agenda{}, nil
	}
	var wire agendaWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Agenda{}, apperr.Validationf("content: %v", err)
	}

	agenda := Agenda{Schedules: make([]ScheduleNode, 0, len(wire))}
	for _, ws := range wire {
		schedule := ScheduleNode{Title: ws.Title, Details: make([]DetailNode, 0, len(ws.Details))}
		for _, wd := range ws.Details {
			detail := DetailNode{Content: wd.Content}
			for _, f := range wd.FileDict {
				safe := blob.NameFromRef(f.URL)
				if safe == "" {
					return Agenda{}, apperr.Validationf("content: file %q has no stored name", f.Name)
				}
				detail.Files = append(detail.Files, FileRef{Original: f.Name, Safe: safe})
			}
			for _, name := range wd.FileName {
				if ref, ok := uploaded[name]; ok {
					detail.Files = append(detail.Files, ref)
				}
			}
			for _, ref := range wd.DeletedFiles {
				if n := blob.NameFromRef(ref); n != "" {
					detail.DeletedFiles = append(detail.DeletedFiles, n)
				}
			}
			schedule.Details = append(schedule.Details, detail)
		}
		agenda.Schedules = append(agenda.Schedules, schedule)
	}
	return agenda, nil
}

type regulationWire []struct {
	Number   flexInt `json:"number"`
	Title    string  `json:"title"`
	Articles []struct {
		Title      string    `json:"title"`
		SortIndex  flexFloat `json:"sort_index"`
		Paragraphs []struct {
			Number  flexInt `json:"number"`
			Content string  `json:"content"`
			Clauses []struct {
				Number  flexInt `json:"number"`
				Content string  `json:"content"`
			} `json:"clauses"`
		} `json:"paragraphs"`
	} `json:"articles"`
}

type revisionWire []struct {
	Date string `json:"date"`
	Note string `json:"note"`
}

// ParseRegulation decodes the chapter tree and revision list submitted with
// a regulation upload.
func ParseRegulation(content, revisions []byte) (RegulationBody, error) {
	var body RegulationBody

	if len(bytes.TrimSpace(content)) > 0 {
		var wire regulationWire
		if err := json.Unmarshal(content, &wire); err != nil {
			return RegulationBody{}, apperr.Validationf("content: %v", err)
		}
		for _, wc := range wire {
			chapter := ChapterNode{Number: int(wc.Number), Title: wc.Title}
			for _, wa := range wc.Articles {
				article := ArticleNode{Title: wa.Title, SortIndex: float64(wa.SortIndex)}
				for _, wp := range wa.Paragraphs {
					paragraph := ParagraphNode{Number: int(wp.Number), Content: wp.Content}
					for _, wcl := range wp.Clauses {
						paragraph.Clauses = append(paragraph.Clauses, ClauseNode{Number: int(wcl.Number), Content: wcl.Content})
					}
					article.Paragraphs = append(article.Paragraphs, paragraph)
				}
				chapter.Articles = append(chapter.Articles, article)
			}
			body.Chapters = append(body.Chapters, chapter)
		}
	}

	if len(bytes.TrimSpace(revisions)) > 0 {
		var wire revisionWire
		if err := json.Unmarshal(revisions, &wire); err != nil {
			return RegulationBody{}, apperr.Validationf("revision: %v", err)
		}
		for _, wr := range wire {
			date, err := time.Parse(RevisionDateLayout, strings.TrimSpace(wr.Date))
			if err != nil {
				return RegulationBody{}, apperr.Validationf("revision date %q: want YYYY-MM-DD", wr.Date)
			}
			body.Revisions = append(body.Revisions, RevisionNode{Date: date, Note: wr.Note})
		}
	}
	return body, nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s, err := unquoteNumber(b)
	if err != nil || s == "" {
		*f = 0
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return apperr.Validationf("%s is not a number", b)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts an integral JSON number or a numeric string.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	if float64(f) != math.Trunc(float64(f)) {
		return apperr.Validationf("%s is not an integer", b)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return apperr.Validationf("%s is out of range", b)
	}
	*n = flexInt(f)
	return nil
}

func unquoteNumber(b []byte) (string, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return "", nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return "", err
		}
		return strings.TrimSpace(str), nil
	}
	return s, nil
}
