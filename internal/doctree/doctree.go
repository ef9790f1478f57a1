// Package doctree holds the in-memory form of the nested documents that are
// submitted by clients and written by the tree synchronizer: meeting agendas
// (schedule → detail → file refs) and regulation bodies (chapter → article →
// paragraph → clause, plus revisions).
package doctree

import (
	"fmt"
	"time"

	"github.com/starford/councilhub/internal/models"
)

// ParentRef addresses the meeting that owns an agenda. Construct it with
// Notification or Record.
type ParentRef struct {
	Kind models.MeetingKind
	ID   uint
}

// Notification refers to a meeting notification.
func Notification(id uint) ParentRef {
	return ParentRef{Kind: models.KindNotification, ID: id}
}

// Record refers to a meeting record.
func Record(id uint) ParentRef {
	return ParentRef{Kind: models.KindRecord, ID: id}
}

func (p ParentRef) String() string {
	return fmt.Sprintf("%s/%d", p.Kind, p.ID)
}

// FileRef is an attachment carried by a detail.
type FileRef struct {
	Original string
	Safe     string
}

type DetailNode struct {
	Content string
	Files   []FileRef
	// DeletedFiles are safe names the client asked to remove.
	DeletedFiles []string
}

type ScheduleNode struct {
	Title   string
	Details []DetailNode
}

// Agenda is the ordered schedule list of one meeting.
type Agenda struct {
	Schedules []ScheduleNode
}

// DeletedFiles collects every deletion marker in the agenda.
func (a Agenda) DeletedFiles() FileSet {
	set := FileSet{}
	for _, s := range a.Schedules {
		for _, d := range s.Details {
			set.Add(d.DeletedFiles...)
		}
	}
	return set
}

// ReferencedFiles collects the safe names the agenda still attaches.
func (a Agenda) ReferencedFiles() FileSet {
	set := FileSet{}
	for _, s := range a.Schedules {
		for _, d := range s.Details {
			for _, f := range d.Files {
				set.Add(f.Safe)
			}
		}
	}
	return set
}

// Counts returns the number of schedules, details and file refs.
func (a Agenda) Counts() (schedules, details, files int) {
	for _, s := range a.Schedules {
		schedules++
		for _, d := range s.Details {
			details++
			files += len(d.Files)
		}
	}
	return
}

type ClauseNode struct {
	Number  int
	Content string
}

type ParagraphNode struct {
	Number  int
	Content string
	Clauses []ClauseNode
}

// ArticleNode is ordered on read by SortIndex, which may fall between
// existing siblings (2.5 between 2 and 3).
type ArticleNode struct {
	Title      string
	SortIndex  float64
	Paragraphs []ParagraphNode
}

type ChapterNode struct {
	Number   int
	Title    string
	Articles []ArticleNode
}

type RevisionNode struct {
	Date time.Time
	Note string
}

// RegulationBody is everything below a regulation row.
type RegulationBody struct {
	Chapters  []ChapterNode
	Revisions []RevisionNode
}

// FileSet is a set of safe file names.
type FileSet map[string]struct{}

// NewFileSet builds a set from names, skipping empty ones.
func NewFileSet(names ...string) FileSet {
	s := FileSet{}
	s.Add(names...)
	return s
}

func (s FileSet) Add(names ...string) {
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
}

func (s FileSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}
