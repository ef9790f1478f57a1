// Package models defines the persisted entities of councilhub.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// MeetingKind discriminates notifications from records in the meetings table.
type MeetingKind string

const (
	KindNotification MeetingKind = "notification"
	KindRecord       MeetingKind = "record"
)

// Valid reports whether k is a known kind.
func (k MeetingKind) Valid() bool {
	return k == KindNotification || k == KindRecord
}

// Upload types for the video field.
const (
	UploadTypeFile = "file"
	UploadTypeLink = "link"
)

// Meeting is a meeting notification or a meeting record.
type Meeting struct {
	ID                uint           `gorm:"primaryKey"`
	Kind              MeetingKind    `gorm:"size:16;not null;index:idx_meetings_listing,priority:1"`
	Title             string         `gorm:"size:100;not null"`
	Session           int            `gorm:"not null;index:idx_meetings_listing,priority:2"`
	DateStart         time.Time      `gorm:"column:datestart;not null"`
	DateEnd           time.Time      `gorm:"column:dateend;not null"`
	Place             string         `gorm:"size:100"`
	Person            string         `gorm:"size:100"`
	Shorthand         string         `gorm:"size:255"`
	Chairman          string         `gorm:"size:100"`
	Recorder          string         `gorm:"size:100"`
	UploadType        string         `gorm:"size:16"`
	MeetingTranscript string         `gorm:"size:300"`
	Video             string         `gorm:"size:300"`
	Attendance        datatypes.JSON `gorm:"not null"`
	Present           datatypes.JSON `gorm:"not null"`
	IsVisible         bool           `gorm:"not null"`
	Version           int            `gorm:"not null"`
	UserID            uint           `gorm:"index"`
	Schedules         []Schedule     `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Schedule is one agenda item of a meeting.
type Schedule struct {
	ID        uint     `gorm:"primaryKey"`
	MeetingID uint     `gorm:"not null;index"`
	Title     string   `gorm:"size:100;not null"`
	Details   []Detail `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE"`
}

// Detail is a free-text entry under a schedule with shared file attachments.
type Detail struct {
	ID         uint         `gorm:"primaryKey"`
	ScheduleID uint         `gorm:"not null;index"`
	Content    string       `gorm:"type:text"`
	Links      []DetailFile `gorm:"foreignKey:DetailID;constraint:OnDelete:CASCADE"`
}

// DetailFile links a detail to a shared file. Position keeps submission order.
type DetailFile struct {
	DetailID uint `gorm:"primaryKey;autoIncrement:false"`
	FileID   uint `gorm:"primaryKey;autoIncrement:false;index"`
	Position int  `gorm:"not null"`
	File     File `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
}

// TableName pins the join table name.
func (DetailFile) TableName() string {
	return "detail_files"
}

// File is an uploaded blob, shared across details by its safe name.
type File struct {
	ID           uint   `gorm:"primaryKey"`
	OriginalName string `gorm:"size:255;not null"`
	SafeName     string `gorm:"size:255;not null;uniqueIndex"`
}
