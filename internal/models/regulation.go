package models

import (
	"time"

	"gorm.io/datatypes"
)

// Fixed regulation categories in display precedence.
var Categories = []string{
	"憲制性法規篇",
	"綜合法規篇",
	"行政部門篇",
	"立法部門篇",
	"司法部門篇",
	"附錄篇",
}

// CategoryOther is stored for regulations outside the fixed table.
const CategoryOther = "other"

// Regulation is a bylaw document with a four-level body.
type Regulation struct {
	ID          uint       `gorm:"primaryKey"`
	Title       string     `gorm:"size:255;not null"`
	Category    string     `gorm:"size:255;index"`
	Description string     `gorm:"type:text"`
	IsVisible   bool       `gorm:"not null"`
	Version     int        `gorm:"not null"`
	UserID      uint       `gorm:"index"`
	Chapters    []Chapter  `gorm:"foreignKey:RegulationID;constraint:OnDelete:CASCADE"`
	Revisions   []Revision `gorm:"foreignKey:RegulationID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Chapter struct {
	ID           uint      `gorm:"primaryKey"`
	RegulationID uint      `gorm:"not null;index"`
	Number       int       `gorm:"not null"`
	Title        string    `gorm:"size:255;not null"`
	Articles     []Article `gorm:"foreignKey:ChapterID;constraint:OnDelete:CASCADE"`
}

// Article is ordered within its chapter by SortIndex, not by id.
type Article struct {
	ID         uint        `gorm:"primaryKey"`
	ChapterID  uint        `gorm:"not null;index"`
	Title      string      `gorm:"size:255;not null"`
	SortIndex  float64     `gorm:"not null"`
	Paragraphs []Paragraph `gorm:"foreignKey:ArticleID;constraint:OnDelete:CASCADE"`
}

type Paragraph struct {
	ID        uint     `gorm:"primaryKey"`
	ArticleID uint     `gorm:"not null;index"`
	Number    int      `gorm:"not null"`
	Content   string   `gorm:"type:text;not null"`
	Clauses   []Clause `gorm:"foreignKey:ParagraphID;constraint:OnDelete:CASCADE"`
}

type Clause struct {
	ID          uint   `gorm:"primaryKey"`
	ParagraphID uint   `gorm:"not null;index"`
	Number      int    `gorm:"not null"`
	Content     string `gorm:"type:text;not null"`
}

// Revision records one amendment date of a regulation.
type Revision struct {
	ID           uint           `gorm:"primaryKey"`
	RegulationID uint           `gorm:"not null;index"`
	ModifiedAt   datatypes.Date `gorm:"not null"`
	Note         string         `gorm:"type:text"`
}
