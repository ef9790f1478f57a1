package models

import "time"

// User is an administrator account. Password holds a bcrypt hash; rows
// imported from older deployments may still carry plaintext.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:80;not null;uniqueIndex"`
	Password  string `gorm:"size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// All lists every model in migration order.
func All() []any {
	return []any{
		&User{},
		&Meeting{},
		&Schedule{},
		&Detail{},
		&File{},
		&DetailFile{},
		&Regulation{},
		&Chapter{},
		&Article{},
		&Paragraph{},
		&Clause{},
		&Revision{},
	}
}
