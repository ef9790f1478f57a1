package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/models"
)

// FindUser loads a user by username.
func (db *DB) FindUser(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := db.gorm.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err != nil {
		if notFound(err) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Persistence("find user", err)
	}
	return &u, nil
}

// SaveUser inserts the user or replaces the stored password of an existing one.
func (db *DB) SaveUser(ctx context.Context, username, password string) (*models.User, error) {
	u := models.User{Username: username, Password: password}
	err := db.gorm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password", "updated_at"}),
	}).Create(&u).Error
	if err != nil {
		return nil, apperr.Persistence("save user", err)
	}
	return db.FindUser(ctx, username)
}
