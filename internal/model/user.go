package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the minimal identity projection the chat core needs: a
// stable ID to key membership and read cursors, plus the campus
// identifiers surfaced in conversation listings. Account issuance and
// verification live in the identity service.
type User struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	NetID    string    `json:"netid" gorm:"uniqueIndex;size:32;not null"`
	Email    string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name     string    `json:"name" gorm:"size:100"`
	Password string    `json:"-" gorm:"size:255"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
