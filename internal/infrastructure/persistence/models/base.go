package models

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ensureID assigns a fresh UUID when the domain object has none yet
func (m *BaseModel) ensureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

// touch fills timestamps that the domain left empty
func (m *BaseModel) touch() {
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
}
