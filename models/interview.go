package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	InterviewStatusActive    = "active"
	InterviewStatusCompleted = "completed"
	InterviewStatusFailed    = "failed"
)

// Interview is one realtime interview session. UserID is nil for anonymous runs.
type Interview struct {
	ID                  string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              *string        `gorm:"type:uuid;index" json:"user_id,omitempty"`
	RepositoryID        string         `gorm:"type:uuid;not null;index" json:"repository_id"`
	Status              string         `gorm:"not null;default:'active';index;check:status IN ('active', 'completed', 'failed')" json:"status"`
	FileContext         string         `gorm:"type:text" json:"file_context"`
	ArchitectureContext string         `gorm:"type:text" json:"architecture_context"`
	Duration            int            `json:"duration"` // Duration in seconds
	StartedAt           time.Time      `gorm:"not null" json:"started_at"`
	EndedAt             *time.Time     `json:"ended_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Repository  Repository            `gorm:"foreignKey:RepositoryID" json:"repository"`
	Transcripts []InterviewTranscript `gorm:"foreignKey:InterviewID" json:"transcripts,omitempty"`
	Feedback    *Feedback             `gorm:"foreignKey:InterviewID" json:"feedback,omitempty"`
}

func (i *Interview) BeforeCreate(tx *gorm.DB) error {
	newID(&i.ID)
	return nil
}

// InterviewTranscript stores the ordered, turn-by-turn text of the conversation
type InterviewTranscript struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	InterviewID string    `gorm:"type:uuid;not null;uniqueIndex:idx_transcript_turn" json:"interview_id"`
	TurnOrder   int       `gorm:"not null;uniqueIndex:idx_transcript_turn" json:"turn_order"`
	Speaker     string    `gorm:"not null;check:speaker IN ('user', 'assistant')" json:"speaker"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t *InterviewTranscript) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

// Feedback is the model's assessment of a finished interview.
type Feedback struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	InterviewID string         `gorm:"type:uuid;not null;uniqueIndex" json:"interview_id"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	newID(&f.ID)
	return nil
}
