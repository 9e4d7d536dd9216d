package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultCredits is the per-type ceiling a user's counters reset to.
const DefaultCredits = 2

type User struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string `gorm:"uniqueIndex;not null" json:"email"`
	Password  string `gorm:"size:255" json:"-"` // Hashed password (excluded from JSON)
	FullName  string `gorm:"size:255" json:"full_name,omitempty"`
	IsAdmin   bool   `gorm:"not null;default:false" json:"is_admin"`

	DocumentCredits         int        `gorm:"not null;default:2" json:"document_credits"`
	InterviewCredits        int        `gorm:"not null;default:2" json:"interview_credits"`
	DocumentCreditsResetAt  *time.Time `json:"document_credits_reset_at,omitempty"`
	InterviewCreditsResetAt *time.Time `json:"interview_credits_reset_at,omitempty"`

	EmailVerifiedAt *time.Time     `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Analyses      []Analysis     `gorm:"foreignKey:UserID" json:"analyses,omitempty"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"refresh_tokens,omitempty"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}

type RefreshToken struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string         `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time      `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

type PermanentToken struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string         `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (t *PermanentToken) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

// VerificationToken is a single-use email verification token, stored hashed.
type VerificationToken struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *VerificationToken) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

// RateLimitEntry is a fixed-window counter keyed by an arbitrary bucket name.
type RateLimitEntry struct {
	Bucket    string    `gorm:"primaryKey;size:255" json:"bucket"`
	Count     int64     `gorm:"not null" json:"count"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}
