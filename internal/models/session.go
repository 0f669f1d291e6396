package models

import (
	"time"

	"gorm.io/gorm"
)

// SessionRecord is the persisted session row. Interview state and the last
// extracted entity are serialized alongside so a coordinator can resume a
// session from any instance.
type SessionRecord struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	UserID        string         `gorm:"index;size:64" json:"user_id"`
	Mode          string         `gorm:"size:16" json:"mode"` // "general", "shopping"
	LastIntent    string         `gorm:"size:32" json:"last_intent"`
	LastEntity    string         `gorm:"size:255" json:"last_entity"`
	InterviewJSON string         `gorm:"type:text" json:"-"` // serialized InterviewState, empty when none
	TurnCount     int            `json:"turn_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// TurnRecord is one persisted utterance. Seq is the position within the
// session, starting at 1.
type TurnRecord struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	SessionID       string    `gorm:"index;size:64" json:"session_id"`
	Seq             int       `gorm:"index" json:"seq"`
	Role            string    `gorm:"size:16" json:"role"`
	Text            string    `gorm:"type:text" json:"text"`
	CitationsJSON   string    `gorm:"type:text" json:"-"`
	CardsJSON       string    `gorm:"type:text" json:"-"`
	AttachmentsJSON string    `gorm:"type:text" json:"-"`
	Timestamp       int64     `json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

// SummaryRecord is a condensed block of prior turn-pairs. Watermark is the
// turn count covered.
type SummaryRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	SessionID string    `gorm:"index;size:64" json:"session_id"`
	Content   string    `gorm:"type:text" json:"content"`
	Watermark int       `json:"watermark"`
	CreatedAt time.Time `json:"created_at"`
}
