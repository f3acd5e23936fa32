package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptGrading    AttemptStatus = "grading"
	AttemptGraded     AttemptStatus = "graded"
	AttemptAborted    AttemptStatus = "aborted"
)

// Terminal reports whether the attempt can no longer return to active
// taking. A student may not restart an attempt in any of these states.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptSubmitted, AttemptGrading, AttemptGraded, AttemptAborted:
		return true
	}
	return false
}

// ExamAttempt is one student's timed instance of taking an exam. At most
// one attempt exists per (exam, user); CalculatedEndTime is the
// authoritative deadline, set once at start.
type ExamAttempt struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	ExamID            uint          `gorm:"not null;uniqueIndex:uq_attempt_exam_user" json:"exam_id"`
	UserID            uint          `gorm:"not null;uniqueIndex:uq_attempt_exam_user" json:"user_id"`
	StartTime         *time.Time    `json:"start_time,omitempty"`
	SubmitTime        *time.Time    `json:"submit_time,omitempty"`
	CalculatedEndTime *time.Time    `json:"calculated_end_time,omitempty"`
	Status            AttemptStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	FinalScore        *float64      `json:"final_score,omitempty"`
	LastHeartbeat     *time.Time    `json:"last_heartbeat,omitempty"`
	IPAddress         string        `gorm:"size:45" json:"ip_address,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`

	Exam    *Exam    `json:"exam,omitempty"`
	User    *User    `json:"user,omitempty"`
	Answers []Answer `gorm:"foreignKey:AttemptID;constraint:OnDelete:CASCADE" json:"answers,omitempty"`
}

// Expired reports whether the attempt's deadline has passed.
func (a *ExamAttempt) Expired(now time.Time) bool {
	return a.CalculatedEndTime != nil && now.After(*a.CalculatedEndTime)
}

// Answer holds one student answer per (attempt, question). Saving again
// overwrites the payload and clears every grading field in the same write.
type Answer struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	AttemptID       uint           `gorm:"not null;uniqueIndex:uq_answer_attempt_question" json:"attempt_id"`
	QuestionID      uint           `gorm:"not null;uniqueIndex:uq_answer_attempt_question;index" json:"question_id"`
	UserAnswer      datatypes.JSON `json:"user_answer,omitempty"`
	Score           *float64       `json:"score,omitempty"`
	IsCorrect       *bool          `json:"is_correct,omitempty"`
	GraderID        *uint          `gorm:"index" json:"grader_id,omitempty"`
	GradingComments string         `gorm:"type:text" json:"grading_comments,omitempty"`
	GradedAt        *time.Time     `json:"graded_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	Question *Question `json:"question,omitempty"`
}
