package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type PaperGenerationMode string

const (
	ModeManual           PaperGenerationMode = "manual"
	ModeRandomUnified    PaperGenerationMode = "random_unified"
	ModeRandomIndividual PaperGenerationMode = "random_individual"
)

type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
	ExamOngoing   ExamStatus = "ongoing"
	ExamFinished  ExamStatus = "finished"
	ExamArchived  ExamStatus = "archived"
)

// Rule is one selection constraint for random paper generation: draw Count
// questions from the union of the named chapters, optionally filtered by
// type, each worth ScorePerQuestion on the generated paper.
type Rule struct {
	ChapterIDs       []uint        `json:"chapter_ids"`
	QuestionType     *QuestionType `json:"question_type,omitempty"`
	Count            int           `json:"count"`
	ScorePerQuestion float64       `json:"score_per_question"`
}

// RuleSet is the ordered list of rules stored on a random-mode exam.
// Rule order determines order_index assignment on the paper.
type RuleSet []Rule

// MaxScore is the theoretical paper maximum: sum of count * score per rule.
// Actual papers may total less when a rule's pool runs short.
func (rs RuleSet) MaxScore() float64 {
	var total float64
	for _, r := range rs {
		total += float64(r.Count) * r.ScorePerQuestion
	}
	return total
}

type Exam struct {
	ID                   uint                `gorm:"primaryKey" json:"id"`
	Name                 string              `gorm:"size:255;not null" json:"name"`
	StartTime            time.Time           `gorm:"not null;index" json:"start_time"`
	EndTime              time.Time           `gorm:"not null;index" json:"end_time"`
	DurationMinutes      int                 `gorm:"not null" json:"duration_minutes"`
	ShowScoreAfterExam   bool                `gorm:"not null;default:true" json:"show_score_after_exam"`
	ShowAnswersAfterExam bool                `gorm:"not null;default:false" json:"show_answers_after_exam"`
	Rules                datatypes.JSON      `json:"rules,omitempty"`
	PaperGenerationMode  PaperGenerationMode `gorm:"size:20;not null" json:"paper_generation_mode"`
	Status               ExamStatus          `gorm:"size:20;not null;default:draft;index" json:"status"`
	CreatorID            *uint               `json:"creator_id,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`

	Questions    []ExamQuestion    `gorm:"constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	Participants []ExamParticipant `gorm:"constraint:OnDelete:CASCADE" json:"participants,omitempty"`
	Attempts     []ExamAttempt     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// ParsedRules decodes the stored rule set. Returns an empty set when no
// rules were stored (manual exams).
func (e *Exam) ParsedRules() (RuleSet, error) {
	if len(e.Rules) == 0 {
		return nil, nil
	}
	var rs RuleSet
	if err := json.Unmarshal(e.Rules, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// WindowOpen reports whether now falls inside [start_time, end_time).
func (e *Exam) WindowOpen(now time.Time) bool {
	return !now.Before(e.StartTime) && now.Before(e.EndTime)
}

// ExamQuestion is one row of the shared paper (manual and random_unified
// modes). order_index is unique and contiguous from 0 within an exam.
type ExamQuestion struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	ExamID     uint    `gorm:"not null;uniqueIndex:uq_exam_question;uniqueIndex:uq_exam_order" json:"exam_id"`
	QuestionID uint    `gorm:"not null;uniqueIndex:uq_exam_question;index" json:"question_id"`
	Score      float64 `gorm:"not null" json:"score"`
	OrderIndex int     `gorm:"not null;uniqueIndex:uq_exam_order" json:"order_index"`

	Question *Question `json:"question,omitempty"`
}

// ExamParticipant assigns either a user or a group (exactly one non-nil).
type ExamParticipant struct {
	ID      uint  `gorm:"primaryKey" json:"id"`
	ExamID  uint  `gorm:"not null;index" json:"exam_id"`
	UserID  *uint `gorm:"index" json:"user_id,omitempty"`
	GroupID *uint `gorm:"index" json:"group_id,omitempty"`
}

// PreGeneratedPaper is one row of an individual paper for a
// random_individual exam, keyed by (exam, user).
type PreGeneratedPaper struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	ExamID     uint    `gorm:"not null;uniqueIndex:uq_pregen_question;uniqueIndex:uq_pregen_order" json:"exam_id"`
	UserID     uint    `gorm:"not null;uniqueIndex:uq_pregen_question;uniqueIndex:uq_pregen_order" json:"user_id"`
	QuestionID uint    `gorm:"not null;uniqueIndex:uq_pregen_question;index" json:"question_id"`
	Score      float64 `gorm:"not null" json:"score"`
	OrderIndex int     `gorm:"not null;uniqueIndex:uq_pregen_order" json:"order_index"`
}
