package models

import (
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	FillInBlank    QuestionType = "fill_in_blank"
	ShortAnswer    QuestionType = "short_answer"
)

// AutoGradable reports whether answers of this type can be scored by
// comparison against the canonical answer, without a human grader.
func (t QuestionType) AutoGradable() bool {
	return t != ShortAnswer
}

type QuestionLib struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Description   string    `json:"description"`
	QuestionCount int       `gorm:"not null;default:0" json:"question_count"`
	CreatorID     *uint     `json:"creator_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Chapters []Chapter `gorm:"constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
}

type Chapter struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	QuestionLibID uint      `gorm:"not null;index" json:"question_lib_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Description   string    `json:"description"`
	OrderIndex    int       `gorm:"default:0" json:"order_index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Questions []Question `gorm:"constraint:OnDelete:CASCADE" json:"questions,omitempty"`
}

// Question is the catalog entity referenced by paper rows and answers.
// Options holds [{"id":"A","text":"..."}] for choice types. Answer holds
// the canonical answer in a type-dependent shape: a list of option ids for
// choice types, a list of strings (one per blank) for fill-in-blank, and a
// model answer string for short answer. GradingStrategy is an optional JSON
// object interpreted by the grading engine.
type Question struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ChapterID       uint           `gorm:"not null;index" json:"chapter_id"`
	QuestionType    QuestionType   `gorm:"size:20;not null;index" json:"question_type"`
	Stem            string         `gorm:"type:text;not null" json:"stem"`
	Score           float64        `gorm:"not null;default:1" json:"score"`
	Options         datatypes.JSON `json:"options,omitempty"`
	Answer          datatypes.JSON `json:"answer,omitempty"`
	GradingStrategy datatypes.JSON `json:"grading_strategy,omitempty"`
	Explanation     string         `gorm:"type:text" json:"explanation,omitempty"`
	CreatorID       *uint          `json:"creator_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// QuestionOption mirrors one element of Question.Options.
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}
