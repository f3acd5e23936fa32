package services

import (
	"encoding/json"
	"log"
	"time"

	"openexam/backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnswerService stores student answers during an active attempt. An answer
// is keyed by (attempt, question); saving again overwrites the payload and
// resets every grading field in the same statement, so regrading always
// sees the latest payload.
type AnswerService struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Attempts *AttemptService
}

func NewAnswerService(db *gorm.DB, logger *log.Logger, attempts *AttemptService) *AnswerService {
	return &AnswerService{DB: db, Logger: logger, Attempts: attempts}
}

// Save upserts the user's answer to one question of their active attempt.
// The attempt must be in progress and inside its deadline, and the
// question must be on the paper the attempt is answering.
func (s *AnswerService) Save(attemptID, userID, questionID uint, payload json.RawMessage, now time.Time) (*models.Answer, error) {
	var saved models.Answer

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		attempt, err := s.Attempts.ActiveAttempt(tx, attemptID, userID, now)
		if err != nil {
			return err
		}

		var exam models.Exam
		if err := tx.First(&exam, attempt.ExamID).Error; err != nil {
			return err
		}
		onPaper, err := questionOnPaper(tx, &exam, userID, questionID)
		if err != nil {
			return err
		}
		if !onPaper {
			return validationErrorf("question %d is not part of this paper", questionID)
		}

		var question models.Question
		if err := tx.First(&question, questionID).Error; err != nil {
			return err
		}
		if err := validateAnswerPayload(question.QuestionType, payload); err != nil {
			return err
		}

		row := models.Answer{
			AttemptID:  attemptID,
			QuestionID: questionID,
			UserAnswer: datatypes.JSON(payload),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_answer":      datatypes.JSON(payload),
				"score":            nil,
				"is_correct":       nil,
				"grader_id":        nil,
				"grading_comments": "",
				"graded_at":        nil,
				"updated_at":       now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		return tx.Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
			First(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// validateAnswerPayload checks the payload shape against the question
// type: a list of option ids for choice questions, a list of strings (one
// per blank) for fill-in-blank, a plain string for short answer.
func validateAnswerPayload(qt models.QuestionType, payload json.RawMessage) error {
	switch qt {
	case models.SingleChoice:
		var ids []string
		if err := json.Unmarshal(payload, &ids); err != nil {
			return validationErrorf("answer for a choice question must be a list of option ids")
		}
		if len(ids) != 1 {
			return validationErrorf("single choice answer must contain exactly one option id")
		}
	case models.MultipleChoice:
		var ids []string
		if err := json.Unmarshal(payload, &ids); err != nil {
			return validationErrorf("answer for a choice question must be a list of option ids")
		}
		if len(ids) == 0 {
			return validationErrorf("multiple choice answer must contain at least one option id")
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return validationErrorf("duplicate option id %q in answer", id)
			}
			seen[id] = true
		}
	case models.FillInBlank:
		var blanks []string
		if err := json.Unmarshal(payload, &blanks); err != nil {
			return validationErrorf("answer for a fill-in-blank question must be a list of strings")
		}
		if len(blanks) == 0 {
			return validationErrorf("fill-in-blank answer must contain at least one entry")
		}
	case models.ShortAnswer:
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return validationErrorf("answer for a short answer question must be a string")
		}
	default:
		return validationErrorf("unknown question type %q", qt)
	}
	return nil
}

// questionOnPaper reports whether the question belongs to the paper the
// user answers on this exam.
func questionOnPaper(tx *gorm.DB, exam *models.Exam, userID, questionID uint) (bool, error) {
	var count int64
	if exam.PaperGenerationMode == models.ModeRandomIndividual {
		err := tx.Model(&models.PreGeneratedPaper{}).
			Where("exam_id = ? AND user_id = ? AND question_id = ?", exam.ID, userID, questionID).
			Count(&count).Error
		return count > 0, err
	}
	err := tx.Model(&models.ExamQuestion{}).
		Where("exam_id = ? AND question_id = ?", exam.ID, questionID).
		Count(&count).Error
	return count > 0, err
}

// ForAttempt returns every answer stored for an attempt.
func (s *AnswerService) ForAttempt(attemptID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.DB.Where("attempt_id = ?", attemptID).Order("question_id").Find(&answers).Error
	return answers, err
}

// NeedingManualGrade lists ungraded short-answer responses from submitted
// or grading attempts, optionally scoped to one exam.
func (s *AnswerService) NeedingManualGrade(examID *uint, limit, offset int) ([]models.Answer, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.DB.Model(&models.Answer{}).
		Joins("JOIN exam_attempts ON exam_attempts.id = answers.attempt_id").
		Joins("JOIN questions ON questions.id = answers.question_id").
		Where("answers.score IS NULL").
		Where("questions.question_type = ?", models.ShortAnswer).
		Where("exam_attempts.status IN ?", []models.AttemptStatus{models.AttemptSubmitted, models.AttemptGrading})
	if examID != nil {
		query = query.Where("exam_attempts.exam_id = ?", *examID)
	}

	var answers []models.Answer
	err := query.Preload("Question").
		Order("answers.id").
		Limit(limit).Offset(offset).
		Find(&answers).Error
	return answers, err
}
