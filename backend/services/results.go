package services

import (
	"log"

	"openexam/backend/models"

	"gorm.io/gorm"
)

// ResultService answers the read side of finished attempts: a student's
// own history, the admin roster for an exam, and the full per-answer
// detail of one attempt. Whether a student sees scores or answer keys is
// controlled by the exam's show_score/show_answers flags.
type ResultService struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewResultService(db *gorm.DB, logger *log.Logger) *ResultService {
	return &ResultService{DB: db, Logger: logger}
}

var completedStatuses = []models.AttemptStatus{
	models.AttemptSubmitted,
	models.AttemptGrading,
	models.AttemptGraded,
	models.AttemptAborted,
}

// StudentResults lists the user's completed attempts, newest first. Final
// scores are blanked when the exam withholds them.
func (s *ResultService) StudentResults(userID uint, limit, offset int) ([]models.ExamAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var attempts []models.ExamAttempt
	err := s.DB.Preload("Exam").
		Where("user_id = ? AND status IN ?", userID, completedStatuses).
		Order("submit_time DESC").
		Limit(limit).Offset(offset).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	for i := range attempts {
		if attempts[i].Exam != nil && !attempts[i].Exam.ShowScoreAfterExam {
			attempts[i].FinalScore = nil
		}
	}
	return attempts, nil
}

// ExamResultsAdmin lists completed attempts for one exam with user info.
func (s *ResultService) ExamResultsAdmin(examID uint, limit, offset int) ([]models.ExamAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var attempts []models.ExamAttempt
	err := s.DB.Preload("User").
		Where("exam_id = ? AND status IN ?", examID, completedStatuses).
		Order("submit_time DESC, user_id").
		Limit(limit).Offset(offset).
		Find(&attempts).Error
	return attempts, err
}

// AttemptDetail loads one attempt with its exam, answers and their
// questions. When forStudent is set the exam's visibility flags apply:
// scores are blanked unless show_score_after_exam, and canonical answers,
// explanations and grading strategies are stripped unless
// show_answers_after_exam.
func (s *ResultService) AttemptDetail(attemptID uint, forStudent bool) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	err := s.DB.Preload("Exam").
		Preload("Answers").
		Preload("Answers.Question").
		First(&attempt, attemptID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("attempt", attemptID)
		}
		return nil, err
	}
	if !forStudent || attempt.Exam == nil {
		return &attempt, nil
	}

	if !attempt.Exam.ShowScoreAfterExam {
		attempt.FinalScore = nil
		for i := range attempt.Answers {
			attempt.Answers[i].Score = nil
			attempt.Answers[i].IsCorrect = nil
		}
	}
	if !attempt.Exam.ShowAnswersAfterExam {
		for i := range attempt.Answers {
			if q := attempt.Answers[i].Question; q != nil {
				q.Answer = nil
				q.Explanation = ""
				q.GradingStrategy = nil
			}
		}
	}
	return &attempt, nil
}
