package services

import (
	"log"
	"time"

	"openexam/backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptService drives the attempt state machine:
//
//	pending -> in_progress -> submitted -> grading -> graded
//
// with aborted as an administrative terminal state. The deadline is fixed
// once at start as start_time + duration and never moves afterwards.
type AttemptService struct {
	DB           *gorm.DB
	Logger       *log.Logger
	Participants *ParticipantService
}

func NewAttemptService(db *gorm.DB, logger *log.Logger, participants *ParticipantService) *AttemptService {
	return &AttemptService{DB: db, Logger: logger, Participants: participants}
}

// PaperQuestion is one row of the paper an attempt is answering, in
// presentation order.
type PaperQuestion struct {
	QuestionID uint             `json:"question_id"`
	OrderIndex int              `json:"order_index"`
	Score      float64          `json:"score"`
	Question   *models.Question `json:"question,omitempty"`
}

// AvailableExams lists published or ongoing exams whose window is open and
// in which the user is a participant.
func (s *AttemptService) AvailableExams(userID uint, now time.Time) ([]models.Exam, error) {
	var exams []models.Exam
	err := s.DB.
		Where("status IN ?", []models.ExamStatus{models.ExamPublished, models.ExamOngoing}).
		Where("start_time <= ? AND end_time > ?", now, now).
		Order("start_time").
		Find(&exams).Error
	if err != nil {
		return nil, err
	}

	out := exams[:0]
	for i := range exams {
		ok, err := s.Participants.IsParticipant(exams[i].ID, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var attempt models.ExamAttempt
		err = s.DB.Select("status").
			Where("exam_id = ? AND user_id = ?", exams[i].ID, userID).
			First(&attempt).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		if err == nil && attempt.Status.Terminal() {
			continue
		}
		out = append(out, exams[i])
	}
	return out, nil
}

// GetOrCreatePending returns the user's attempt on the exam, creating a
// pending row when none exists. An attempt that already reached a
// terminal state is a conflict; the student may not restart a finished
// exam.
func (s *AttemptService) GetOrCreatePending(tx *gorm.DB, examID, userID uint) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	err := tx.Where("exam_id = ? AND user_id = ?", examID, userID).First(&attempt).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
		attempt = models.ExamAttempt{
			ExamID: examID,
			UserID: userID,
			Status: models.AttemptPending,
		}
		// A concurrent call may insert the row first. DO NOTHING keeps the
		// transaction usable on Postgres, where a raw unique violation would
		// abort it and poison the follow-up fetch.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&attempt)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("exam_id = ? AND user_id = ?", examID, userID).
				First(&attempt).Error; err != nil {
				return nil, err
			}
		}
	}
	if attempt.Status.Terminal() {
		return nil, stateConflictf("attempt already %s", attempt.Status)
	}
	return &attempt, nil
}

// StartAttempt starts, or resumes, the user's attempt on an exam. Starting
// is idempotent while the attempt is in progress; an attempt that already
// reached a terminal state cannot be started again. The first start inside
// the window also moves a published exam to ongoing.
func (s *AttemptService) StartAttempt(examID, userID uint, ip string, now time.Time) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var exam models.Exam
		if err := tx.First(&exam, examID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("exam", examID)
			}
			return err
		}
		if exam.Status != models.ExamPublished && exam.Status != models.ExamOngoing {
			return stateConflictf("exam is not open for taking, status is %q", exam.Status)
		}
		if !exam.WindowOpen(now) {
			return stateConflictf("exam window is not open")
		}

		ok, err := IsParticipantTx(tx, examID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return stateConflictf("user is not a participant of this exam")
		}

		pending, err := s.GetOrCreatePending(tx, examID, userID)
		if err != nil {
			return err
		}
		attempt = *pending
		if attempt.Status == models.AttemptInProgress {
			return nil // resume
		}

		end := now.Add(time.Duration(exam.DurationMinutes) * time.Minute)
		attempt.Status = models.AttemptInProgress
		attempt.StartTime = &now
		attempt.CalculatedEndTime = &end
		attempt.LastHeartbeat = &now
		attempt.IPAddress = ip
		if err := tx.Model(&models.ExamAttempt{}).Where("id = ?", attempt.ID).Updates(map[string]interface{}{
			"status":              models.AttemptInProgress,
			"start_time":          now,
			"calculated_end_time": end,
			"last_heartbeat":      now,
			"ip_address":          ip,
		}).Error; err != nil {
			return err
		}

		if exam.Status == models.ExamPublished {
			if err := tx.Model(&models.Exam{}).Where("id = ? AND status = ?", examID, models.ExamPublished).
				Update("status", models.ExamOngoing).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// IsParticipantTx is the transactional participant check used inside
// start and answer flows.
func IsParticipantTx(tx *gorm.DB, examID, userID uint) (bool, error) {
	ids, err := resolveParticipantUserIDs(tx, examID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Heartbeat records liveness for an in-progress attempt. The update is a
// compare-and-set on status so a submit racing the heartbeat wins; the
// return value reports whether the attempt was still in progress.
func (s *AttemptService) Heartbeat(attemptID, userID uint, now time.Time) (bool, error) {
	res := s.DB.Model(&models.ExamAttempt{}).
		Where("id = ? AND user_id = ? AND status = ?", attemptID, userID, models.AttemptInProgress).
		Update("last_heartbeat", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SubmitAttempt finalizes an in-progress attempt. Submissions arriving
// after the deadline are still accepted and recorded with their real
// submit time.
func (s *AttemptService) SubmitAttempt(attemptID, userID uint, now time.Time) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("attempt", attemptID)
			}
			return err
		}
		if attempt.UserID != userID {
			return notFound("attempt", attemptID)
		}
		if attempt.Status != models.AttemptInProgress {
			return stateConflictf("cannot submit attempt in status %q", attempt.Status)
		}
		attempt.Status = models.AttemptSubmitted
		attempt.SubmitTime = &now
		return tx.Model(&models.ExamAttempt{}).Where("id = ?", attempt.ID).Updates(map[string]interface{}{
			"status":      models.AttemptSubmitted,
			"submit_time": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ActiveAttempt loads the attempt and verifies it belongs to the user, is
// in progress and has not passed its deadline. Every answer-phase
// operation goes through this guard.
func (s *AttemptService) ActiveAttempt(tx *gorm.DB, attemptID, userID uint, now time.Time) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	if err := tx.First(&attempt, attemptID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("attempt", attemptID)
		}
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, notFound("attempt", attemptID)
	}
	if attempt.Status != models.AttemptInProgress {
		return nil, stateConflictf("attempt is not in progress, status is %q", attempt.Status)
	}
	if attempt.Expired(now) {
		return nil, ErrAttemptExpired
	}
	return &attempt, nil
}

// GetPaper returns the attempt's question rows in paper order, resolved
// from the shared paper or the user's individual paper depending on the
// exam's generation mode. Questions are preloaded with full content
// including answer keys; callers serving students must strip them.
func (s *AttemptService) GetPaper(attempt *models.ExamAttempt) ([]PaperQuestion, error) {
	var exam models.Exam
	if err := s.DB.First(&exam, attempt.ExamID).Error; err != nil {
		return nil, err
	}
	return PaperForUser(s.DB, &exam, attempt.UserID)
}

// PaperForUser resolves the paper rows one user answers on an exam.
func PaperForUser(tx *gorm.DB, exam *models.Exam, userID uint) ([]PaperQuestion, error) {
	var out []PaperQuestion

	if exam.PaperGenerationMode == models.ModeRandomIndividual {
		var rows []models.PreGeneratedPaper
		err := tx.Where("exam_id = ? AND user_id = ?", exam.ID, userID).
			Order("order_index").Find(&rows).Error
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, notFound("paper", exam.ID)
		}
		for _, r := range rows {
			out = append(out, PaperQuestion{QuestionID: r.QuestionID, OrderIndex: r.OrderIndex, Score: r.Score})
		}
	} else {
		var rows []models.ExamQuestion
		err := tx.Where("exam_id = ?", exam.ID).Order("order_index").Find(&rows).Error
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, notFound("paper", exam.ID)
		}
		for _, r := range rows {
			out = append(out, PaperQuestion{QuestionID: r.QuestionID, OrderIndex: r.OrderIndex, Score: r.Score})
		}
	}

	ids := make([]uint, 0, len(out))
	for _, pq := range out {
		ids = append(ids, pq.QuestionID)
	}
	var questions []models.Question
	if err := tx.Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	for i := range out {
		out[i].Question = byID[out[i].QuestionID]
	}
	return out, nil
}

// UpdateStatus is the administrative status override, used to abort an
// attempt or push it through the grading pipeline. Transitions out of a
// terminal state other than grading -> graded are rejected.
func (s *AttemptService) UpdateStatus(attemptID uint, next models.AttemptStatus) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("attempt", attemptID)
			}
			return err
		}
		if !validStatusTransition(attempt.Status, next) {
			return stateConflictf("cannot move attempt from %q to %q", attempt.Status, next)
		}
		attempt.Status = next
		return tx.Model(&models.ExamAttempt{}).Where("id = ?", attempt.ID).
			Update("status", next).Error
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func validStatusTransition(from, to models.AttemptStatus) bool {
	switch from {
	case models.AttemptPending:
		return to == models.AttemptInProgress || to == models.AttemptAborted
	case models.AttemptInProgress:
		return to == models.AttemptSubmitted || to == models.AttemptAborted
	case models.AttemptSubmitted:
		return to == models.AttemptGrading || to == models.AttemptGraded || to == models.AttemptAborted
	case models.AttemptGrading:
		return to == models.AttemptGraded
	}
	return false
}
