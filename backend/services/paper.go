package services

import (
	"log"
	"math/rand"
	"sort"

	"openexam/backend/models"

	"gorm.io/gorm"
)

// PaperService turns an exam's generation mode and rule set into concrete
// paper rows: a shared paper (manual, random_unified) or one individual
// paper per participant (random_individual). Generation always runs inside
// the caller's transaction so that paper rows and the exam's status change
// commit or roll back together.
type PaperService struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewPaperService(db *gorm.DB, logger *log.Logger) *PaperService {
	return &PaperService{DB: db, Logger: logger}
}

type paperEntry struct {
	QuestionID uint
	Score      float64
	OrderIndex int
}

// ManualQuestion is one caller-supplied row for a manual-mode paper.
type ManualQuestion struct {
	QuestionID uint    `json:"question_id" validate:"required"`
	Score      float64 `json:"score" validate:"gt=0"`
	OrderIndex int     `json:"order_index" validate:"gte=0"`
}

// UserPaperFailure reports one participant whose individual paper could not
// be generated during a bulk run. Partial failures do not abort the batch
// unless no paper at all could be generated.
type UserPaperFailure struct {
	UserID uint   `json:"user_id"`
	Reason string `json:"reason"`
}

// PublishExam transitions a draft exam to published, generating its
// paper(s) in the same transaction. On any generation error the exam stays
// in draft and no paper rows survive.
func (s *PaperService) PublishExam(examID uint) (*models.Exam, []UserPaperFailure, error) {
	var exam models.Exam
	var failures []UserPaperFailure

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&exam, examID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("exam", examID)
			}
			return err
		}
		if exam.Status != models.ExamDraft {
			return stateConflictf("cannot publish exam in status %q", exam.Status)
		}
		if !exam.EndTime.After(exam.StartTime) {
			return validationErrorf("exam end time must be after start time")
		}

		var err error
		failures, err = s.GenerateForExam(tx, &exam)
		if err != nil {
			return err
		}

		exam.Status = models.ExamPublished
		return tx.Model(&models.Exam{}).Where("id = ?", exam.ID).
			Update("status", models.ExamPublished).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &exam, failures, nil
}

// GenerateForExam (re)generates the paper rows for the exam's mode.
// Previously generated rows for the same scope are deleted first, so
// generating twice is idempotent with respect to the current rule set.
func (s *PaperService) GenerateForExam(tx *gorm.DB, exam *models.Exam) ([]UserPaperFailure, error) {
	switch exam.PaperGenerationMode {
	case models.ModeRandomIndividual:
		if err := tx.Where("exam_id = ?", exam.ID).Delete(&models.PreGeneratedPaper{}).Error; err != nil {
			return nil, err
		}
		userIDs, err := resolveParticipantUserIDs(tx, exam.ID)
		if err != nil {
			return nil, err
		}
		if len(userIDs) == 0 {
			s.Logger.Printf("exam %d has no participants, skipping individual paper generation", exam.ID)
			return nil, nil
		}
		return s.GenerateForUsers(tx, exam, userIDs)

	case models.ModeRandomUnified:
		if err := tx.Where("exam_id = ?", exam.ID).Delete(&models.ExamQuestion{}).Error; err != nil {
			return nil, err
		}
		rules, err := exam.ParsedRules()
		if err != nil {
			return nil, validationErrorf("invalid rule set on exam %d: %v", exam.ID, err)
		}
		if len(rules) == 0 {
			return nil, validationErrorf("exam %d has no selection rules", exam.ID)
		}
		entries, err := s.generatePaper(tx, rules)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, &PaperGenerationError{ExamID: exam.ID, Msg: "no questions selectable for any rule"}
		}
		rows := make([]models.ExamQuestion, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, models.ExamQuestion{
				ExamID:     exam.ID,
				QuestionID: e.QuestionID,
				Score:      e.Score,
				OrderIndex: e.OrderIndex,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return nil, err
		}
		s.Logger.Printf("generated unified paper with %d questions for exam %d", len(rows), exam.ID)
		return nil, nil

	case models.ModeManual:
		var count int64
		if err := tx.Model(&models.ExamQuestion{}).Where("exam_id = ?", exam.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, &PaperGenerationError{ExamID: exam.ID, Msg: "manual exam has no questions defined"}
		}
		return nil, nil

	default:
		return nil, validationErrorf("unknown paper generation mode %q", exam.PaperGenerationMode)
	}
}

// GenerateForUsers generates one individual paper per user and bulk-inserts
// the rows. Per-user failures are collected and reported as data; the whole
// batch fails only when not a single paper could be generated.
func (s *PaperService) GenerateForUsers(tx *gorm.DB, exam *models.Exam, userIDs []uint) ([]UserPaperFailure, error) {
	rules, err := exam.ParsedRules()
	if err != nil {
		return nil, validationErrorf("invalid rule set on exam %d: %v", exam.ID, err)
	}
	if len(rules) == 0 {
		return nil, validationErrorf("exam %d has no selection rules", exam.ID)
	}

	var rows []models.PreGeneratedPaper
	var failures []UserPaperFailure
	succeeded := 0

	for _, userID := range userIDs {
		entries, err := s.generatePaper(tx, rules)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			failures = append(failures, UserPaperFailure{
				UserID: userID,
				Reason: "no questions selectable for any rule",
			})
			continue
		}
		for _, e := range entries {
			rows = append(rows, models.PreGeneratedPaper{
				ExamID:     exam.ID,
				UserID:     userID,
				QuestionID: e.QuestionID,
				Score:      e.Score,
				OrderIndex: e.OrderIndex,
			})
		}
		succeeded++
	}

	if succeeded == 0 {
		return nil, &PaperGenerationError{ExamID: exam.ID, Msg: "no individual paper could be generated for any participant"}
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, err
	}
	s.Logger.Printf("generated %d individual papers (%d rows) for exam %d", succeeded, len(rows), exam.ID)
	return failures, nil
}

// generatePaper runs the rule list in order, sampling without replacement
// across rules so a question never appears twice on one paper. A rule whose
// pool runs short contributes what it has; the shortfall is logged.
func (s *PaperService) generatePaper(tx *gorm.DB, rules models.RuleSet) ([]paperEntry, error) {
	var entries []paperEntry
	selected := make(map[uint]bool)
	orderIdx := 0

	for i, rule := range rules {
		if rule.Count <= 0 || len(rule.ChapterIDs) == 0 {
			return nil, validationErrorf("rule %d: count and chapter_ids are required", i)
		}

		query := tx.Model(&models.Question{}).Where("chapter_id IN ?", rule.ChapterIDs)
		if rule.QuestionType != nil {
			query = query.Where("question_type = ?", *rule.QuestionType)
		}
		var candidates []uint
		if err := query.Pluck("id", &candidates).Error; err != nil {
			return nil, err
		}

		pool := candidates[:0:0]
		for _, id := range candidates {
			if !selected[id] {
				pool = append(pool, id)
			}
		}
		// Stable pool order before shuffling keeps selection independent of
		// the database's row ordering.
		sort.Slice(pool, func(a, b int) bool { return pool[a] < pool[b] })
		rand.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })

		take := rule.Count
		if take > len(pool) {
			s.Logger.Printf("rule %d: not enough questions, found %d, needed %d", i, len(pool), rule.Count)
			take = len(pool)
		}
		for _, id := range pool[:take] {
			entries = append(entries, paperEntry{
				QuestionID: id,
				Score:      rule.ScorePerQuestion,
				OrderIndex: orderIdx,
			})
			selected[id] = true
			orderIdx++
		}
	}

	return entries, nil
}

// SyncManualQuestions replaces the manual paper definition for a draft
// exam. Every question id must exist and order_index values must be unique,
// non-negative and contiguous from 0.
func (s *PaperService) SyncManualQuestions(tx *gorm.DB, examID uint, questions []ManualQuestion) error {
	if len(questions) == 0 {
		return validationErrorf("manual question list cannot be empty")
	}

	ids := make([]uint, 0, len(questions))
	seenQuestion := make(map[uint]bool, len(questions))
	seenOrder := make(map[int]bool, len(questions))
	for _, q := range questions {
		if seenQuestion[q.QuestionID] {
			return validationErrorf("duplicate question %d in manual paper", q.QuestionID)
		}
		seenQuestion[q.QuestionID] = true
		ids = append(ids, q.QuestionID)
		if q.OrderIndex < 0 {
			return validationErrorf("order_index must be non-negative, got %d", q.OrderIndex)
		}
		if seenOrder[q.OrderIndex] {
			return validationErrorf("duplicate order_index %d", q.OrderIndex)
		}
		seenOrder[q.OrderIndex] = true
	}
	for i := 0; i < len(questions); i++ {
		if !seenOrder[i] {
			return validationErrorf("order_index values must be contiguous from 0, missing %d", i)
		}
	}

	var existing []uint
	if err := tx.Model(&models.Question{}).Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
		return err
	}
	if len(existing) != len(ids) {
		known := make(map[uint]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}
		for _, id := range ids {
			if !known[id] {
				return validationErrorf("question %d does not exist", id)
			}
		}
	}

	if err := tx.Where("exam_id = ?", examID).Delete(&models.ExamQuestion{}).Error; err != nil {
		return err
	}
	rows := make([]models.ExamQuestion, 0, len(questions))
	for _, q := range questions {
		rows = append(rows, models.ExamQuestion{
			ExamID:     examID,
			QuestionID: q.QuestionID,
			Score:      q.Score,
			OrderIndex: q.OrderIndex,
		})
	}
	return tx.Create(&rows).Error
}
