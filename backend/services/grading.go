package services

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"openexam/backend/models"

	"gorm.io/gorm"
)

// GradingService scores answers and aggregates attempts. Auto-gradable
// types are scored against the question's canonical answer under its
// grading strategy; short answers wait for a manual grade. Final scoring
// is an explicit, idempotent step so manual grading can finish first.
type GradingService struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewGradingService(db *gorm.DB, logger *log.Logger) *GradingService {
	return &GradingService{DB: db, Logger: logger}
}

// ChoiceStrategy configures scoring of choice questions.
//
// Policies: "exact" awards the full paper score only on an exact set
// match; "partial" awards partial_score_percent of the paper score per
// correctly selected option and deducts the same amount per wrong
// selection, floored at zero; "specified_score" awards a flat
// specified_score when the selection is partially right.
type ChoiceStrategy struct {
	Policy              string   `json:"policy"`
	PartialScorePercent *float64 `json:"partial_score_percent,omitempty"`
	SpecifiedScore      *float64 `json:"specified_score,omitempty"`
}

// FillBlankStrategy configures string matching for fill-in-blank
// questions. Match types: "exact", "case_insensitive", "contains".
type FillBlankStrategy struct {
	MatchType string `json:"match_type"`
}

// ManualGradeInput carries a grader's verdict on one answer.
type ManualGradeInput struct {
	Score     float64 `json:"score" validate:"gte=0"`
	IsCorrect *bool   `json:"is_correct,omitempty"`
	Comments  string  `json:"comments,omitempty"`
}

// AutoGradeAttempt scores every auto-gradable answer of a submitted
// attempt and moves the attempt to grading. Answers that already carry a
// score, and short answers, are left untouched. Running it again only
// regrades answers whose score was cleared by a resave.
func (s *GradingService) AutoGradeAttempt(attemptID uint, now time.Time) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("attempt", attemptID)
			}
			return err
		}
		if attempt.Status != models.AttemptSubmitted && attempt.Status != models.AttemptGrading {
			return stateConflictf("cannot auto-grade attempt in status %q", attempt.Status)
		}

		var exam models.Exam
		if err := tx.First(&exam, attempt.ExamID).Error; err != nil {
			return err
		}
		paper, err := PaperForUser(tx, &exam, attempt.UserID)
		if err != nil {
			return err
		}
		paperScore := make(map[uint]float64, len(paper))
		for _, pq := range paper {
			paperScore[pq.QuestionID] = pq.Score
		}

		var answers []models.Answer
		if err := tx.Where("attempt_id = ?", attemptID).Find(&answers).Error; err != nil {
			return err
		}

		for i := range answers {
			ans := &answers[i]
			if ans.Score != nil {
				continue
			}
			maxScore, onPaper := paperScore[ans.QuestionID]
			if !onPaper {
				s.Logger.Printf("answer %d references question %d not on the paper, skipping", ans.ID, ans.QuestionID)
				continue
			}
			var question models.Question
			if err := tx.First(&question, ans.QuestionID).Error; err != nil {
				return err
			}
			if !question.QuestionType.AutoGradable() {
				continue
			}

			score, correct, err := ScoreAnswer(&question, maxScore, json.RawMessage(ans.UserAnswer))
			if err != nil {
				s.Logger.Printf("cannot grade answer %d: %v", ans.ID, err)
				continue
			}
			err = tx.Model(&models.Answer{}).Where("id = ?", ans.ID).Updates(map[string]interface{}{
				"score":      score,
				"is_correct": correct,
				"graded_at":  now,
			}).Error
			if err != nil {
				return err
			}
		}

		if attempt.Status == models.AttemptSubmitted {
			attempt.Status = models.AttemptGrading
			return tx.Model(&models.ExamAttempt{}).Where("id = ?", attemptID).
				Update("status", models.AttemptGrading).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ScoreAnswer scores one auto-gradable answer payload against the
// question's canonical answer, returning the awarded score out of
// maxScore and whether the answer was fully correct.
func ScoreAnswer(question *models.Question, maxScore float64, payload json.RawMessage) (float64, bool, error) {
	switch question.QuestionType {
	case models.SingleChoice, models.MultipleChoice:
		return scoreChoice(question, maxScore, payload)
	case models.FillInBlank:
		return scoreFillBlank(question, maxScore, payload)
	default:
		return 0, false, validationErrorf("question type %q is not auto-gradable", question.QuestionType)
	}
}

func scoreChoice(question *models.Question, maxScore float64, payload json.RawMessage) (float64, bool, error) {
	var selected []string
	if err := json.Unmarshal(payload, &selected); err != nil {
		return 0, false, validationErrorf("malformed choice answer payload")
	}
	var canonical []string
	if err := json.Unmarshal(question.Answer, &canonical); err != nil {
		return 0, false, validationErrorf("question %d has a malformed canonical answer", question.ID)
	}

	correctSet := make(map[string]bool, len(canonical))
	for _, id := range canonical {
		correctSet[id] = true
	}
	hits, misses := 0, 0
	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
		if correctSet[id] {
			hits++
		} else {
			misses++
		}
	}
	exact := misses == 0 && hits == len(correctSet) && len(selectedSet) == hits

	strategy := ChoiceStrategy{Policy: "exact"}
	if len(question.GradingStrategy) > 0 {
		if err := json.Unmarshal(question.GradingStrategy, &strategy); err != nil {
			return 0, false, validationErrorf("question %d has a malformed grading strategy", question.ID)
		}
		if strategy.Policy == "" {
			strategy.Policy = "exact"
		}
	}

	switch strategy.Policy {
	case "exact":
		if exact {
			return maxScore, true, nil
		}
		return 0, false, nil

	case "partial":
		if strategy.PartialScorePercent == nil {
			return 0, false, validationErrorf("question %d: partial policy requires partial_score_percent", question.ID)
		}
		perOption := (*strategy.PartialScorePercent / 100.0) * maxScore
		score := perOption * float64(hits-misses)
		if score < 0 {
			score = 0
		}
		if score > maxScore {
			score = maxScore
		}
		return score, exact, nil

	case "specified_score":
		if exact {
			return maxScore, true, nil
		}
		if hits > 0 && strategy.SpecifiedScore != nil {
			return *strategy.SpecifiedScore, false, nil
		}
		return 0, false, nil

	default:
		return 0, false, validationErrorf("question %d: unknown choice grading policy %q", question.ID, strategy.Policy)
	}
}

func scoreFillBlank(question *models.Question, maxScore float64, payload json.RawMessage) (float64, bool, error) {
	var given []string
	if err := json.Unmarshal(payload, &given); err != nil {
		return 0, false, validationErrorf("malformed fill-in-blank answer payload")
	}
	var canonical []string
	if err := json.Unmarshal(question.Answer, &canonical); err != nil {
		return 0, false, validationErrorf("question %d has a malformed canonical answer", question.ID)
	}

	strategy := FillBlankStrategy{MatchType: "exact"}
	if len(question.GradingStrategy) > 0 {
		if err := json.Unmarshal(question.GradingStrategy, &strategy); err != nil {
			return 0, false, validationErrorf("question %d has a malformed grading strategy", question.ID)
		}
		if strategy.MatchType == "" {
			strategy.MatchType = "exact"
		}
	}

	if len(given) != len(canonical) {
		return 0, false, nil
	}
	for i := range canonical {
		if !blankMatches(strategy.MatchType, canonical[i], given[i]) {
			return 0, false, nil
		}
	}
	return maxScore, true, nil
}

func blankMatches(matchType, expected, got string) bool {
	switch matchType {
	case "case_insensitive":
		return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(got))
	case "contains":
		return strings.Contains(strings.ToLower(got), strings.ToLower(strings.TrimSpace(expected)))
	default: // exact
		return strings.TrimSpace(expected) == strings.TrimSpace(got)
	}
}

// ApplyManualGrade records a grader's score on one answer. Clamped to the
// question's paper score is deliberately not enforced here; graders may
// award bonus points.
func (s *GradingService) ApplyManualGrade(answerID uint, input ManualGradeInput, graderID uint, now time.Time) (*models.Answer, error) {
	var answer models.Answer
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&answer, answerID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("answer", answerID)
			}
			return err
		}
		var attempt models.ExamAttempt
		if err := tx.First(&attempt, answer.AttemptID).Error; err != nil {
			return err
		}
		if attempt.Status != models.AttemptSubmitted && attempt.Status != models.AttemptGrading {
			return stateConflictf("cannot grade answer of attempt in status %q", attempt.Status)
		}

		answer.Score = &input.Score
		answer.IsCorrect = input.IsCorrect
		answer.GradingComments = input.Comments
		answer.GraderID = &graderID
		answer.GradedAt = &now
		return tx.Model(&models.Answer{}).Where("id = ?", answer.ID).Updates(map[string]interface{}{
			"score":            input.Score,
			"is_correct":       input.IsCorrect,
			"grading_comments": input.Comments,
			"grader_id":        graderID,
			"graded_at":        now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

// CalculateFinalScore sums the attempt's non-null answer scores into
// final_score and marks the attempt graded. Idempotent; answers still
// ungraded simply contribute nothing, so callers decide when grading is
// complete enough to finalize.
func (s *GradingService) CalculateFinalScore(attemptID uint) (*models.ExamAttempt, error) {
	var attempt models.ExamAttempt
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&attempt, attemptID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("attempt", attemptID)
			}
			return err
		}
		switch attempt.Status {
		case models.AttemptSubmitted, models.AttemptGrading, models.AttemptGraded:
		default:
			return stateConflictf("cannot finalize attempt in status %q", attempt.Status)
		}

		var total float64
		err := tx.Model(&models.Answer{}).
			Where("attempt_id = ? AND score IS NOT NULL", attemptID).
			Select("COALESCE(SUM(score), 0)").
			Scan(&total).Error
		if err != nil {
			return err
		}

		attempt.FinalScore = &total
		attempt.Status = models.AttemptGraded
		return tx.Model(&models.ExamAttempt{}).Where("id = ?", attempt.ID).Updates(map[string]interface{}{
			"final_score": total,
			"status":      models.AttemptGraded,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ExamStatistics is the per-exam aggregate view.
type ExamStatistics struct {
	ExamID           uint     `json:"exam_id"`
	ParticipantCount int      `json:"participant_count"`
	AttemptCount     int64    `json:"attempt_count"`
	GradedCount      int64    `json:"graded_count"`
	AverageScore     *float64 `json:"average_score,omitempty"`
	MaxScorePossible float64  `json:"max_score_possible"`
}

// Statistics aggregates an exam: resolved participant count, attempt
// count, the average over graded attempts and the paper's maximum score.
// For random_individual the maximum is the rule-set theoretical maximum;
// individual papers may total less when a pool ran short.
func (s *GradingService) Statistics(examID uint) (*ExamStatistics, error) {
	var exam models.Exam
	if err := s.DB.First(&exam, examID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("exam", examID)
		}
		return nil, err
	}

	participants, err := resolveParticipantUserIDs(s.DB, examID)
	if err != nil {
		return nil, err
	}

	stats := &ExamStatistics{ExamID: examID, ParticipantCount: len(participants)}

	err = s.DB.Model(&models.ExamAttempt{}).
		Where("exam_id = ?", examID).
		Count(&stats.AttemptCount).Error
	if err != nil {
		return nil, err
	}

	type gradedAgg struct {
		N   int64
		Avg *float64
	}
	var agg gradedAgg
	err = s.DB.Model(&models.ExamAttempt{}).
		Where("exam_id = ? AND status = ?", examID, models.AttemptGraded).
		Select("COUNT(*) AS n, AVG(final_score) AS avg").
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	stats.GradedCount = agg.N
	stats.AverageScore = agg.Avg

	switch exam.PaperGenerationMode {
	case models.ModeRandomIndividual:
		rules, err := exam.ParsedRules()
		if err != nil {
			return nil, err
		}
		stats.MaxScorePossible = rules.MaxScore()
	default:
		var total float64
		err = s.DB.Model(&models.ExamQuestion{}).
			Where("exam_id = ?", examID).
			Select("COALESCE(SUM(score), 0)").
			Scan(&total).Error
		if err != nil {
			return nil, err
		}
		stats.MaxScorePossible = total
	}
	return stats, nil
}
