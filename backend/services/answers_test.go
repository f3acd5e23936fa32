package services

import (
	"testing"
	"time"

	"openexam/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func startedAttempt(t *testing.T, db *gorm.DB, papers *PaperService, attempts *AttemptService, questionCount int) (*models.Exam, []uint, *models.User, *models.ExamAttempt, time.Time) {
	t.Helper()
	exam, ids := publishManualExam(t, db, papers, questionCount)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()
	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)
	return exam, ids, alice, attempt, now
}

func TestSaveAnswerUpsertResetsGrade(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)
	_, ids, alice, attempt, now := startedAttempt(t, db, papers, attempts, 1)

	first, err := answers.Save(attempt.ID, alice.ID, ids[0], []byte(`["A"]`), now)
	require.NoError(t, err)
	assert.JSONEq(t, `["A"]`, string(first.UserAnswer))

	// simulate an earlier grade, then resave
	score := 5.0
	correct := true
	require.NoError(t, db.Model(&models.Answer{}).Where("id = ?", first.ID).Updates(map[string]interface{}{
		"score":      score,
		"is_correct": correct,
		"graded_at":  now,
	}).Error)

	second, err := answers.Save(attempt.ID, alice.ID, ids[0], []byte(`["B"]`), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert keeps one row per (attempt, question)")
	assert.JSONEq(t, `["B"]`, string(second.UserAnswer))
	assert.Nil(t, second.Score, "resave clears the grade")
	assert.Nil(t, second.IsCorrect)
	assert.Nil(t, second.GradedAt)

	var count int64
	require.NoError(t, db.Model(&models.Answer{}).Where("attempt_id = ?", attempt.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSaveAnswerRequiresQuestionOnPaper(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)
	_, _, alice, attempt, now := startedAttempt(t, db, papers, attempts, 1)

	other := seedChapter(t, db, "other", 1)
	var strayID uint
	require.NoError(t, db.Model(&models.Question{}).Where("chapter_id = ?", other.ID).
		Limit(1).Pluck("id", &strayID).Error)

	_, err := answers.Save(attempt.ID, alice.ID, strayID, []byte(`["A"]`), now)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestSaveAnswerPayloadValidation(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)
	_, ids, alice, attempt, now := startedAttempt(t, db, papers, attempts, 1)

	cases := []struct {
		name    string
		payload string
	}{
		{"object instead of list", `{"selected":"A"}`},
		{"two ids for single choice", `["A","B"]`},
		{"empty list", `[]`},
		{"bare string", `"A"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := answers.Save(attempt.ID, alice.ID, ids[0], []byte(tc.payload), now)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
}

func TestSaveAnswerRequiresActiveAttempt(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)
	_, ids, alice, attempt, now := startedAttempt(t, db, papers, attempts, 1)

	_, err := attempts.SubmitAttempt(attempt.ID, alice.ID, now.Add(time.Minute))
	require.NoError(t, err)

	_, err = answers.Save(attempt.ID, alice.ID, ids[0], []byte(`["A"]`), now.Add(2*time.Minute))
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
}

func TestNeedingManualGrade(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)

	chapter := seedChapter(t, db, "essay", 1)
	short := seedQuestion(t, db, chapter.ID, models.ShortAnswer, `"model answer"`, "")
	var choiceID uint
	require.NoError(t, db.Model(&models.Question{}).
		Where("chapter_id = ? AND question_type = ?", chapter.ID, models.SingleChoice).
		Limit(1).Pluck("id", &choiceID).Error)

	exam := seedExam(t, db, models.ModeManual, nil)
	require.NoError(t, papers.SyncManualQuestions(db, exam.ID, []ManualQuestion{
		{QuestionID: choiceID, Score: 5, OrderIndex: 0},
		{QuestionID: short.ID, Score: 10, OrderIndex: 1},
	}))
	_, _, err := papers.PublishExam(exam.ID)
	require.NoError(t, err)

	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()
	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	_, err = answers.Save(attempt.ID, alice.ID, choiceID, []byte(`["A"]`), now)
	require.NoError(t, err)
	_, err = answers.Save(attempt.ID, alice.ID, short.ID, []byte(`"my essay"`), now)
	require.NoError(t, err)
	_, err = attempts.SubmitAttempt(attempt.ID, alice.ID, now.Add(time.Minute))
	require.NoError(t, err)

	queue, err := answers.NeedingManualGrade(&exam.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1, "only the short answer needs a human")
	assert.Equal(t, short.ID, queue[0].QuestionID)
	require.NotNil(t, queue[0].Question)
}
