package services

import (
	"testing"
	"time"

	"openexam/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultVisibilityFlags(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, grading := newServices(db)
	results := NewResultService(db, testLogger())

	chapter := seedChapter(t, db, "visibility", 0)
	q := seedQuestion(t, db, chapter.ID, models.SingleChoice, `["A"]`, "")

	exam := seedExam(t, db, models.ModeManual, nil)
	require.NoError(t, papers.SyncManualQuestions(db, exam.ID, []ManualQuestion{
		{QuestionID: q.ID, Score: 10, OrderIndex: 0},
	}))
	require.NoError(t, db.Model(exam).Update("show_answers_after_exam", false).Error)
	_, _, err := papers.PublishExam(exam.ID)
	require.NoError(t, err)

	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()
	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)
	_, err = answers.Save(attempt.ID, alice.ID, q.ID, []byte(`["A"]`), now)
	require.NoError(t, err)
	_, err = attempts.SubmitAttempt(attempt.ID, alice.ID, now.Add(time.Minute))
	require.NoError(t, err)
	_, err = grading.AutoGradeAttempt(attempt.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = grading.CalculateFinalScore(attempt.ID)
	require.NoError(t, err)

	t.Run("student list shows score when allowed", func(t *testing.T) {
		list, err := results.StudentResults(alice.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].FinalScore)
		assert.Equal(t, 10.0, *list[0].FinalScore)
	})

	t.Run("student detail strips canonical answers", func(t *testing.T) {
		detail, err := results.AttemptDetail(attempt.ID, true)
		require.NoError(t, err)
		require.Len(t, detail.Answers, 1)
		require.NotNil(t, detail.Answers[0].Question)
		assert.Empty(t, detail.Answers[0].Question.Answer)
		assert.Empty(t, detail.Answers[0].Question.Explanation)
	})

	t.Run("grader detail keeps canonical answers", func(t *testing.T) {
		detail, err := results.AttemptDetail(attempt.ID, false)
		require.NoError(t, err)
		require.Len(t, detail.Answers, 1)
		require.NotNil(t, detail.Answers[0].Question)
		assert.NotEmpty(t, detail.Answers[0].Question.Answer)
	})

	t.Run("hidden score is blanked for the student", func(t *testing.T) {
		require.NoError(t, db.Model(&models.Exam{}).Where("id = ?", exam.ID).
			Update("show_score_after_exam", false).Error)

		list, err := results.StudentResults(alice.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Nil(t, list[0].FinalScore)

		detail, err := results.AttemptDetail(attempt.ID, true)
		require.NoError(t, err)
		assert.Nil(t, detail.FinalScore)
		assert.Nil(t, detail.Answers[0].Score)
	})

	t.Run("admin roster includes the attempt", func(t *testing.T) {
		list, err := results.ExamResultsAdmin(exam.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].User)
		assert.Equal(t, "alice", list[0].User.Username)
	})
}
