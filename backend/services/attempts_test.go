package services

import (
	"testing"
	"time"

	"openexam/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func publishManualExam(t *testing.T, db *gorm.DB, papers *PaperService, questionCount int) (*models.Exam, []uint) {
	t.Helper()
	chapter := seedChapter(t, db, "attempts", questionCount)
	var ids []uint
	require.NoError(t, db.Model(&models.Question{}).Where("chapter_id = ?", chapter.ID).Order("id").Pluck("id", &ids).Error)

	exam := seedExam(t, db, models.ModeManual, nil)
	manual := make([]ManualQuestion, 0, len(ids))
	for i, id := range ids {
		manual = append(manual, ManualQuestion{QuestionID: id, Score: 5, OrderIndex: i})
	}
	require.NoError(t, papers.SyncManualQuestions(db, exam.ID, manual))
	_, _, err := papers.PublishExam(exam.ID)
	require.NoError(t, err)
	require.NoError(t, db.First(exam, exam.ID).Error)
	return exam, ids
}

func TestStartAttemptLifecycle(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 2)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)

	now := time.Now().UTC()
	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "10.0.0.1", now)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
	require.NotNil(t, attempt.CalculatedEndTime)
	assert.Equal(t, now.Add(30*time.Minute), *attempt.CalculatedEndTime)
	assert.Equal(t, "10.0.0.1", attempt.IPAddress)

	// first start moves the exam to ongoing
	var exam2 models.Exam
	require.NoError(t, db.First(&exam2, exam.ID).Error)
	assert.Equal(t, models.ExamOngoing, exam2.Status)

	// starting again resumes with the original deadline
	resumed, err := attempts.StartAttempt(exam.ID, alice.ID, "10.0.0.2", now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, resumed.ID)
	require.NotNil(t, resumed.CalculatedEndTime)
	assert.Equal(t, *attempt.CalculatedEndTime, *resumed.CalculatedEndTime)
}

func TestStartAttemptGuards(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 2)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	t.Run("non participant rejected", func(t *testing.T) {
		mallory := seedUser(t, db, "mallory")
		_, err := attempts.StartAttempt(exam.ID, mallory.ID, "", now)
		var sc *StateConflictError
		require.ErrorAs(t, err, &sc)
	})

	t.Run("window closed rejected", func(t *testing.T) {
		_, err := attempts.StartAttempt(exam.ID, alice.ID, "", exam.EndTime.Add(time.Minute))
		var sc *StateConflictError
		require.ErrorAs(t, err, &sc)
	})

	t.Run("terminal attempt cannot restart", func(t *testing.T) {
		attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
		require.NoError(t, err)
		_, err = attempts.SubmitAttempt(attempt.ID, alice.ID, now.Add(time.Minute))
		require.NoError(t, err)

		_, err = attempts.StartAttempt(exam.ID, alice.ID, "", now.Add(2*time.Minute))
		var sc *StateConflictError
		require.ErrorAs(t, err, &sc)

		// a completed exam no longer shows up as available
		available, err := attempts.AvailableExams(alice.ID, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, available)
	})
}

func TestHeartbeatOnlyWhileInProgress(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	alive, err := attempts.Heartbeat(attempt.ID, alice.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, alive)

	_, err = attempts.SubmitAttempt(attempt.ID, alice.ID, now.Add(2*time.Minute))
	require.NoError(t, err)

	alive, err = attempts.Heartbeat(attempt.ID, alice.ID, now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestLateSubmissionAccepted(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	late := now.Add(45 * time.Minute) // 15 minutes past the deadline
	submitted, err := attempts.SubmitAttempt(attempt.ID, alice.ID, late)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmitTime)
	assert.Equal(t, late, *submitted.SubmitTime)
}

func TestExpiredAttemptRejectsActivity(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, answers, _ := newServices(db)

	exam, ids := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	expired := now.Add(31 * time.Minute)
	_, err = attempts.ActiveAttempt(db, attempt.ID, alice.ID, expired)
	require.ErrorIs(t, err, ErrAttemptExpired)

	_, err = answers.Save(attempt.ID, alice.ID, ids[0], []byte(`["A"]`), expired)
	require.ErrorIs(t, err, ErrAttemptExpired)
}

func TestGetPaperOrdering(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, ids := publishManualExam(t, db, papers, 3)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	paper, err := attempts.GetPaper(attempt)
	require.NoError(t, err)
	require.Len(t, paper, 3)
	for i, pq := range paper {
		assert.Equal(t, i, pq.OrderIndex)
		assert.Equal(t, ids[i], pq.QuestionID)
		require.NotNil(t, pq.Question)
	}
}

func TestAdminStatusOverride(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)
	now := time.Now().UTC()

	attempt, err := attempts.StartAttempt(exam.ID, alice.ID, "", now)
	require.NoError(t, err)

	aborted, err := attempts.UpdateStatus(attempt.ID, models.AttemptAborted)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptAborted, aborted.Status)

	_, err = attempts.UpdateStatus(attempt.ID, models.AttemptInProgress)
	var sc *StateConflictError
	require.ErrorAs(t, err, &sc)
}

func TestGetOrCreatePendingIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)

	first, err := attempts.GetOrCreatePending(db, exam.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, first.Status)

	// a second call resolves to the existing row instead of inserting
	second, err := attempts.GetOrCreatePending(db, exam.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.ExamAttempt{}).
		Where("exam_id = ? AND user_id = ?", exam.ID, alice.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAvailableExamsWaitsForWindowOpen(t *testing.T) {
	db := newTestDB(t)
	papers, _, attempts, _, _ := newServices(db)

	exam, _ := publishManualExam(t, db, papers, 1)
	alice := seedUser(t, db, "alice")
	addParticipant(t, db, exam.ID, alice)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.Exam{}).Where("id = ?", exam.ID).
		Update("start_time", now.Add(30*time.Minute)).Error)

	available, err := attempts.AvailableExams(alice.ID, now)
	require.NoError(t, err)
	assert.Empty(t, available, "exam must stay hidden until its window opens")

	available, err = attempts.AvailableExams(alice.ID, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Len(t, available, 1)
}
