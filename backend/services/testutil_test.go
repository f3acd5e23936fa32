package services

import (
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"openexam/backend/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second pool connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := models.User{
		Username:     username,
		PasswordHash: "x",
		FullName:     username,
		Status:       models.UserActive,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedGroup(t *testing.T, db *gorm.DB, name string, members ...*models.User) *models.Group {
	t.Helper()
	group := models.Group{Name: name}
	require.NoError(t, db.Create(&group).Error)
	for _, m := range members {
		require.NoError(t, db.Model(&group).Association("Users").Append(m))
	}
	return &group
}

// seedChapter creates a library with one chapter holding n single choice
// questions with canonical answer ["A"].
func seedChapter(t *testing.T, db *gorm.DB, name string, n int) *models.Chapter {
	t.Helper()
	lib := models.QuestionLib{Name: name + " lib", QuestionCount: n}
	require.NoError(t, db.Create(&lib).Error)
	chapter := models.Chapter{QuestionLibID: lib.ID, Name: name}
	require.NoError(t, db.Create(&chapter).Error)
	for i := 0; i < n; i++ {
		q := models.Question{
			ChapterID:    chapter.ID,
			QuestionType: models.SingleChoice,
			Stem:         name + " question",
			Score:        1,
			Options:      datatypes.JSON(`[{"id":"A","text":"a"},{"id":"B","text":"b"}]`),
			Answer:       datatypes.JSON(`["A"]`),
		}
		require.NoError(t, db.Create(&q).Error)
	}
	return &chapter
}

func seedQuestion(t *testing.T, db *gorm.DB, chapterID uint, qt models.QuestionType, answer string, strategy string) *models.Question {
	t.Helper()
	q := models.Question{
		ChapterID:    chapterID,
		QuestionType: qt,
		Stem:         "stem",
		Score:        1,
		Answer:       datatypes.JSON(answer),
	}
	if qt == models.SingleChoice || qt == models.MultipleChoice {
		q.Options = datatypes.JSON(`[{"id":"A","text":"a"},{"id":"B","text":"b"},{"id":"C","text":"c"},{"id":"D","text":"d"}]`)
	}
	if strategy != "" {
		q.GradingStrategy = datatypes.JSON(strategy)
	}
	require.NoError(t, db.Create(&q).Error)
	return &q
}

func seedExam(t *testing.T, db *gorm.DB, mode models.PaperGenerationMode, rules models.RuleSet) *models.Exam {
	t.Helper()
	now := time.Now().UTC()
	exam := models.Exam{
		Name:                "exam",
		StartTime:           now.Add(-time.Hour),
		EndTime:             now.Add(time.Hour),
		DurationMinutes:     30,
		ShowScoreAfterExam:  true,
		PaperGenerationMode: mode,
		Status:              models.ExamDraft,
	}
	if rules != nil {
		raw, err := json.Marshal(rules)
		require.NoError(t, err)
		exam.Rules = datatypes.JSON(raw)
	}
	require.NoError(t, db.Create(&exam).Error)
	return &exam
}

func addParticipant(t *testing.T, db *gorm.DB, examID uint, user *models.User) {
	t.Helper()
	uid := user.ID
	require.NoError(t, db.Create(&models.ExamParticipant{ExamID: examID, UserID: &uid}).Error)
}

func newServices(db *gorm.DB) (*PaperService, *ParticipantService, *AttemptService, *AnswerService, *GradingService) {
	logger := testLogger()
	papers := NewPaperService(db, logger)
	participants := NewParticipantService(db, logger, papers)
	attempts := NewAttemptService(db, logger, participants)
	answers := NewAnswerService(db, logger, attempts)
	grading := NewGradingService(db, logger)
	return papers, participants, attempts, answers, grading
}
