package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"openexam/backend/config"
	"openexam/backend/models"
	"openexam/backend/routes"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testAPI struct {
	app *fiber.App
	db  *gorm.DB
	cfg *config.Config
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))

	cfg := &config.Config{JWTSecret: "testsecret", ServerPort: "8080"}
	app := fiber.New()
	routes.SetupRoutes(app, db, cfg, log.New(io.Discard, "", 0))

	t.Cleanup(func() { sqlDB.Close() })
	return &testAPI{app: app, db: db, cfg: cfg}
}

func (a *testAPI) request(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

// grantAll gives the user a role carrying every platform permission.
func grantAll(t *testing.T, db *gorm.DB, username string) {
	t.Helper()
	var user models.User
	require.NoError(t, db.Where("username = ?", username).First(&user).Error)

	role := models.Role{Code: "admin-" + username, Name: "Admin"}
	require.NoError(t, db.Create(&role).Error)
	for _, code := range []string{"manage_questions", "manage_exams", "grade_exams", "view_all_results"} {
		perm := models.Permission{Code: code, Name: code}
		if err := db.Where("code = ?", code).First(&perm).Error; err != nil {
			require.NoError(t, db.Create(&perm).Error)
		}
		require.NoError(t, db.Model(&role).Association("Permissions").Append(&perm))
	}
	require.NoError(t, db.Model(&user).Association("Roles").Append(&role))
}

func register(t *testing.T, api *testAPI, username string) string {
	t.Helper()
	resp, _ := api.request(t, "POST", "/api/auth/register", "", fiber.Map{
		"username":  username,
		"password":  "secret123",
		"full_name": username,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := api.request(t, "POST", "/api/auth/login", "", fiber.Map{
		"username": username,
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	return data["token"].(string)
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)

	token := register(t, api, "alice")

	resp, body := api.request(t, "GET", "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["username"])

	resp, _ = api.request(t, "GET", "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = api.request(t, "POST", "/api/auth/login", "", fiber.Map{
		"username": "alice",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPermissionGate(t *testing.T) {
	api := newTestAPI(t)
	token := register(t, api, "student")

	resp, _ := api.request(t, "POST", "/api/question-libs/", token, fiber.Map{"name": "lib"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	grantAll(t, api.db, "student")
	resp, _ = api.request(t, "POST", "/api/question-libs/", token, fiber.Map{"name": "lib"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

// TestExamRoundTrip drives one manual-mode exam end to end over HTTP:
// catalog setup, exam creation, publish, taking, grading, results.
func TestExamRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	adminToken := register(t, api, "admin")
	grantAll(t, api.db, "admin")
	studentToken := register(t, api, "student")

	var student models.User
	require.NoError(t, api.db.Where("username = ?", "student").First(&student).Error)

	// catalog
	resp, body := api.request(t, "POST", "/api/question-libs/", adminToken, fiber.Map{"name": "math"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	libID := body["data"].(map[string]interface{})["id"].(float64)

	resp, body = api.request(t, "POST", "/api/chapters/", adminToken, fiber.Map{
		"question_lib_id": libID,
		"name":            "algebra",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chapterID := body["data"].(map[string]interface{})["id"].(float64)

	resp, body = api.request(t, "POST", "/api/questions/", adminToken, fiber.Map{
		"chapter_id":    chapterID,
		"question_type": "single_choice",
		"stem":          "2+2?",
		"score":         5,
		"options": []fiber.Map{
			{"id": "A", "text": "3"},
			{"id": "B", "text": "4"},
		},
		"answer": []string{"B"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	questionID := body["data"].(map[string]interface{})["id"].(float64)

	// exam
	now := time.Now().UTC()
	resp, body = api.request(t, "POST", "/api/exams/", adminToken, fiber.Map{
		"name":                  "midterm",
		"start_time":            now.Add(-time.Hour).Format(time.RFC3339),
		"end_time":              now.Add(time.Hour).Format(time.RFC3339),
		"duration_minutes":      30,
		"paper_generation_mode": "manual",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	examID := body["data"].(map[string]interface{})["id"].(float64)
	examPath := fmt.Sprintf("/api/exams/%.0f", examID)

	resp, _ = api.request(t, "PUT", examPath+"/questions", adminToken, fiber.Map{
		"questions": []fiber.Map{
			{"question_id": questionID, "score": 5, "order_index": 0},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.request(t, "PUT", examPath+"/participants", adminToken, fiber.Map{
		"user_ids": []uint{student.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.request(t, "POST", examPath+"/publish", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// student takes the exam
	resp, body = api.request(t, "GET", "/api/student/exams", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["data"].([]interface{}), 1)

	resp, body = api.request(t, "POST", fmt.Sprintf("/api/student/exams/%.0f/start", examID), studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attemptID := body["data"].(map[string]interface{})["id"].(float64)
	attemptPath := fmt.Sprintf("/api/student/attempts/%.0f", attemptID)

	resp, body = api.request(t, "GET", attemptPath+"/paper", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	questions := body["data"].(map[string]interface{})["questions"].([]interface{})
	require.Len(t, questions, 1)
	_, hasAnswerKey := questions[0].(map[string]interface{})["answer"]
	assert.False(t, hasAnswerKey, "paper must not leak the canonical answer")

	resp, _ = api.request(t, "POST", attemptPath+"/answers", studentToken, fiber.Map{
		"question_id": questionID,
		"user_answer": []string{"B"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.request(t, "POST", attemptPath+"/heartbeat", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.request(t, "POST", attemptPath+"/submit", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// grading
	gradingPath := fmt.Sprintf("/api/grading/attempts/%.0f", attemptID)
	resp, _ = api.request(t, "POST", gradingPath+"/auto", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = api.request(t, "POST", gradingPath+"/finalize", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5.0, body["data"].(map[string]interface{})["final_score"])

	// results
	resp, body = api.request(t, "GET", "/api/student/results", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["data"].([]interface{}), 1)

	resp, body = api.request(t, "GET", examPath+"/statistics", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := body["data"].(map[string]interface{})
	assert.Equal(t, 1.0, stats["participant_count"])
	assert.Equal(t, 5.0, stats["max_score_possible"])
}

// TestDeleteExamCleansGeneratedData deletes a taken random_individual
// exam and checks that no paper, attempt or answer rows are left behind.
func TestDeleteExamCleansGeneratedData(t *testing.T) {
	api := newTestAPI(t)
	adminToken := register(t, api, "admin")
	grantAll(t, api.db, "admin")
	studentToken := register(t, api, "student")

	var student models.User
	require.NoError(t, api.db.Where("username = ?", "student").First(&student).Error)

	lib := models.QuestionLib{Name: "pool"}
	require.NoError(t, api.db.Create(&lib).Error)
	chapter := models.Chapter{QuestionLibID: lib.ID, Name: "ch"}
	require.NoError(t, api.db.Create(&chapter).Error)
	for i := 0; i < 3; i++ {
		q := models.Question{
			ChapterID:    chapter.ID,
			QuestionType: models.SingleChoice,
			Stem:         fmt.Sprintf("q%d", i),
			Score:        2,
			Options:      datatypes.JSON(`[{"id":"A","text":"a"},{"id":"B","text":"b"}]`),
			Answer:       datatypes.JSON(`["A"]`),
		}
		require.NoError(t, api.db.Create(&q).Error)
	}

	now := time.Now().UTC()
	resp, body := api.request(t, "POST", "/api/exams/", adminToken, fiber.Map{
		"name":                  "quiz",
		"start_time":            now.Add(-time.Hour).Format(time.RFC3339),
		"end_time":              now.Add(time.Hour).Format(time.RFC3339),
		"duration_minutes":      30,
		"paper_generation_mode": "random_individual",
		"rules": []fiber.Map{
			{"chapter_ids": []uint{chapter.ID}, "count": 2, "score_per_question": 2},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	examID := body["data"].(map[string]interface{})["id"].(float64)
	examPath := fmt.Sprintf("/api/exams/%.0f", examID)

	resp, _ = api.request(t, "PUT", examPath+"/participants", adminToken, fiber.Map{
		"user_ids": []uint{student.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = api.request(t, "POST", examPath+"/publish", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var papers int64
	require.NoError(t, api.db.Model(&models.PreGeneratedPaper{}).Where("exam_id = ?", examID).Count(&papers).Error)
	require.Equal(t, int64(2), papers)

	resp, body = api.request(t, "POST", fmt.Sprintf("/api/student/exams/%.0f/start", examID), studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attemptID := body["data"].(map[string]interface{})["id"].(float64)
	attemptPath := fmt.Sprintf("/api/student/attempts/%.0f", attemptID)

	resp, body = api.request(t, "GET", attemptPath+"/paper", studentToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	questions := body["data"].(map[string]interface{})["questions"].([]interface{})
	firstQuestion := questions[0].(map[string]interface{})["question_id"].(float64)

	resp, _ = api.request(t, "POST", attemptPath+"/answers", studentToken, fiber.Map{
		"question_id": firstQuestion,
		"user_answer": []string{"A"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// an ongoing exam refuses deletion
	resp, _ = api.request(t, "DELETE", examPath, adminToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = api.request(t, "PUT", examPath+"/status", adminToken, fiber.Map{"status": "finished"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = api.request(t, "DELETE", examPath, adminToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var attempts, answers, participants int64
	require.NoError(t, api.db.Model(&models.PreGeneratedPaper{}).Where("exam_id = ?", examID).Count(&papers).Error)
	require.NoError(t, api.db.Model(&models.ExamAttempt{}).Where("exam_id = ?", examID).Count(&attempts).Error)
	require.NoError(t, api.db.Model(&models.Answer{}).Where("attempt_id = ?", attemptID).Count(&answers).Error)
	require.NoError(t, api.db.Model(&models.ExamParticipant{}).Where("exam_id = ?", examID).Count(&participants).Error)
	assert.Zero(t, papers, "paper rows must be removed with the exam")
	assert.Zero(t, attempts)
	assert.Zero(t, answers)
	assert.Zero(t, participants)
}
