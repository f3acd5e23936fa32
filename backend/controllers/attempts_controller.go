package controllers

import (
	"encoding/json"
	"time"

	"openexam/backend/middleware"
	"openexam/backend/models"
	"openexam/backend/services"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AttemptsController is the student surface: discovering open exams,
// starting or resuming an attempt, fetching the paper, saving answers,
// heartbeating and submitting. Canonical answers never leave this
// controller.
type AttemptsController struct {
	DB       *gorm.DB
	Attempts *services.AttemptService
	Answers  *services.AnswerService
}

func NewAttemptsController(db *gorm.DB, attempts *services.AttemptService, answers *services.AnswerService) *AttemptsController {
	return &AttemptsController{DB: db, Attempts: attempts, Answers: answers}
}

func (tc *AttemptsController) AvailableExams(c *fiber.Ctx) error {
	exams, err := tc.Attempts.AvailableExams(middleware.UserID(c), time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	for i := range exams {
		exams[i].Rules = nil
	}
	return utils.Success(c, fiber.StatusOK, exams)
}

func (tc *AttemptsController) Start(c *fiber.Ctx) error {
	examID, err := paramID(c, "examId")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := tc.Attempts.StartAttempt(examID, middleware.UserID(c), c.IP(), time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}

// studentQuestion is the answer-key-free projection served to a student
// during an attempt.
type studentQuestion struct {
	QuestionID   uint                `json:"question_id"`
	OrderIndex   int                 `json:"order_index"`
	Score        float64             `json:"score"`
	QuestionType models.QuestionType `json:"question_type"`
	Stem         string              `json:"stem"`
	Options      json.RawMessage     `json:"options,omitempty"`
	UserAnswer   json.RawMessage     `json:"user_answer,omitempty"`
}

// Paper serves the attempt's questions in order with any answers already
// saved, so a reconnecting client can restore its state.
func (tc *AttemptsController) Paper(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	now := time.Now().UTC()
	userID := middleware.UserID(c)

	attempt, err := tc.Attempts.ActiveAttempt(tc.DB, attemptID, userID, now)
	if err != nil {
		return respondServiceError(c, err)
	}
	paper, err := tc.Attempts.GetPaper(attempt)
	if err != nil {
		return respondServiceError(c, err)
	}
	answers, err := tc.Answers.ForAttempt(attemptID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	saved := make(map[uint]json.RawMessage, len(answers))
	for _, a := range answers {
		saved[a.QuestionID] = json.RawMessage(a.UserAnswer)
	}

	out := make([]studentQuestion, 0, len(paper))
	for _, pq := range paper {
		sq := studentQuestion{
			QuestionID: pq.QuestionID,
			OrderIndex: pq.OrderIndex,
			Score:      pq.Score,
			UserAnswer: saved[pq.QuestionID],
		}
		if pq.Question != nil {
			sq.QuestionType = pq.Question.QuestionType
			sq.Stem = pq.Question.Stem
			sq.Options = json.RawMessage(pq.Question.Options)
		}
		out = append(out, sq)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"attempt":   attempt,
		"questions": out,
	})
}

type saveAnswerInput struct {
	QuestionID uint            `json:"question_id" validate:"required"`
	UserAnswer json.RawMessage `json:"user_answer" validate:"required"`
}

func (tc *AttemptsController) SaveAnswer(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input saveAnswerInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	answer, err := tc.Answers.Save(attemptID, middleware.UserID(c), input.QuestionID, input.UserAnswer, time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, answer)
}

func (tc *AttemptsController) Heartbeat(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	alive, err := tc.Attempts.Heartbeat(attemptID, middleware.UserID(c), time.Now().UTC())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"alive": alive})
}

func (tc *AttemptsController) Submit(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := tc.Attempts.SubmitAttempt(attemptID, middleware.UserID(c), time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}
