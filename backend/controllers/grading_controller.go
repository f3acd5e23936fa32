package controllers

import (
	"time"

	"openexam/backend/middleware"
	"openexam/backend/models"
	"openexam/backend/services"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// GradingController is the grader surface: the manual grading queue,
// per-answer grade entry, auto-grading and final score calculation.
type GradingController struct {
	DB       *gorm.DB
	Grading  *services.GradingService
	Answers  *services.AnswerService
	Attempts *services.AttemptService
}

func NewGradingController(db *gorm.DB, grading *services.GradingService, answers *services.AnswerService, attempts *services.AttemptService) *GradingController {
	return &GradingController{DB: db, Grading: grading, Answers: answers, Attempts: attempts}
}

// PendingQueue lists ungraded short-answer responses, optionally for one
// exam.
func (gc *GradingController) PendingQueue(c *fiber.Ctx) error {
	page, pageSize := pagination(c)
	var examID *uint
	if raw := c.QueryInt("exam_id", 0); raw > 0 {
		id := uint(raw)
		examID = &id
	}
	answers, err := gc.Answers.NeedingManualGrade(examID, pageSize, (page-1)*pageSize)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, answers)
}

func (gc *GradingController) AutoGrade(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := gc.Grading.AutoGradeAttempt(attemptID, time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}

func (gc *GradingController) GradeAnswer(c *fiber.Ctx) error {
	answerID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input services.ManualGradeInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	answer, err := gc.Grading.ApplyManualGrade(answerID, input, middleware.UserID(c), time.Now().UTC())
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, answer)
}

// Finalize sums the attempt's answer scores into its final score and
// marks it graded.
func (gc *GradingController) Finalize(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := gc.Grading.CalculateFinalScore(attemptID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}

type attemptStatusInput struct {
	Status models.AttemptStatus `json:"status" validate:"required"`
}

// SetAttemptStatus is the administrative override, mainly used to abort
// a stuck attempt.
func (gc *GradingController) SetAttemptStatus(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input attemptStatusInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	attempt, err := gc.Attempts.UpdateStatus(attemptID, input.Status)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}
