package controllers

import (
	"openexam/backend/middleware"
	"openexam/backend/services"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ResultsController struct {
	DB      *gorm.DB
	Results *services.ResultService
}

func NewResultsController(db *gorm.DB, results *services.ResultService) *ResultsController {
	return &ResultsController{DB: db, Results: results}
}

// MyResults lists the caller's completed attempts.
func (rc *ResultsController) MyResults(c *fiber.Ctx) error {
	page, pageSize := pagination(c)
	attempts, err := rc.Results.StudentResults(middleware.UserID(c), pageSize, (page-1)*pageSize)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, attempts)
}

// MyAttemptDetail returns the caller's own attempt with per-answer
// detail, filtered by the exam's visibility flags.
func (rc *ResultsController) MyAttemptDetail(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := rc.Results.AttemptDetail(attemptID, true)
	if err != nil {
		return respondServiceError(c, err)
	}
	if attempt.UserID != middleware.UserID(c) {
		return utils.NotFound(c, "attempt not found")
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}

// ExamResults lists completed attempts of one exam for graders.
func (rc *ResultsController) ExamResults(c *fiber.Ctx) error {
	examID, err := paramID(c, "examId")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	page, pageSize := pagination(c)
	attempts, err := rc.Results.ExamResultsAdmin(examID, pageSize, (page-1)*pageSize)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, attempts)
}

// AttemptDetail returns an attempt with full grading detail for graders.
func (rc *ResultsController) AttemptDetail(c *fiber.Ctx) error {
	attemptID, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	attempt, err := rc.Results.AttemptDetail(attemptID, false)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, attempt)
}
