package controllers

import (
	"encoding/json"
	"strconv"
	"time"

	"openexam/backend/middleware"
	"openexam/backend/models"
	"openexam/backend/services"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExamsController is the admin surface: exam CRUD, manual paper
// definition, participant assignment, publishing and statistics.
// Structural fields are frozen once an exam leaves draft.
type ExamsController struct {
	DB           *gorm.DB
	Papers       *services.PaperService
	Participants *services.ParticipantService
	Grading      *services.GradingService
}

func NewExamsController(db *gorm.DB, papers *services.PaperService, participants *services.ParticipantService, grading *services.GradingService) *ExamsController {
	return &ExamsController{DB: db, Papers: papers, Participants: participants, Grading: grading}
}

type examInput struct {
	Name                 string                     `json:"name" validate:"required,max=255"`
	StartTime            time.Time                  `json:"start_time" validate:"required"`
	EndTime              time.Time                  `json:"end_time" validate:"required"`
	DurationMinutes      int                        `json:"duration_minutes" validate:"required,gt=0"`
	ShowScoreAfterExam   *bool                      `json:"show_score_after_exam,omitempty"`
	ShowAnswersAfterExam *bool                      `json:"show_answers_after_exam,omitempty"`
	PaperGenerationMode  models.PaperGenerationMode `json:"paper_generation_mode" validate:"required"`
	Rules                json.RawMessage            `json:"rules,omitempty"`
}

func validateExamInput(input *examInput) error {
	if !input.EndTime.After(input.StartTime) {
		return fiber.NewError(fiber.StatusBadRequest, "end_time must be after start_time")
	}
	switch input.PaperGenerationMode {
	case models.ModeManual:
		if len(input.Rules) > 0 && string(input.Rules) != "null" {
			return fiber.NewError(fiber.StatusBadRequest, "manual exams take no selection rules")
		}
	case models.ModeRandomUnified, models.ModeRandomIndividual:
		var rules models.RuleSet
		if err := json.Unmarshal(input.Rules, &rules); err != nil || len(rules) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "random exams need a non-empty rule list")
		}
		for i, rule := range rules {
			if len(rule.ChapterIDs) == 0 || rule.Count <= 0 || rule.ScorePerQuestion <= 0 {
				return fiber.NewError(fiber.StatusBadRequest,
					"rule "+strconv.Itoa(i)+" needs chapter_ids, a positive count and a positive score_per_question")
			}
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown paper generation mode")
	}
	return nil
}

func (ec *ExamsController) Create(c *fiber.Ctx) error {
	var input examInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	if err := validateExamInput(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	creatorID := middleware.UserID(c)
	exam := models.Exam{
		Name:                 input.Name,
		StartTime:            input.StartTime,
		EndTime:              input.EndTime,
		DurationMinutes:      input.DurationMinutes,
		ShowScoreAfterExam:   true,
		ShowAnswersAfterExam: false,
		PaperGenerationMode:  input.PaperGenerationMode,
		Status:               models.ExamDraft,
		CreatorID:            &creatorID,
	}
	if input.ShowScoreAfterExam != nil {
		exam.ShowScoreAfterExam = *input.ShowScoreAfterExam
	}
	if input.ShowAnswersAfterExam != nil {
		exam.ShowAnswersAfterExam = *input.ShowAnswersAfterExam
	}
	if len(input.Rules) > 0 && string(input.Rules) != "null" {
		exam.Rules = datatypes.JSON(input.Rules)
	}
	if err := ec.DB.Create(&exam).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Created(c, exam)
}

func (ec *ExamsController) List(c *fiber.Ctx) error {
	page, pageSize := pagination(c)
	query := ec.DB.Model(&models.Exam{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	var exams []models.Exam
	err := query.Order("start_time DESC").Limit(pageSize).Offset((page - 1) * pageSize).Find(&exams).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Paginate(c, exams, total, page, pageSize)
}

func (ec *ExamsController) Get(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var exam models.Exam
	if err := ec.DB.Preload("Questions").Preload("Participants").First(&exam, id).Error; err != nil {
		return utils.NotFound(c, "exam not found")
	}
	return utils.Success(c, fiber.StatusOK, exam)
}

// Update edits a draft exam. Published and later exams only allow the
// result-visibility flags to change.
func (ec *ExamsController) Update(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input examInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}

	var exam models.Exam
	if err := ec.DB.First(&exam, id).Error; err != nil {
		return utils.NotFound(c, "exam not found")
	}

	if exam.Status != models.ExamDraft {
		updates := map[string]interface{}{}
		if input.ShowScoreAfterExam != nil {
			updates["show_score_after_exam"] = *input.ShowScoreAfterExam
		}
		if input.ShowAnswersAfterExam != nil {
			updates["show_answers_after_exam"] = *input.ShowAnswersAfterExam
		}
		if len(updates) == 0 {
			return utils.Error(c, fiber.StatusConflict,
				fiber.NewError(fiber.StatusConflict, "only visibility flags can change after publish"))
		}
		if err := ec.DB.Model(&exam).Updates(updates).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, err)
		}
		return utils.Success(c, fiber.StatusOK, exam)
	}

	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	if err := validateExamInput(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	exam.Name = input.Name
	exam.StartTime = input.StartTime
	exam.EndTime = input.EndTime
	exam.DurationMinutes = input.DurationMinutes
	exam.PaperGenerationMode = input.PaperGenerationMode
	if input.ShowScoreAfterExam != nil {
		exam.ShowScoreAfterExam = *input.ShowScoreAfterExam
	}
	if input.ShowAnswersAfterExam != nil {
		exam.ShowAnswersAfterExam = *input.ShowAnswersAfterExam
	}
	if len(input.Rules) > 0 && string(input.Rules) != "null" {
		exam.Rules = datatypes.JSON(input.Rules)
	} else {
		exam.Rules = nil
	}
	if err := ec.DB.Save(&exam).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, exam)
}

func (ec *ExamsController) Delete(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var exam models.Exam
	if err := ec.DB.First(&exam, id).Error; err != nil {
		return utils.NotFound(c, "exam not found")
	}
	if exam.Status == models.ExamOngoing {
		return utils.Error(c, fiber.StatusConflict,
			fiber.NewError(fiber.StatusConflict, "cannot delete an ongoing exam"))
	}
	err = ec.DB.Transaction(func(tx *gorm.DB) error {
		// Association deletes do not reach papers or answers; sweep them
		// explicitly so an individual-mode exam leaves no rows behind.
		if err := tx.Where("attempt_id IN (?)",
			tx.Model(&models.ExamAttempt{}).Select("id").Where("exam_id = ?", exam.ID),
		).Delete(&models.Answer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("exam_id = ?", exam.ID).Delete(&models.PreGeneratedPaper{}).Error; err != nil {
			return err
		}
		return tx.Select("Questions", "Participants", "Attempts").Delete(&exam).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.NoContent(c)
}

type manualQuestionsInput struct {
	Questions []services.ManualQuestion `json:"questions" validate:"required,min=1,dive"`
}

// SetManualQuestions replaces the manual paper of a draft exam.
func (ec *ExamsController) SetManualQuestions(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input manualQuestionsInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	err = ec.DB.Transaction(func(tx *gorm.DB) error {
		var exam models.Exam
		if err := tx.First(&exam, id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fiber.NewError(fiber.StatusNotFound, "exam not found")
			}
			return err
		}
		if exam.Status != models.ExamDraft {
			return fiber.NewError(fiber.StatusConflict, "paper can only change while the exam is a draft")
		}
		if exam.PaperGenerationMode != models.ModeManual {
			return fiber.NewError(fiber.StatusConflict, "exam is not in manual mode")
		}
		return ec.Papers.SyncManualQuestions(tx, id, input.Questions)
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe)
		}
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"exam_id": id, "question_count": len(input.Questions)})
}

type participantsInput struct {
	UserIDs  []uint `json:"user_ids"`
	GroupIDs []uint `json:"group_ids"`
}

func (ec *ExamsController) SetParticipants(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input participantsInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}

	failures, err := ec.Participants.SyncParticipants(id, input.UserIDs, input.GroupIDs)
	if err != nil {
		return respondServiceError(c, err)
	}
	resolved, err := ec.Participants.ResolveUserIDs(id)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"exam_id":           id,
		"participant_count": len(resolved),
		"paper_failures":    failures,
	})
}

func (ec *ExamsController) Publish(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	exam, failures, err := ec.Papers.PublishExam(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"exam":           exam,
		"paper_failures": failures,
	})
}

type examStatusInput struct {
	Status models.ExamStatus `json:"status" validate:"required"`
}

// SetStatus drives the administrative tail of the exam lifecycle:
// ongoing -> finished -> archived. Draft exams publish through Publish,
// never here.
func (ec *ExamsController) SetStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input examStatusInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}

	var exam models.Exam
	if err := ec.DB.First(&exam, id).Error; err != nil {
		return utils.NotFound(c, "exam not found")
	}
	if !validExamTransition(exam.Status, input.Status) {
		return utils.Error(c, fiber.StatusConflict,
			fiber.NewError(fiber.StatusConflict, "cannot move exam from "+string(exam.Status)+" to "+string(input.Status)))
	}
	if err := ec.DB.Model(&exam).Update("status", input.Status).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, exam)
}

func validExamTransition(from, to models.ExamStatus) bool {
	switch from {
	case models.ExamPublished:
		return to == models.ExamOngoing || to == models.ExamFinished
	case models.ExamOngoing:
		return to == models.ExamFinished
	case models.ExamFinished:
		return to == models.ExamArchived
	}
	return false
}

func (ec *ExamsController) Statistics(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	stats, err := ec.Grading.Statistics(id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, stats)
}
