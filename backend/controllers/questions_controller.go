package controllers

import (
	"encoding/json"

	"openexam/backend/models"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// QuestionsController manages the question catalog: libraries, chapters
// and questions. Library question counts are maintained on every create
// and delete, and a question referenced by any paper or answer cannot be
// deleted.
type QuestionsController struct {
	DB *gorm.DB
}

func NewQuestionsController(db *gorm.DB) *QuestionsController {
	return &QuestionsController{DB: db}
}

// --- Question libraries ---

type libInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

func (qc *QuestionsController) CreateLib(c *fiber.Ctx) error {
	var input libInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	lib := models.QuestionLib{Name: input.Name, Description: input.Description}
	if err := qc.DB.Create(&lib).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Created(c, lib)
}

func (qc *QuestionsController) ListLibs(c *fiber.Ctx) error {
	page, pageSize := pagination(c)
	var total int64
	if err := qc.DB.Model(&models.QuestionLib{}).Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	var libs []models.QuestionLib
	err := qc.DB.Order("id").Limit(pageSize).Offset((page - 1) * pageSize).Find(&libs).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Paginate(c, libs, total, page, pageSize)
}

func (qc *QuestionsController) GetLib(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var lib models.QuestionLib
	if err := qc.DB.Preload("Chapters").First(&lib, id).Error; err != nil {
		return utils.NotFound(c, "question library not found")
	}
	return utils.Success(c, fiber.StatusOK, lib)
}

func (qc *QuestionsController) UpdateLib(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input libInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	var lib models.QuestionLib
	if err := qc.DB.First(&lib, id).Error; err != nil {
		return utils.NotFound(c, "question library not found")
	}
	lib.Name = input.Name
	lib.Description = input.Description
	if err := qc.DB.Save(&lib).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, lib)
}

func (qc *QuestionsController) DeleteLib(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var refs int64
	err = qc.DB.Model(&models.ExamQuestion{}).
		Joins("JOIN questions ON questions.id = exam_questions.question_id").
		Joins("JOIN chapters ON chapters.id = questions.chapter_id").
		Where("chapters.question_lib_id = ?", id).
		Count(&refs).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	if refs > 0 {
		return utils.Error(c, fiber.StatusConflict,
			fiber.NewError(fiber.StatusConflict, "library contains questions referenced by exam papers"))
	}
	if err := qc.DB.Delete(&models.QuestionLib{}, id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.NoContent(c)
}

// --- Chapters ---

type chapterInput struct {
	QuestionLibID uint   `json:"question_lib_id" validate:"required"`
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description"`
	OrderIndex    int    `json:"order_index" validate:"gte=0"`
}

func (qc *QuestionsController) CreateChapter(c *fiber.Ctx) error {
	var input chapterInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	var lib models.QuestionLib
	if err := qc.DB.First(&lib, input.QuestionLibID).Error; err != nil {
		return utils.NotFound(c, "question library not found")
	}
	chapter := models.Chapter{
		QuestionLibID: input.QuestionLibID,
		Name:          input.Name,
		Description:   input.Description,
		OrderIndex:    input.OrderIndex,
	}
	if err := qc.DB.Create(&chapter).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Created(c, chapter)
}

func (qc *QuestionsController) ListChapters(c *fiber.Ctx) error {
	libID, err := paramID(c, "libId")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var chapters []models.Chapter
	err = qc.DB.Where("question_lib_id = ?", libID).Order("order_index, id").Find(&chapters).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, chapters)
}

func (qc *QuestionsController) DeleteChapter(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	err = qc.DB.Transaction(func(tx *gorm.DB) error {
		var chapter models.Chapter
		if err := tx.First(&chapter, id).Error; err != nil {
			return err
		}
		var questionCount int64
		if err := tx.Model(&models.Question{}).Where("chapter_id = ?", id).Count(&questionCount).Error; err != nil {
			return err
		}
		var refs int64
		err := tx.Model(&models.ExamQuestion{}).
			Joins("JOIN questions ON questions.id = exam_questions.question_id").
			Where("questions.chapter_id = ?", id).
			Count(&refs).Error
		if err != nil {
			return err
		}
		if refs > 0 {
			return fiber.NewError(fiber.StatusConflict, "chapter contains questions referenced by exam papers")
		}
		if err := tx.Where("chapter_id = ?", id).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Chapter{}, id).Error; err != nil {
			return err
		}
		return tx.Model(&models.QuestionLib{}).Where("id = ?", chapter.QuestionLibID).
			Update("question_count", gorm.Expr("question_count - ?", questionCount)).Error
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe)
		}
		if err == gorm.ErrRecordNotFound {
			return utils.NotFound(c, "chapter not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.NoContent(c)
}

// --- Questions ---

type questionInput struct {
	ChapterID       uint                    `json:"chapter_id" validate:"required"`
	QuestionType    models.QuestionType     `json:"question_type" validate:"required"`
	Stem            string                  `json:"stem" validate:"required"`
	Score           float64                 `json:"score" validate:"gt=0"`
	Options         []models.QuestionOption `json:"options,omitempty"`
	Answer          json.RawMessage         `json:"answer"`
	GradingStrategy json.RawMessage         `json:"grading_strategy,omitempty"`
	Explanation     string                  `json:"explanation,omitempty"`
}

// validateQuestionInput enforces the shape rules per question type:
// choice questions need at least two options and answers drawn from the
// option ids, fill-in-blank needs one answer string per blank, short
// answer takes an optional model answer string.
func validateQuestionInput(input *questionInput) error {
	switch input.QuestionType {
	case models.SingleChoice, models.MultipleChoice:
		if len(input.Options) < 2 {
			return fiber.NewError(fiber.StatusBadRequest, "choice questions need at least 2 options")
		}
		var answer []string
		if err := json.Unmarshal(input.Answer, &answer); err != nil || len(answer) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "answer must be a non-empty list of option ids")
		}
		optionIDs := make(map[string]bool, len(input.Options))
		for _, opt := range input.Options {
			if opt.ID == "" {
				return fiber.NewError(fiber.StatusBadRequest, "option id cannot be empty")
			}
			if optionIDs[opt.ID] {
				return fiber.NewError(fiber.StatusBadRequest, "duplicate option id "+opt.ID)
			}
			optionIDs[opt.ID] = true
		}
		for _, id := range answer {
			if !optionIDs[id] {
				return fiber.NewError(fiber.StatusBadRequest, "answer id "+id+" does not match any option")
			}
		}
		if input.QuestionType == models.SingleChoice && len(answer) != 1 {
			return fiber.NewError(fiber.StatusBadRequest, "single choice questions must have exactly one answer")
		}
	case models.FillInBlank:
		if len(input.Options) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "fill-in-blank questions cannot have options")
		}
		var answer []string
		if err := json.Unmarshal(input.Answer, &answer); err != nil || len(answer) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "answer must be a non-empty list of strings, one per blank")
		}
	case models.ShortAnswer:
		if len(input.Options) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "short answer questions cannot have options")
		}
		if len(input.Answer) > 0 && string(input.Answer) != "null" {
			var answer string
			if err := json.Unmarshal(input.Answer, &answer); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "answer must be a model answer string or null")
			}
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown question type")
	}
	return nil
}

func (qc *QuestionsController) CreateQuestion(c *fiber.Ctx) error {
	var input questionInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	if err := validateQuestionInput(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	var question models.Question
	err := qc.DB.Transaction(func(tx *gorm.DB) error {
		var chapter models.Chapter
		if err := tx.First(&chapter, input.ChapterID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "chapter not found")
		}

		options, _ := json.Marshal(input.Options)
		question = models.Question{
			ChapterID:       input.ChapterID,
			QuestionType:    input.QuestionType,
			Stem:            input.Stem,
			Score:           input.Score,
			Answer:          datatypes.JSON(input.Answer),
			GradingStrategy: datatypes.JSON(input.GradingStrategy),
			Explanation:     input.Explanation,
		}
		if len(input.Options) > 0 {
			question.Options = datatypes.JSON(options)
		}
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
		return tx.Model(&models.QuestionLib{}).Where("id = ?", chapter.QuestionLibID).
			Update("question_count", gorm.Expr("question_count + 1")).Error
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe)
		}
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Created(c, question)
}

func (qc *QuestionsController) ListQuestions(c *fiber.Ctx) error {
	page, pageSize := pagination(c)
	query := qc.DB.Model(&models.Question{})
	if chapterID := c.QueryInt("chapter_id", 0); chapterID > 0 {
		query = query.Where("chapter_id = ?", chapterID)
	}
	if qt := c.Query("question_type"); qt != "" {
		query = query.Where("question_type = ?", qt)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	var questions []models.Question
	err := query.Order("id").Limit(pageSize).Offset((page - 1) * pageSize).Find(&questions).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Paginate(c, questions, total, page, pageSize)
}

func (qc *QuestionsController) GetQuestion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var question models.Question
	if err := qc.DB.First(&question, id).Error; err != nil {
		return utils.NotFound(c, "question not found")
	}
	return utils.Success(c, fiber.StatusOK, question)
}

func (qc *QuestionsController) UpdateQuestion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}
	var input questionInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}
	if err := validateQuestionInput(&input); err != nil {
		return utils.BadRequest(c, err.Error())
	}

	var question models.Question
	if err := qc.DB.First(&question, id).Error; err != nil {
		return utils.NotFound(c, "question not found")
	}
	// chapter_id changes are ignored: moving a question between chapters
	// would silently change random-rule pools.
	question.QuestionType = input.QuestionType
	question.Stem = input.Stem
	question.Score = input.Score
	question.Answer = datatypes.JSON(input.Answer)
	question.GradingStrategy = datatypes.JSON(input.GradingStrategy)
	question.Explanation = input.Explanation
	if len(input.Options) > 0 {
		options, _ := json.Marshal(input.Options)
		question.Options = datatypes.JSON(options)
	} else {
		question.Options = nil
	}
	if err := qc.DB.Save(&question).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, question)
}

// DeleteQuestion removes a question unless any exam paper or stored
// answer still references it.
func (qc *QuestionsController) DeleteQuestion(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.BadRequest(c, err.Error())
	}

	err = qc.DB.Transaction(func(tx *gorm.DB) error {
		var question models.Question
		if err := tx.First(&question, id).Error; err != nil {
			return err
		}

		refCounts := []struct {
			model interface{}
			label string
		}{
			{&models.ExamQuestion{}, "an exam paper"},
			{&models.PreGeneratedPaper{}, "an individual paper"},
			{&models.Answer{}, "a stored answer"},
		}
		for _, ref := range refCounts {
			var count int64
			if err := tx.Model(ref.model).Where("question_id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fiber.NewError(fiber.StatusConflict, "question is referenced by "+ref.label)
			}
		}

		var chapter models.Chapter
		if err := tx.First(&chapter, question.ChapterID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Question{}, id).Error; err != nil {
			return err
		}
		return tx.Model(&models.QuestionLib{}).Where("id = ?", chapter.QuestionLibID).
			Update("question_count", gorm.Expr("question_count - 1")).Error
	})
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			return utils.Error(c, fe.Code, fe)
		}
		if err == gorm.ErrRecordNotFound {
			return utils.NotFound(c, "question not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.NoContent(c)
}
