package controllers

import (
	"errors"
	"strconv"

	"openexam/backend/services"
	"openexam/backend/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// respondServiceError maps the service error taxonomy onto HTTP statuses.
func respondServiceError(c *fiber.Ctx, err error) error {
	var ve *services.ValidationError
	var sc *services.StateConflictError
	var nf *services.NotFoundError
	var pg *services.PaperGenerationError

	switch {
	case errors.Is(err, services.ErrAttemptExpired):
		return utils.Error(c, fiber.StatusConflict, err)
	case errors.As(err, &ve):
		return utils.Error(c, fiber.StatusBadRequest, err)
	case errors.As(err, &sc):
		return utils.Error(c, fiber.StatusConflict, err)
	case errors.As(err, &nf):
		return utils.Error(c, fiber.StatusNotFound, err)
	case errors.As(err, &pg):
		return utils.Error(c, fiber.StatusUnprocessableEntity, err)
	default:
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
}

// paramID parses a numeric path parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

// pagination reads page/pageSize query parameters with sane bounds.
func pagination(c *fiber.Ctx) (page, pageSize int) {
	page = c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	pageSize = c.QueryInt("pageSize", 20)
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

// validationDetails flattens validator errors into field -> message.
func validationDetails(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Field()] = "failed on " + fe.Tag()
		}
	}
	return out
}
