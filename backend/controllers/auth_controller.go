package controllers

import (
	"openexam/backend/config"
	"openexam/backend/middleware"
	"openexam/backend/models"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthController struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewAuthController(db *gorm.DB, cfg *config.Config) *AuthController {
	return &AuthController{DB: db, Cfg: cfg}
}

type registerInput struct {
	Username string  `json:"username" validate:"required,min=3,max=100"`
	Password string  `json:"password" validate:"required,min=6,max=72"`
	FullName string  `json:"full_name" validate:"required,max=100"`
	IDNumber *string `json:"id_number,omitempty" validate:"omitempty,max=50"`
}

type loginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var input registerInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}

	user := models.User{
		Username:     input.Username,
		PasswordHash: string(hash),
		FullName:     input.FullName,
		IDNumber:     input.IDNumber,
		Status:       models.UserActive,
	}
	if err := ac.DB.Create(&user).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, fiber.NewError(fiber.StatusConflict, "username already taken"))
	}
	return utils.Created(c, user)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var input loginInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}
	if err := validate.Struct(input); err != nil {
		return utils.ValidationError(c, validationDetails(err))
	}

	var user models.User
	if err := ac.DB.Where("username = ?", input.Username).First(&user).Error; err != nil {
		return utils.Unauthorized(c, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return utils.Unauthorized(c, "invalid credentials")
	}
	if user.Status != models.UserActive {
		return utils.Forbidden(c, "account is disabled")
	}

	token, err := utils.GenerateJWTToken(user.ID, ac.Cfg)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (ac *AuthController) Me(c *fiber.Ctx) error {
	var user models.User
	err := ac.DB.Preload("Roles.Permissions").Preload("Groups").
		First(&user, middleware.UserID(c)).Error
	if err != nil {
		return utils.NotFound(c, "user not found")
	}
	return utils.Success(c, fiber.StatusOK, user)
}
