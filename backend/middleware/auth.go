package middleware

import (
	"openexam/backend/config"
	"openexam/backend/models"
	"openexam/backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AuthMiddleware validates the JWT and stores the caller's user id in
// c.Locals("user_id"). Disabled accounts are rejected even with a valid
// token.
func AuthMiddleware(db *gorm.DB, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := utils.ExtractUserIDFromToken(c, cfg)
		if err != nil {
			return utils.Unauthorized(c, "invalid or missing token")
		}

		var user models.User
		if err := db.First(&user, userID).Error; err != nil {
			return utils.Unauthorized(c, "unknown user")
		}
		if user.Status != models.UserActive {
			return utils.Forbidden(c, "account is disabled")
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("user_id").(uint)
	return id
}

// RequirePermission gates a route on a permission code granted through
// the caller's roles.
func RequirePermission(db *gorm.DB, code string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == 0 {
			return utils.Unauthorized(c, "authentication required")
		}

		var count int64
		err := db.Table("permissions").
			Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
			Joins("JOIN user_roles ON user_roles.role_id = role_permissions.role_id").
			Where("user_roles.user_id = ? AND permissions.code = ?", userID, code).
			Count(&count).Error
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, err)
		}
		if count == 0 {
			return utils.Forbidden(c, "missing permission: "+code)
		}
		return c.Next()
	}
}
