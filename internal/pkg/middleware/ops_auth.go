package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// OpsBasicAuth protects operator endpoints with HTTP basic auth. The password
// is checked against a bcrypt hash. With no user or hash configured every
// request is refused.
func OpsBasicAuth(user, passwordHash string) fiber.Handler {
	user = strings.TrimSpace(user)
	passwordHash = strings.TrimSpace(passwordHash)
	if user == "" || passwordHash == "" {
		log.Warn("[Ops] OPS_USER or OPS_PASSWORD_HASH not set, ops endpoints are disabled")
	}

	return basicauth.New(basicauth.Config{
		Realm: "enrollsync-ops",
		Authorizer: func(u, p string) bool {
			if user == "" || passwordHash == "" {
				return false
			}
			if subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 {
				return false
			}
			return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(p)) == nil
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `basic realm="enrollsync-ops"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		},
	})
}
