package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Machine-readable error codes carried in every error response. Clients
// branch on these, never on the message text.
const (
	CodeInvalidQuestion     = "INVALID_QUESTION"
	CodeSubscriptionExpired = "SUBSCRIPTION_EXPIRED"
	CodeInsufficientTokens  = "INSUFFICIENT_TOKENS"
	CodeDataLoadError       = "DATA_LOAD_ERROR"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
)

// WriteError standardizes JSON error responses across the API.
func WriteError(c *fiber.Ctx, status int, code, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

// WriteErrorDetails adds a structured details object for errors the client
// acts on programmatically, like a token shortfall.
func WriteErrorDetails(c *fiber.Ctx, status int, code, msg string, details fiber.Map) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   msg,
		"code":    code,
		"details": details,
	})
}
