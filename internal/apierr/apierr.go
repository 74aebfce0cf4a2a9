// Package apierr renders handler errors as JSON bodies.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Body is the error payload returned to clients.
type Body struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler returns a fiber.ErrorHandler writing {"error": msg}. Errors that are
// not *fiber.Error become a 500 whose detail is logged, not returned.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := http.StatusInternalServerError
		msg := http.StatusText(status)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			msg = fe.Message
		} else if logger != nil {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}

		reqID, _ := c.Locals(fiber.HeaderXRequestID).(string)
		return c.Status(status).JSON(Body{Error: msg, RequestID: reqID})
	}
}
