package middleware

import (
	"errors"

	"jobpulse/internal/logger"
	"jobpulse/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

type AppError struct {
	StatusCode int
	Message    string
	Data       interface{}
	Cause      error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewAppError(statusCode int, message string, data interface{}, cause error) *AppError {
	return &AppError{StatusCode: statusCode, Message: message, Data: data, Cause: cause}
}

type ErrorMiddleware struct {
	log logger.Logger
}

func NewErrorMiddleware(log logger.Logger) *ErrorMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &ErrorMiddleware{log: log}
}

func (m *ErrorMiddleware) Middleware() fiber.Handler {
	return func(c fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("panic recovered",
					logger.Any("panic", r),
					logger.String("path", c.Path()),
					logger.String("request_id", requestID(c)),
				)
				err = response.Error(c, fiber.StatusInternalServerError, "", nil)
			}
		}()

		err = c.Next()
		if err == nil {
			return nil
		}

		status, msg, data := normalizeError(err)
		if status >= 500 {
			m.log.Error("request failed",
				logger.String("path", c.Path()),
				logger.String("request_id", requestID(c)),
				logger.Error(err),
			)
		}
		return response.Error(c, status, msg, data)
	}
}

// normalizeError maps err to a status, message and payload. Details of 5xx
// errors never reach the client; 503 keeps its status so probes can tell a
// dependency outage from a bug.
func normalizeError(err error) (int, string, interface{}) {
	status, msg, data := fiber.StatusInternalServerError, "", interface{}(nil)

	var appErr *AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		status, msg, data = appErr.StatusCode, appErr.Message, appErr.Data
	case errors.As(err, &fiberErr):
		status, msg = fiberErr.Code, fiberErr.Message
	}

	switch {
	case status <= 0:
		status = fiber.StatusInternalServerError
		msg, data = "", nil
	case status == fiber.StatusServiceUnavailable:
		msg, data = "", nil
	case status >= 500:
		status = fiber.StatusInternalServerError
		msg, data = "", nil
	}
	if msg == "" {
		msg = response.DefaultMessage(status)
	}
	return status, msg, data
}

func requestID(c fiber.Ctx) string {
	if id, ok := c.Locals(HeaderRequestID).(string); ok {
		return id
	}
	return c.Get(HeaderRequestID)
}
