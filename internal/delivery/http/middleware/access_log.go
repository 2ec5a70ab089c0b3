package middleware

import (
	"time"

	"jobpulse/internal/logger"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

type AccessLogMiddleware struct {
	log logger.Logger
}

func NewAccessLogMiddleware(log logger.Logger) *AccessLogMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &AccessLogMiddleware{log: log}
}

func (m *AccessLogMiddleware) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		rid := c.Get(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(HeaderRequestID, rid)
		c.Locals(HeaderRequestID, rid)

		err := c.Next()

		m.log.Info("http access",
			logger.String("rid", rid),
			logger.String("ip", c.IP()),
			logger.String("method", c.Method()),
			logger.String("path", c.OriginalURL()),
			logger.Int("status", c.Response().StatusCode()),
			logger.Duration("latency", time.Since(start)),
			logger.Int("req_bytes", c.Request().Header.ContentLength()),
			logger.Int("resp_bytes", len(c.Response().Body())),
			logger.String("ua", c.Get("User-Agent")),
		)

		return err
	}
}
