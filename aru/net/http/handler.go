package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/impulsar/lib-aru/aru"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHealthTimeout bounds every dependency check run by Health.
const DefaultHealthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health answers 200 {"status":"available"} when every check passes and 503
// with the failing dependencies otherwise.
func Health(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(checks) == 0 {
			return OK(c, fiber.Map{"status": "available"})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), DefaultHealthTimeout)
		defer cancel()

		deps := make(map[string]string, len(checks))
		healthy := true

		for _, hc := range checks {
			if hc.Check == nil {
				continue
			}

			if err := hc.Check(ctx); err != nil {
				deps[hc.Name] = "unavailable"
				healthy = false

				aru.NewLoggerFromContext(ctx).Log(ctx, alog.LevelWarn, "health check failed",
					alog.String("dependency", hc.Name), alog.Err(err))

				continue
			}

			deps[hc.Name] = "available"
		}

		if !healthy {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"status":       "degraded",
				"dependencies": deps,
			})
		}

		return OK(c, fiber.Map{"status": "available", "dependencies": deps})
	}
}

// Version returns HTTP Status 200 with given version.
func Version(version string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return OK(c, fiber.Map{
			"version":     version,
			"requestDate": time.Now().UTC(),
		})
	}
}

// FiberErrorHandler is the fiber.Config ErrorHandler. It marks the request
// span as failed, logs unexpected errors and renders the error body.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	span := trace.SpanFromContext(ctx)
	opentelemetry.HandleSpanError(&span, "handler error", err)

	var fe *fiber.Error
	if !errors.As(err, &fe) {
		aru.NewLoggerFromContext(ctx).Log(ctx, alog.LevelError, "handler error",
			alog.String("method", c.Method()),
			alog.String("path", c.Path()),
			alog.Err(err),
		)
	}

	return RenderError(c, err)
}
