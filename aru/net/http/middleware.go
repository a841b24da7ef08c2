package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/auth"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HeaderRequestID carries the correlation id of a request.
	HeaderRequestID = "X-Request-Id"

	maxRequestIDLength = 128
	identityLocal      = "aru.identity"
	bearerScheme       = "Bearer"
)

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// WithRequestID reuses the caller's X-Request-Id or generates one, echoes it
// on the response and stores it in the request context.
func WithRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(HeaderRequestID))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		c.Set(HeaderRequestID, requestID)
		c.SetUserContext(aru.ContextWithRequestID(c.UserContext(), requestID))

		return c.Next()
	}
}

// WithTelemetry continues the caller's trace and wraps the request in a
// server span.
func WithTelemetry(tracer trace.Tracer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := opentelemetry.ExtractHTTPContext(c)
		ctx = aru.ContextWithTracer(ctx, tracer)

		ctx, span := tracer.Start(ctx, c.Method()+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(
			attribute.String("http.request.method", c.Method()),
			attribute.String("url.path", c.Path()),
			attribute.Int("http.response.status_code", status),
		)

		if err != nil {
			opentelemetry.HandleSpanError(&span, "handler error", err)
		}

		return err
	}
}

// WithHTTPLogging puts a request-scoped logger in the context and writes one
// access log entry per request. /health is not logged.
func WithHTTPLogging(logger alog.Logger) fiber.Handler {
	if logger == nil {
		logger = alog.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" {
			return c.Next()
		}

		start := time.Now()
		ctx := c.UserContext()

		requestLogger := logger.With(alog.String("request_id", aru.RequestIDFromContext(ctx)))
		ctx = aru.ContextWithLogger(ctx, requestLogger)
		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		requestLogger.Log(ctx, alog.LevelInfo, "http request",
			alog.String("method", c.Method()),
			alog.String("path", c.OriginalURL()),
			alog.Int("status", status),
			alog.Int("size", len(c.Response().Body())),
			alog.Int64("duration_ms", time.Since(start).Milliseconds()),
			alog.String("remote_address", c.IP()),
			alog.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		)

		return err
	}
}

// WithBearerAuth verifies the Authorization bearer token and stores the
// identity for IdentityFrom. Requests without a valid token get 401.
func WithBearerAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractTokenFromHeader(c)
		if token == "" {
			return WriteError(c, http.StatusUnauthorized, "missing_token", "a bearer token is required")
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			ctx := c.UserContext()
			aru.NewLoggerFromContext(ctx).Log(ctx, alog.LevelInfo, "bearer token rejected", alog.Err(err))

			return WriteError(c, http.StatusUnauthorized, "invalid_token", "the bearer token is invalid or expired")
		}

		c.Locals(identityLocal, identity)

		return c.Next()
	}
}

// IdentityFrom returns the identity stored by WithBearerAuth, or auth.Anonymous.
func IdentityFrom(c *fiber.Ctx) auth.Identity {
	if identity, ok := c.Locals(identityLocal).(auth.Identity); ok {
		return identity
	}

	return auth.Anonymous
}

// ExtractTokenFromHeader returns the token of a "Bearer TOKEN" Authorization
// header, or the raw header value when no scheme is given.
func ExtractTokenFromHeader(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return ""
	}

	scheme, token, found := strings.Cut(header, " ")
	if found && strings.EqualFold(scheme, bearerScheme) {
		return strings.TrimSpace(token)
	}

	if found {
		return ""
	}

	return header
}
