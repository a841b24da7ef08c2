package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/impulsar/lib-aru/aru/transfer"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusOK).JSON(s)
}

// WriteError writes an ErrorResponse whose code is the HTTP status.
func WriteError(c *fiber.Ctx, status int, title, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

var domainTitles = map[transfer.ErrorCode]string{
	transfer.ErrorInsufficientFunds: "insufficient_funds",
	transfer.ErrorInvalidAmount:     "invalid_amount",
	transfer.ErrorBatchTooLarge:     "batch_too_large",
	transfer.ErrorUnauthorized:      "unauthorized",
	transfer.ErrorInvalidAccount:    "invalid_account",
	transfer.ErrorBalanceOverflow:   "balance_overflow",
}

// DomainStatus returns the HTTP status for a ledger error code.
func DomainStatus(code transfer.ErrorCode) int {
	switch code {
	case transfer.ErrorUnauthorized:
		return http.StatusForbidden
	case transfer.ErrorInvalidAmount, transfer.ErrorBatchTooLarge, transfer.ErrorInvalidAccount:
		return http.StatusBadRequest
	case transfer.ErrorInsufficientFunds, transfer.ErrorBalanceOverflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RenderError writes the response for err. Ledger errors keep their code and
// field; request validation errors become 400; everything else is a generic
// 500 that does not leak internals.
func RenderError(c *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	var de transfer.DomainError
	if errors.As(err, &de) {
		title, ok := domainTitles[de.Code]
		if !ok {
			title = "request_failed"
		}

		return c.Status(DomainStatus(de.Code)).JSON(ErrorResponse{
			Code:    string(de.Code),
			Title:   title,
			Message: de.Message,
			Field:   de.Field,
		})
	}

	if isValidationError(err) {
		return WriteError(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status := fe.Code
		if status < http.StatusContinue || status > 599 {
			status = http.StatusInternalServerError
		}

		return WriteError(c, status, "request_failed", fe.Message)
	}

	return WriteError(c, http.StatusInternalServerError, "internal_error", "internal server error")
}
