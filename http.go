package accounts

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

// HandleError renders err as a JSON error response. It can also be used as
// the fiber app ErrorHandler.
func (a *AccountController) HandleError(c *fiber.Ctx, err error) error {
	richErr := toRichError(err)

	status := statusCode(richErr)

	args := []any{
		"status", status,
		"category", richErr.Category,
		"text_code", richErr.TextCode,
		"error", richErr.Message,
		"path", c.OriginalURL(),
	}
	if len(richErr.Metadata) > 0 {
		args = append(args, "details", debugPayload(richErr.Metadata))
	}

	if status >= http.StatusInternalServerError {
		a.Logger.Error("request failed", args...)
	} else {
		a.Logger.Info("request rejected", args...)
	}

	response := richErr
	if !a.Debug {
		response = publicError(richErr)
	}

	return c.Status(status).JSON(response.ToErrorResponse(false, nil))
}

// ErrorHandler returns a fiber.ErrorHandler that renders errors the same
// way the controller does.
func ErrorHandler(logger Logger, debug bool) fiber.ErrorHandler {
	controller := &AccountController{Logger: normalizeLogger(logger), Debug: debug}
	return controller.HandleError
}

// RequestLogger logs one line per request
func RequestLogger(logger Logger) fiber.Handler {
	logger = normalizeLogger(logger)
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		args := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
		}
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			args = append(args, "request_id", rid)
		}

		logger.Info("http request", args...)
		return err
	}
}

func toRichError(err error) *goerrors.Error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, goerrors.HTTPStatusToCategory(fe.Code)).
			WithCode(fe.Code).
			WithTextCode(goerrors.HTTPStatusToTextCode(fe.Code))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "request was cancelled").
			WithCode(http.StatusRequestTimeout).
			WithTextCode("REQUEST_CANCELLED")
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
		WithCode(goerrors.CodeInternal)
}

func statusCode(richErr *goerrors.Error) int {
	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicError drops metadata and the wrapped source of server side
// failures so internals do not leak to clients.
func publicError(richErr *goerrors.Error) *goerrors.Error {
	out := richErr.Clone()
	out.Source = nil
	out.StackTrace = nil
	out.Location = nil
	if statusCode(richErr) >= http.StatusInternalServerError {
		out.Metadata = nil
	}
	return out
}
