package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/aisrelay/internal/platform/errors"
)

// ErrorHandlingMiddleware renders structured errors as JSON. Plain echo
// HTTP errors are passed through to echo's own handler.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)
	if c.Response().Committed {
		return nil
	}
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
		"remote_addr", c.RealIP(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeNotFound:
		slog.Info("Not found", attrs...)
	case apperrors.TypeRateLimited, apperrors.TypeUnavailable:
		slog.Warn("Connection rejected", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.Error("Internal error", attrs...)
	default:
		slog.Error("Unknown error type", attrs...)
	}
}

// WrapHTTPError converts an echo error into the structured form.
func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var err *apperrors.Error
	switch httpErr.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		err = apperrors.NotFoundError(message)
	case http.StatusTooManyRequests:
		err = apperrors.RateLimitedError(message)
	case http.StatusServiceUnavailable:
		err = apperrors.UnavailableError(message)
	default:
		err = apperrors.InternalError(message, httpErr.Internal)
	}
	return err
}
