package apiv1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/types"
)

const (
	HttpServerBaseRoute string = "/api/v1"
	HttpServerRootRoute string = ""
)

// Response is a standard API response structure
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SuccessResponse returns a successful response
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// ErrorResponse returns an error response
func ErrorResponse(c echo.Context, code int, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error:   message,
	})
}

// PipelineErrorResponse maps err onto a status code by its kind
func PipelineErrorResponse(c echo.Context, err error) error {
	var notFound *types.RecordNotFoundError
	if errors.As(err, &notFound) {
		return ErrorResponse(c, http.StatusNotFound, "synopsis not found")
	}

	switch types.KindOf(err) {
	case types.ErrorKindUnauthenticated, types.ErrorKindAuth:
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case types.ErrorKindPermission:
		return ErrorResponse(c, http.StatusForbidden, err.Error())
	case types.ErrorKindRateLimited:
		return ErrorResponse(c, http.StatusTooManyRequests, err.Error())
	}

	log.Error().Str("path", c.Path()).Err(err).Msg("request failed")
	return ErrorResponse(c, http.StatusInternalServerError, "internal error")
}
