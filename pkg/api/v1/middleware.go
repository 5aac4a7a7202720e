package apiv1

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/common"
)

const RequestIdHeader = "X-Request-Id"

// RequestLogger tags each request with an id and logs it once it completes
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestId := c.Request().Header.Get(RequestIdHeader)
			if requestId == "" {
				requestId = common.GenerateRequestID()
			}
			c.Response().Header().Set(RequestIdHeader, requestId)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			log.Debug().
				Str("request_id", requestId).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", c.Response().Status).
				Msg("request")
			return nil
		}
	}
}
