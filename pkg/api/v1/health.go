package apiv1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency the gateway cannot serve without
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthGroup struct {
	checks      map[string]Pinger
	routerGroup *echo.Group
}

func NewHealthGroup(g *echo.Group, checks map[string]Pinger) *HealthGroup {
	group := &HealthGroup{routerGroup: g, checks: checks}

	g.GET("", group.HealthCheck)

	return group
}

func (h *HealthGroup) HealthCheck(c echo.Context) error {
	for name, check := range h.checks {
		if err := check.Ping(c.Request().Context()); err != nil {
			log.Error().Str("dependency", name).Err(err).Msg("health check failed")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"status": "not ok",
				"error":  name + ": " + err.Error(),
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
