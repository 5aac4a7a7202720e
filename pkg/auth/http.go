package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/types"
)

const SessionCookieName = "synopsis_session"

// sessionToken reads the bearer token, falling back to the session cookie
func sessionToken(c echo.Context) string {
	if token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer "); token != "" {
		return token
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// HTTPMiddleware resolves the session and adds the Identity to the request
// context. Requests without a valid session are rejected.
func HTTPMiddleware(identity *Identity) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			id, err := identity.CurrentUser(ctx, sessionToken(c))
			if err != nil {
				return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
			}

			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}

func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.ErrorKindUnauthenticated, types.ErrorKindAuth:
		return http.StatusUnauthorized
	case types.ErrorKindPermission:
		return http.StatusForbidden
	}

	log.Error().Err(err).Msg("auth: identity lookup failed")
	return http.StatusInternalServerError
}

// SessionMiddleware only validates the session. The Identity it adds has no
// mailbox token; it is for routes that connect or disconnect a mailbox.
func SessionMiddleware(sessions *SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := sessions.Validate(sessionToken(c))
			if err != nil {
				log.Debug().Err(err).Msg("auth: invalid session")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid session"})
			}

			ctx := WithIdentity(c.Request().Context(), &types.Identity{Id: claims.Subject, Email: claims.Email})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
