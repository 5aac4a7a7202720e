package apiv1

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/synopsis/pkg/auth"
)

// MailboxConnector runs the mailbox OAuth flow
type MailboxConnector interface {
	IsConfigured() bool
	AuthorizeURL(state string) string
	Connect(ctx context.Context, ownerId, code string) error
	Disconnect(ctx context.Context, ownerId string) error
}

// MailboxGroup connects and disconnects an owner's mailbox
type MailboxGroup struct {
	connector MailboxConnector
	states    *auth.StateStore
}

// NewMailboxGroup registers the mailbox routes. authorize and disconnect
// need a session; callback is reached by redirect and is matched by state.
func NewMailboxGroup(g *echo.Group, connector MailboxConnector, states *auth.StateStore, session echo.MiddlewareFunc) *MailboxGroup {
	mg := &MailboxGroup{connector: connector, states: states}
	g.POST("/authorize", mg.Authorize, session)
	g.DELETE("", mg.Disconnect, session)
	g.GET("/callback", mg.Callback)
	return mg
}

type AuthorizeRequest struct {
	ReturnTo string `json:"return_to,omitempty"`
}

type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

func (mg *MailboxGroup) Authorize(c echo.Context) error {
	owner, err := auth.RequireIdentity(c.Request().Context())
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}
	if !mg.connector.IsConfigured() {
		return ErrorResponse(c, http.StatusServiceUnavailable, "mailbox oauth is not configured")
	}

	var req AuthorizeRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	if req.ReturnTo != "" && !strings.HasPrefix(req.ReturnTo, "/") {
		return ErrorResponse(c, http.StatusBadRequest, "return_to must be a relative path")
	}

	state := mg.states.Create(owner.Id, req.ReturnTo)
	return c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    AuthorizeResponse{AuthorizeURL: mg.connector.AuthorizeURL(state)},
	})
}

func (mg *MailboxGroup) Callback(c echo.Context) error {
	ownerId, returnTo, ok := mg.states.Take(c.QueryParam("state"))
	if !ok {
		return ErrorResponse(c, http.StatusBadRequest, "invalid or expired oauth state")
	}

	if errParam := c.QueryParam("error"); errParam != "" {
		return ErrorResponse(c, http.StatusBadRequest, "authorization failed: "+errParam)
	}

	code := c.QueryParam("code")
	if code == "" {
		return ErrorResponse(c, http.StatusBadRequest, "missing authorization code")
	}

	if err := mg.connector.Connect(c.Request().Context(), ownerId, code); err != nil {
		log.Error().Str("owner_id", ownerId).Err(err).Msg("mailbox connect failed")
		return PipelineErrorResponse(c, err)
	}

	log.Info().Str("owner_id", ownerId).Msg("mailbox connected")

	if returnTo != "" {
		return c.Redirect(http.StatusFound, returnTo)
	}
	return SuccessResponse(c, map[string]bool{"connected": true})
}

func (mg *MailboxGroup) Disconnect(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.RequireIdentity(ctx)
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}

	if err := mg.connector.Disconnect(ctx, owner.Id); err != nil {
		return PipelineErrorResponse(c, err)
	}
	return SuccessResponse(c, map[string]bool{"connected": false})
}
