package apiv1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/synopsis/pkg/auth"
	"github.com/beam-cloud/synopsis/pkg/persist"
)

const defaultListLimit = 50

// SynopsisReader loads decrypted synopses
type SynopsisReader interface {
	Load(ctx context.Context, messageId string) (*persist.StoredSynopsis, error)
	List(ctx context.Context, ownerId string, limit int) ([]*persist.StoredSynopsis, error)
	AnalyzedCount(ctx context.Context, ownerId string) (int64, error)
}

type SynopsesGroup struct {
	reader SynopsisReader
}

func NewSynopsesGroup(g *echo.Group, reader SynopsisReader) *SynopsesGroup {
	sg := &SynopsesGroup{reader: reader}
	g.GET("", sg.List)
	g.GET("/count", sg.Count)
	g.GET("/:id", sg.Get)
	return sg
}

func (sg *SynopsesGroup) Get(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.RequireIdentity(ctx)
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}

	s, err := sg.reader.Load(ctx, c.Param("id"))
	if err != nil {
		return PipelineErrorResponse(c, err)
	}
	// other owners' records are reported as missing
	if s.OwnerId != owner.Id {
		return ErrorResponse(c, http.StatusNotFound, "synopsis not found")
	}

	return SuccessResponse(c, s)
}

func (sg *SynopsesGroup) List(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.RequireIdentity(ctx)
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	list, err := sg.reader.List(ctx, owner.Id, limit)
	if err != nil {
		return PipelineErrorResponse(c, err)
	}
	return SuccessResponse(c, list)
}

func (sg *SynopsesGroup) Count(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.RequireIdentity(ctx)
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}

	count, err := sg.reader.AnalyzedCount(ctx, owner.Id)
	if err != nil {
		return PipelineErrorResponse(c, err)
	}
	return SuccessResponse(c, map[string]int64{"analyzed": count})
}
