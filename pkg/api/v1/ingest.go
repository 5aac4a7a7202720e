package apiv1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/beam-cloud/synopsis/pkg/auth"
	"github.com/beam-cloud/synopsis/pkg/pipeline"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const maxPageSize = 500

// Ingester runs the ingestion pipeline
type Ingester interface {
	IngestAndProcess(ctx context.Context, owner *types.Identity, pageSize int64, pageToken string) (*types.IngestResult, error)
	QueueStats() types.QueueStats
}

type IngestGroup struct {
	ingester Ingester
}

// NewIngestGroup registers the ingest routes. The group must carry the
// identity middleware.
func NewIngestGroup(g *echo.Group, ingester Ingester) *IngestGroup {
	ig := &IngestGroup{ingester: ingester}
	g.POST("/ingest", ig.Ingest)
	g.GET("/queue/stats", ig.QueueStats)
	return ig
}

type IngestRequest struct {
	PageSize  int64  `json:"pageSize"`
	PageToken string `json:"pageToken,omitempty"`
}

func (ig *IngestGroup) Ingest(c echo.Context) error {
	ctx := c.Request().Context()
	owner, err := auth.RequireIdentity(ctx)
	if err != nil {
		return ErrorResponse(c, http.StatusUnauthorized, err.Error())
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	if req.PageSize < 0 || req.PageSize > maxPageSize {
		return ErrorResponse(c, http.StatusBadRequest, "pageSize must be between 0 and 500")
	}

	result, err := ig.ingester.IngestAndProcess(ctx, owner, req.PageSize, req.PageToken)
	if errors.Is(err, pipeline.ErrIngestInProgress) {
		return ErrorResponse(c, http.StatusConflict, err.Error())
	}
	if err != nil {
		return PipelineErrorResponse(c, err)
	}

	return SuccessResponse(c, result)
}

func (ig *IngestGroup) QueueStats(c echo.Context) error {
	return SuccessResponse(c, ig.ingester.QueueStats())
}
