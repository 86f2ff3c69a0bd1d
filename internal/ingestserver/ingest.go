package ingestserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/model"
)

// ingestTimeout is the HTTP ingest budget from spec §5.
const ingestTimeout = 10 * time.Second

// handleIngest implements POST /ingest (§4.G).
func (s *Server) handleIngest(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), ingestTimeout)
	defer cancel()

	if c.Request.ContentLength > EnvelopeLimitBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		return
	}

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	appID, err := s.rt.Resolver.Resolve(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, apikey.ErrMismatch) {
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if len(req.Logs) > EnvelopeLimitRecords {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "too many records"})
		return
	}

	appName := s.appName(ctx, appID)

	now := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(req.Logs))
	for _, dto := range req.Logs {
		rec, err := dto.toRecord()
		if err != nil {
			if errors.Is(err, model.ErrPayloadTooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed record: " + err.Error()})
			return
		}
		rec.AppID = appID
		rec.IngestedAt = now
		service := rec.Service
		if service == "" {
			service = appName
			rec.Service = service
		}
		rec.Fingerprint = fingerprint.Compute(appID, rec.Level, rec.Message, service)
		records = append(records, rec)
	}

	if len(records) == 0 {
		c.JSON(http.StatusOK, ingestResponse{Accepted: 0})
		return
	}

	proc, err := s.rt.Processors.Get(appID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if err := proc.Enqueue(ctx, records); err != nil {
		if errors.Is(err, model.ErrBackpressure) {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "backpressure"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, ingestResponse{Accepted: len(records)})
}

// appName resolves a display name for fingerprinting's service-default
// rule (§4.A "missing service -> app name"). On lookup failure, the
// app_id itself stands in — this only affects grouping, never auth.
func (s *Server) appName(ctx context.Context, appID string) string {
	app, err := s.rt.Apps.GetApp(ctx, appID)
	if err != nil {
		return appID
	}
	return app.Name
}
