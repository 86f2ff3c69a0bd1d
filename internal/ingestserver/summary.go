package ingestserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/model"
)

// serviceSummary is the per-service slice of a summary response (§4.K).
type serviceSummary struct {
	Service             string           `json:"service"`
	Health              model.Health     `json:"health"`
	TotalCount          int64            `json:"total_count"`
	SeverityDistribution map[string]int64 `json:"severity_distribution"`
	ErrorsPer10Logs      []int64          `json:"errors_per_10_logs"`
	AvgErrorsPer10Logs   float64          `json:"avg_errors_per_10_logs"`
	MostCommonErrorFP    string           `json:"most_common_error_fingerprint,omitempty"`
	MostCommonErrorCnt   int64            `json:"most_common_error_count"`
	FirstErrorTS         string           `json:"first_error_ts,omitempty"`
	LatestErrorTS        string           `json:"latest_error_ts,omitempty"`
	RecentErrors         []model.PersistedLog `json:"recent_errors"`
}

type summaryResponse struct {
	AppID    string           `json:"app_id"`
	Services []serviceSummary `json:"services"`
}

// handleSummary implements GET /summary/:app_id (§4.K). Authorization
// is the same bearer-API-key scheme as ingest: the caller must present
// a key resolving to the requested app_id.
func (s *Server) handleSummary(c *gin.Context) {
	appID := c.Param("app_id")

	key := bearerToken(c.GetHeader("Authorization"))
	if key == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	callerAppID, err := s.rt.Resolver.Resolve(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, apikey.ErrMismatch) {
			c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if callerAppID != appID {
		c.JSON(http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}

	resp := summaryResponse{AppID: appID, Services: []serviceSummary{}}
	proc, ok := s.rt.Processors.Peek(appID)
	if !ok {
		c.JSON(http.StatusOK, resp)
		return
	}

	for _, service := range proc.Services() {
		snap, ok := proc.Snapshot(service)
		if !ok {
			continue
		}
		sev := make(map[string]int64, len(snap.PerLevelCount))
		for level, count := range snap.PerLevelCount {
			sev[string(level)] = count
		}

		summary := serviceSummary{
			Service:              snap.Service,
			Health:               snap.Health,
			TotalCount:           snap.TotalCount,
			SeverityDistribution: sev,
			ErrorsPer10Logs:      snap.ErrorsPer10Logs,
			AvgErrorsPer10Logs:   snap.AvgErrorsPer10Logs,
			MostCommonErrorFP:    snap.MostCommonErrorFP,
			MostCommonErrorCnt:   snap.MostCommonErrorCnt,
			RecentErrors:         snap.RecentErrors,
		}
		if !snap.FirstErrorTS.IsZero() {
			summary.FirstErrorTS = snap.FirstErrorTS.UTC().Format(timeFormat)
		}
		if !snap.LatestErrorTS.IsZero() {
			summary.LatestErrorTS = snap.LatestErrorTS.UTC().Format(timeFormat)
		}
		resp.Services = append(resp.Services, summary)
	}

	c.JSON(http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
