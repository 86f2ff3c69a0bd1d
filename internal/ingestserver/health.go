package ingestserver

import "github.com/gin-gonic/gin"

// handleHealth is a liveness probe. It stays fast under load shedding:
// the schema version check is a local metadata read against the open
// DuckDB handle, never a query against the logs table itself.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}

	if s.rt.LogStore != nil {
		current, pending, err := s.rt.LogStore.SchemaStatus()
		if err == nil {
			body["schema_version"] = current
			body["schema_pending"] = pending
		}
	}

	c.JSON(200, body)
}
