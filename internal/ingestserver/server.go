// Package ingestserver wires the ingestion endpoint, the device-auth
// handshake, and the summary reader onto a gin.Engine (spec §4.G,
// §4.I, §4.K). The route-table and httptest-driven testing shape are
// grounded on the teacher's internal/httpserver package.
package ingestserver

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsentry/logsentry/internal/runtime"
)

// Server holds the gin engine and the runtime handle its handlers
// call through.
type Server struct {
	Engine *gin.Engine
	rt     *runtime.Runtime
	server *http.Server
}

// New builds a Server with all routes registered.
func New(rt *runtime.Runtime) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	s := &Server{Engine: r, rt: rt}

	r.GET("/health", s.handleHealth)
	r.POST("/ingest", s.handleIngest)
	r.GET("/summary/:app_id", s.handleSummary)

	device := r.Group("/sdk/device")
	device.POST("/start", s.handleDeviceStart)
	device.POST("/complete", s.handleDeviceComplete)
	device.GET("/poll", s.handleDevicePoll)

	return s
}

// Run starts the HTTP listener on addr and blocks until the server
// stops (either from Stop or a listener error).
func (s *Server) Run(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Engine,
		ReadTimeout:  ingestTimeout,
		WriteTimeout: ingestTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	err = s.server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
