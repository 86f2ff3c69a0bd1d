package ingestserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/logsentry/logsentry/internal/deviceauth"
	"github.com/logsentry/logsentry/internal/model"
)

// deviceStartRequest is the body of POST /sdk/device/start (§4.I).
type deviceStartRequest struct {
	AppName     string `json:"app_name" binding:"required"`
	Description string `json:"description"`
}

type deviceStartResponse struct {
	DeviceCode          string `json:"device_code"`
	UserCode            string `json:"user_code"`
	VerificationURL     string `json:"verification_url"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

func (s *Server) handleDeviceStart(c *gin.Context) {
	var req deviceStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	res, err := s.rt.DeviceAuth.Start(c.Request.Context(), req.AppName, req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, deviceStartResponse{
		DeviceCode:          res.DeviceCode,
		UserCode:            res.UserCode,
		VerificationURL:     res.VerificationURL,
		PollIntervalSeconds: res.PollIntervalSeconds,
	})
}

// deviceCompleteRequest is the body of POST /sdk/device/complete (§4.I).
// The caller is expected to have already authenticated the browser
// session out of band; user_id is that session's identity.
type deviceCompleteRequest struct {
	UserCode string `json:"user_code" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

type deviceCompleteResponse struct {
	AppID string `json:"app_id"`
}

func (s *Server) handleDeviceComplete(c *gin.Context) {
	var req deviceCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}

	res, err := s.rt.DeviceAuth.Complete(c.Request.Context(), req.UserCode, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		case errors.Is(err, model.ErrSessionExpired), errors.Is(err, model.ErrSessionConsumed):
			c.JSON(http.StatusGone, errorResponse{Error: "session no longer pending"})
		default:
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, deviceCompleteResponse{AppID: res.AppID})
}

type devicePollResponse struct {
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
	AppID  string `json:"app_id,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

func (s *Server) handleDevicePoll(c *gin.Context) {
	deviceCode := c.Query("device_code")
	if deviceCode == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "device_code is required"})
		return
	}

	res, err := s.rt.DeviceAuth.Poll(c.Request.Context(), deviceCode, 0)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
		case errors.Is(err, model.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	switch res.Status {
	case deviceauth.PollPending:
		c.JSON(http.StatusAccepted, devicePollResponse{Status: "pending"})
	case deviceauth.PollExpired:
		c.JSON(http.StatusGone, devicePollResponse{Status: "expired"})
	case deviceauth.PollConsumed:
		c.JSON(http.StatusGone, devicePollResponse{Status: "consumed"})
	case deviceauth.PollOK:
		c.JSON(http.StatusOK, devicePollResponse{
			Status: "ok",
			APIKey: res.APIKey,
			AppID:  res.AppID,
			DSN:    res.DSN,
		})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
