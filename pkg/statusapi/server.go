// Package statusapi serves a small HTTP view of a running call: its identity, phase and
// connectivity, plus an endpoint to hang it up.
package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/harshabose/simple_webrtc_comm/firecall"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

// CallView is the part of *firecall.Call the server reads and controls.
type CallView interface {
	SessionID() string
	Role() firecall.Role
	Phase() firecall.Phase
	ConnectionState() transport.ConnectionState
	Hangup(ctx context.Context) error
}

type CallStatus struct {
	SessionID       string `json:"session_id"`
	Role            string `json:"role"`
	Phase           string `json:"phase"`
	ConnectionState string `json:"connection_state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const hangupTimeout = 10 * time.Second

func NewRouter(call CallView, logger zerolog.Logger) *gin.Engine {
	logger = logger.With().Str("module", "statusapi").Logger()

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/call", func(c *gin.Context) {
		c.JSON(http.StatusOK, status(call))
	})
	router.DELETE("/call", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), hangupTimeout)
		defer cancel()

		if err := call.Hangup(ctx); err != nil {
			logger.Error().Err(err).Str("session", call.SessionID()).Msg("hangup over http failed")
			c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		logger.Info().Str("session", call.SessionID()).Msg("call hung up over http")
		c.JSON(http.StatusOK, status(call))
	})

	return router
}

// NewServer returns a server for the router; the caller runs ListenAndServe and Shutdown.
func NewServer(addr string, call CallView, logger zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(call, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func status(call CallView) CallStatus {
	return CallStatus{
		SessionID:       call.SessionID(),
		Role:            call.Role().String(),
		Phase:           call.Phase().String(),
		ConnectionState: call.ConnectionState().String(),
	}
}
