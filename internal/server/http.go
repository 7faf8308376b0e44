// Package server exposes the operator surfaces: the WebSocket control/telemetry
// endpoint, the REST fallback API and the media streamer.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"inspection-robot/internal/control"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// HTTPServer is the REST + WebSocket listener. REST is a degraded fallback:
// motion over REST is refused while a WebSocket control session exists, but
// status reads and emergency stop are always served.
type HTTPServer struct {
	echo *echo.Echo
	loop *control.Loop
	hub  *Hub
	addr string
}

func NewHTTPServer(loop *control.Loop, hub *Hub, host, port string) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &HTTPServer{
		echo: e,
		loop: loop,
		hub:  hub,
		addr: fmt.Sprintf("%s:%s", host, port),
	}

	e.GET("/ping", s.handlePing)
	e.GET("/ws", s.handleWS)

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/command", s.handleCommand)
	api.POST("/estop", s.handleEStop)
	api.POST("/estop/release", s.handleEStopRelease)
	api.GET("/snapshot", s.handleSnapshot)

	return s
}

// Handler exposes the routed handler for embedding and tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) Start() error {
	utils.Logger.Infof("http server listening on %s", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *HTTPServer) handlePing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleWS(c echo.Context) error {
	s.hub.HandleWS(c.Response(), c.Request())
	return nil
}

func (s *HTTPServer) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.loop.Snapshot())
}

// handleCommand accepts the same JSON command document as the WebSocket
// channel. Motion is refused while a control session is connected so two
// operators can never fight over the sticks.
func (s *HTTPServer) handleCommand(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(utils.FaultValidation, "unreadable body"))
	}

	cmd, err := models.ParseCommand(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(utils.ClassOf(err), err.Error()))
	}
	cmd.Source = "rest"

	if cmd.Action == models.ActionEStop {
		return c.JSON(http.StatusOK, s.loop.ForceEStop())
	}
	if cmd.Action.IsMotion() && s.hub.ControllerConnected() {
		return c.JSON(http.StatusConflict, errorBody(utils.FaultValidation,
			"a control session is connected; motion over REST is refused"))
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), submitTimeout)
	defer cancel()
	ack := s.loop.Submit(ctx, cmd)

	code := http.StatusOK
	if ack.Status == models.AckRejected {
		code = http.StatusUnprocessableEntity
	}
	return c.JSON(code, ack)
}

func (s *HTTPServer) handleEStop(c echo.Context) error {
	return c.JSON(http.StatusOK, s.loop.ForceEStop())
}

func (s *HTTPServer) handleEStopRelease(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), submitTimeout)
	defer cancel()
	ack := s.loop.Submit(ctx, models.MotionCommand{Action: models.ActionEStopClear, Source: "rest"})

	code := http.StatusOK
	if ack.Status == models.AckRejected {
		code = http.StatusConflict
	}
	return c.JSON(code, ack)
}

func (s *HTTPServer) handleSnapshot(c echo.Context) error {
	frame, err := s.loop.CaptureStill()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(utils.ClassOf(err), err.Error()))
	}
	return c.Blob(http.StatusOK, "image/jpeg", frame)
}

func errorBody(class utils.FaultClass, msg string) map[string]interface{} {
	return map[string]interface{}{
		"error":     msg,
		"class":     class,
		"timestamp": time.Now(),
	}
}
