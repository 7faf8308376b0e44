package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"inspection-robot/internal/hardware"
	"inspection-robot/internal/utils"
)

const mjpegBoundary = "frameboundary"

// MediaServer serves the camera on its own listener so a saturated video
// stream can never starve the command surface.
type MediaServer struct {
	server    *http.Server
	camera    hardware.Camera
	frameTick time.Duration
}

func NewMediaServer(camera hardware.Camera, host, port string, frameTick time.Duration) *MediaServer {
	m := &MediaServer{camera: camera, frameTick: frameTick}

	r := mux.NewRouter()
	r.HandleFunc("/stream", m.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/snapshot.jpg", m.handleSnapshot).Methods(http.MethodGet)

	m.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", host, port),
		Handler: r,
	}
	return m
}

func (m *MediaServer) Start() error {
	utils.Logger.Infof("media server listening on %s", m.server.Addr)
	if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MediaServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

// handleStream pushes an MJPEG multipart stream until the client goes away.
func (m *MediaServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")

	ticker := time.NewTicker(m.frameTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, err := m.camera.LatestFrame()
			if err != nil {
				// camera hiccup: hold the last frame on the client side
				continue
			}
			_, err = fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(frame))
			if err == nil {
				_, err = w.Write(frame)
			}
			if err != nil {
				return
			}
			_, _ = fmt.Fprint(w, "\r\n")
			flusher.Flush()
		}
	}
}

func (m *MediaServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	frame, err := m.camera.LatestFrame()
	if err != nil {
		http.Error(w, "camera unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(frame)
}
