package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"opdeck/internal/config"
	"opdeck/internal/device"
	"opdeck/internal/device/mount"
	"opdeck/internal/logging"
	"opdeck/internal/monitor"
	"opdeck/internal/samples"
	"opdeck/internal/settings"
)

// maxUploadBytes caps sample uploads; the devices themselves hold far less.
const maxUploadBytes = 64 << 20

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	keepalive time.Duration

	// openPath is overridable for tests.
	openPath func(ctx context.Context, path string) error

	listener net.Listener
	server   *http.Server
}

// deviceStatusPayload is the per-kind JSON shape of /device-status.
type deviceStatusPayload struct {
	Connected   bool         `json:"connected"`
	Path        *string      `json:"path"`
	USBDetected bool         `json:"usb_detected"`
	Mode        *string      `json:"mode"`
	DeviceName  string       `json:"device_name"`
	Storage     *mount.Usage `json:"storage,omitempty"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	keepalive := time.Duration(cfg.Monitor.KeepaliveSeconds) * time.Second
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}

	srv := &apiServer{
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
		keepalive: keepalive,
		openPath:  openInFileBrowser,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/device-status", srv.handleDeviceStatus)
	mux.HandleFunc("/device-events", srv.handleDeviceEvents)
	mux.HandleFunc("/open-device-directory", srv.handleOpenDeviceDirectory)
	mux.HandleFunc("/refresh-device-scan", srv.handleRefreshDeviceScan)
	mux.HandleFunc("/device-history", srv.handleDeviceHistory)
	mux.HandleFunc("/settings/", srv.handleSettings)
	mux.HandleFunc("/convert-sample", srv.handleConvertSample)
	mux.HandleFunc("/healthz", srv.handleHealthz)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse(s.daemon.registry.All()))
}

func (s *apiServer) handleRefreshDeviceScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse(s.daemon.monitor.Scan()))
}

func (s *apiServer) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.daemon.broadcaster.Subscribe(s.daemon.monitor.SnapshotEvents)
	defer s.daemon.broadcaster.Unsubscribe(sub)

	keepalive := time.NewTimer(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			if !keepalive.Stop() {
				<-keepalive.C
			}
			keepalive.Reset(s.keepalive)
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(s.keepalive)
		}
	}
}

func (s *apiServer) handleOpenDeviceDirectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	kindID := strings.TrimSpace(r.URL.Query().Get("device"))
	kind, ok := device.ByID(kindID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	path := ""
	if status, ok := s.daemon.registry.Status(kind.ID); ok {
		path = status.Path
	}
	if path == "" {
		path = s.daemon.settings.EffectiveMountPath(kind.ID)
	}
	if path == "" {
		s.writeError(w, http.StatusNotFound, "no path known for device")
		return
	}

	if err := s.openPath(r.Context(), path); err != nil {
		s.logger.Warn("failed to open device directory",
			logging.Error(err),
			logging.String(logging.FieldDevice, kind.ID),
			logging.String("path", path))
		s.writeError(w, http.StatusInternalServerError, "failed to open directory")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "opened", "path": path})
}

func (s *apiServer) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.history == nil {
		s.writeError(w, http.StatusNotFound, "history disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	events, err := s.daemon.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *apiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/settings/")
	if key == "" || strings.Contains(key, "/") {
		s.writeError(w, http.StatusNotFound, "unknown setting")
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := s.daemon.settings.Get(key)
		if err != nil {
			if errors.Is(err, settings.ErrNotFound) {
				s.writeError(w, http.StatusNotFound, "setting not found")
				return
			}
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
	case http.MethodPut:
		var body struct {
			Value any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := s.daemon.settings.Set(key, body.Value); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": body.Value})
	case http.MethodDelete:
		existed, err := s.daemon.settings.Delete(key)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !existed {
			s.writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleConvertSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	sampleType := samples.SampleType(r.FormValue("type"))
	output, err := s.daemon.converter.Convert(r.Context(), file, header.Filename, sampleType)
	if err != nil {
		if errors.Is(err, samples.ErrUnknownType) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("sample conversion failed",
			logging.Error(err),
			logging.String("filename", header.Filename))
		s.writeError(w, http.StatusInternalServerError, "conversion failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Converted to %s successfully.", filepath.Base(output)),
		"path":    output,
	})
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusResponse(statuses map[string]monitor.Status) map[string]deviceStatusPayload {
	out := make(map[string]deviceStatusPayload, len(statuses))
	for _, kind := range device.All() {
		status := statuses[kind.ID]
		payload := deviceStatusPayload{
			Connected:   status.Connected,
			USBDetected: status.USBDetected,
			DeviceName:  kind.Name,
			Storage:     status.Usage,
		}
		if status.Path != "" {
			path := status.Path
			payload.Path = &path
		}
		if status.Mode != monitor.ModeNone {
			mode := string(status.Mode)
			payload.Mode = &mode
		}
		out[kind.ID] = payload
	}
	return out
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func openInFileBrowser(ctx context.Context, path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", path)
	case "windows":
		cmd = exec.CommandContext(ctx, "explorer", path)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", path)
	}
	return cmd.Start()
}

