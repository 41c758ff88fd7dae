package main

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tutortoise/frame-pipeline/detections"
	"github.com/Tutortoise/frame-pipeline/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type AppState struct {
	Pool    *EnginePool
	Options detections.Options
	Live    *LivePipeline
	Hub     *FrameHub
	Logger  *zap.SugaredLogger
}

type AnnotateResponse struct {
	Count   int                  `json:"count"`
	Boxes   []models.BoundingBox `json:"boxes"`
	Message string               `json:"message"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/infer", s.handleInfer).Methods("POST")
	r.HandleFunc("/annotate", s.handleAnnotate).Methods("POST")
	r.HandleFunc("/frame/latest", s.handleLatestFrame).Methods("GET")
	r.HandleFunc("/frame/stream", s.handleFrameStream).Methods("GET")
	s.addMonitoringRoutes(r)
	return r
}

// handleInfer exposes a pooled engine over HTTP; RemoteEngine is its client.
func (s *AppState) handleInfer(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := r.Context()

	var tensor models.InputTensor
	if err := json.NewDecoder(r.Body).Decode(&tensor); err != nil {
		sendErrorResponse(w, "invalid_request", "Failed to decode tensor", err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := s.Pool.Acquire(ctx)
	if err != nil {
		sendErrorResponse(w, "session_error", err.Error(), "", http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	det, err := engine.Infer(ctx, &tensor)
	if err != nil {
		if errors.Is(err, detections.ErrInvalidTensor) {
			s.Pool.Release(engine)
			sendErrorResponse(w, "invalid_tensor", err.Error(), "", http.StatusBadRequest)
			return
		}
		if ctx.Err() != nil {
			s.Pool.Release(engine)
			sendErrorResponse(w, "cancelled", err.Error(), "", http.StatusServiceUnavailable)
			return
		}
		s.Pool.Discard(engine, err)
		s.Logger.Warnw("inference failed", "request_id", requestID, "error", err)
		sendErrorResponse(w, "inference_error", err.Error(), "", http.StatusInternalServerError)
		return
	}
	s.Pool.Release(engine)
	s.Logger.Debugw("inference served", "request_id", requestID, "took", time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(det)
}

// handleAnnotate runs a still image through preprocess, inference, decode and
// render. ?format=json returns the boxes instead of the JPEG.
func (s *AppState) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := r.Context()

	var imgBytes []byte
	var err error

	contentType := r.Header.Get("Content-Type")
	switch {
	case contentType == "application/json":
		imgBytes, err = handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		imgBytes, err = handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), "", http.StatusBadRequest)
		return
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := s.Pool.Acquire(ctx)
	if err != nil {
		sendErrorResponse(w, "session_error", err.Error(), "", http.StatusServiceUnavailable)
		return
	}
	defer s.Pool.Release(engine)

	// The pool keeps ownership of the engine, so this pipeline is never closed.
	pipeline, err := detections.NewPipeline(engine, s.Options, s.Logger.With("request_id", requestID))
	if err != nil {
		sendErrorResponse(w, "processing_error", err.Error(), "", http.StatusInternalServerError)
		return
	}
	out, err := pipeline.Annotate(ctx, detections.RasterFromImage(img))
	if err != nil {
		sendErrorResponse(w, "processing_error", err.Error(), "", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AnnotateResponse{
			Count:   len(out.Boxes),
			Boxes:   out.Boxes,
			Message: getDetectionMessage(len(out.Boxes)),
		})
		return
	}
	writeJPEG(w, out)
}

func (s *AppState) handleLatestFrame(w http.ResponseWriter, _ *http.Request) {
	if s.Live == nil {
		sendErrorResponse(w, "no_live_pipeline", "No frame source is configured", "", http.StatusNotFound)
		return
	}
	frame := s.Live.Viewer.Latest()
	if frame == nil {
		sendErrorResponse(w, "no_frame", MsgNoLiveFrame, "", http.StatusServiceUnavailable)
		return
	}
	writeJPEG(w, frame)
}

func (s *AppState) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		sendErrorResponse(w, "no_live_pipeline", "No frame source is configured", "", http.StatusNotFound)
		return
	}
	s.Hub.handleStream(w, r)
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.Pool.GetMetrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.size,
		"sessions_in_use":  metrics.InUse,
		"total_acquired":   metrics.TotalAcquired,
		"total_released":   metrics.TotalReleased,
		"acquire_failures": metrics.AcquireFailures,
		"last_errors":      s.Pool.LastErrors(),
	}
	if s.Live != nil {
		response["pipeline"] = s.Live.Scheduler.Stats()
		response["frames_shown"] = s.Live.Viewer.Shown()
	}
	if s.Hub != nil {
		response["stream_clients"] = s.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func writeJPEG(w http.ResponseWriter, frame *models.AnnotatedFrame) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Detections", strconv.Itoa(len(frame.Boxes)))
	jpeg.Encode(w, frame.Image, &jpeg.Options{Quality: detections.JPEGQuality})
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func sendErrorResponse(w http.ResponseWriter, code, message, details string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
