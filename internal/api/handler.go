// Package api exposes the incident pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"voice-guard-go/internal/acquisition"
	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/pipeline"
	"voice-guard-go/internal/types"
)

// maxUpload bounds both JSON bodies and multipart relays.
const maxUpload = 32 << 20

const (
	msgUserIDRequired     = "userId is required"
	msgStorageURLRequired = "storageUrl is required"
	msgInvalidBody        = "invalid request body"
	msgFilesRequired      = "audio_file and text_file are required"
	msgInvalidCoordinates = "Invalid coordinates"
)

// Pipeline is the part of the orchestrator the handlers drive.
type Pipeline interface {
	Run(ctx context.Context, inc types.Incident, src acquisition.Source) (pipeline.Result, error)
	Relay(ctx context.Context, inc types.Incident, audioFile, textFile pipeline.Upload) (pipeline.Result, error)
}

type Handler struct {
	pipe Pipeline
	log  *logger.Logger
}

func New(p Pipeline, log *logger.Logger) *Handler {
	return &Handler{pipe: p, log: log}
}

// Routes registers POST / and GET /healthz.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /{$}", h.incident)
	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.log.WithRequest(r).Debug("health check")
	fmt.Fprint(w, "ok")
}

type incidentRequest struct {
	UserID     string   `json:"userId"`
	StorageURL string   `json:"storageUrl"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

// incident dispatches on content type: multipart bodies are relayed to the
// scorer as-is, anything else is decoded as a JSON incident.
func (h *Handler) incident(w http.ResponseWriter, r *http.Request) {
	reqLog := h.log.WithRequest(r).WithField("handler", "incident")
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

	// The run outlives a client disconnect; the pipeline applies its own ceiling.
	ctx := context.WithoutCancel(r.Context())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		res pipeline.Result
		err error
	)
	if mediaType == "multipart/form-data" {
		res, err = h.relay(ctx, r, reqLog)
	} else {
		res, err = h.full(ctx, r, reqLog)
	}
	if err != nil {
		h.fail(w, reqLog, err)
		return
	}
	reqLog.WithFields(logrus.Fields{
		"incident_id":  res.IncidentID,
		"danger_score": res.Score,
		"level":        res.Level,
		"duration_ms":  res.DurationMs,
	}).Info("incident processed")
	writeJSON(w, reqLog, http.StatusOK, types.ScoreResponse{DangerScore: res.Score, Level: res.Level})
}

func (h *Handler) full(ctx context.Context, r *http.Request, reqLog *logrus.Entry) (pipeline.Result, error) {
	var req incidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reqLog.WithField("error", err.Error()).Warn("bad json body")
		return pipeline.Result{}, apperr.Invalid(msgInvalidBody)
	}
	inc, err := req.incident()
	if err != nil {
		return pipeline.Result{}, err
	}
	return h.pipe.Run(ctx, inc, acquisition.Source{Locator: req.StorageURL})
}

// incident validates the request before anything downstream is touched.
func (req incidentRequest) incident() (types.Incident, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return types.Incident{}, apperr.Invalid(msgUserIDRequired)
	}
	if strings.TrimSpace(req.StorageURL) == "" {
		return types.Incident{}, apperr.Invalid(msgStorageURLRequired)
	}
	if _, err := acquisition.ParseLocator(req.StorageURL); err != nil {
		return types.Incident{}, err
	}
	if req.Latitude != nil && (*req.Latitude < -90 || *req.Latitude > 90) ||
		req.Longitude != nil && (*req.Longitude < -180 || *req.Longitude > 180) {
		return types.Incident{}, apperr.Invalid(msgInvalidCoordinates)
	}
	return types.Incident{
		UserID:    strings.TrimSpace(req.UserID),
		SourceURI: req.StorageURL,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}, nil
}

func (h *Handler) relay(ctx context.Context, r *http.Request, reqLog *logrus.Entry) (pipeline.Result, error) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		reqLog.WithField("error", err.Error()).Warn("bad multipart body")
		return pipeline.Result{}, apperr.Invalid(msgInvalidBody)
	}
	defer r.MultipartForm.RemoveAll()

	audio, audioHdr, err := r.FormFile("audio_file")
	if err != nil {
		return pipeline.Result{}, apperr.Invalid(msgFilesRequired)
	}
	defer audio.Close()
	text, textHdr, err := r.FormFile("text_file")
	if err != nil {
		return pipeline.Result{}, apperr.Invalid(msgFilesRequired)
	}
	defer text.Close()

	inc := types.Incident{UserID: strings.TrimSpace(r.FormValue("userId"))}
	reqLog.WithFields(logrus.Fields{
		"audio_name": audioHdr.Filename,
		"audio_size": audioHdr.Size,
		"text_name":  textHdr.Filename,
		"user_id":    inc.UserID,
	}).Info("relay request received")
	return h.pipe.Relay(ctx, inc,
		pipeline.Upload{Name: audioHdr.Filename, Body: audio},
		pipeline.Upload{Name: textHdr.Filename, Body: text})
}

func (h *Handler) fail(w http.ResponseWriter, reqLog *logrus.Entry, err error) {
	status := apperr.HTTPStatus(err)
	entry := reqLog.WithFields(logrus.Fields{"error": err.Error(), "error_kind": apperr.KindOf(err)})
	if status >= http.StatusInternalServerError {
		entry.Error("incident failed")
	} else {
		entry.Warn("incident rejected")
	}
	writeJSON(w, reqLog, status, types.ErrorResponse{Error: apperr.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, reqLog *logrus.Entry, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		reqLog.WithField("error", err.Error()).Error("failed to write response")
	}
}
