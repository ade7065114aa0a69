package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"call-audit-go/internal/actionable"
	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/pipeline"
	"call-audit-go/internal/store"
	"call-audit-go/internal/types"
)

// nginx's code for a client that went away before the response.
const statusClientClosedRequest = 499

const maxUploadBytes = 200 << 20

type auditRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type reportStore interface {
	List(ctx context.Context, agent string) ([]store.Record, error)
	DeleteAgent(ctx context.Context, agent string) (int64, error)
}

type server struct {
	runner       auditRunner
	store        reportStore
	defaultAgent string
	uploadDir    string
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /audit", s.handleAudit)
	mux.HandleFunc("GET /reports", s.handleListReports)
	mux.HandleFunc("DELETE /reports", s.handleDeleteReports)
	mux.HandleFunc("GET /reports/summary", s.handleSummary)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "audit")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		reqLog.WithError(err).Warn("missing upload")
		writeError(w, http.StatusBadRequest, "", errors.New("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	date := r.FormValue("date")
	if date != "" {
		if err := pipeline.ValidateDate(date); err != nil {
			writeError(w, http.StatusBadRequest, string(pipeline.StageValidate), err)
			return
		}
	}

	dir, err := os.MkdirTemp(s.uploadDir, "audit-*")
	if err != nil {
		reqLog.WithError(err).Error("temp dir")
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(hdr.Filename)
	if name == "." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "", errors.New("upload has no file name"))
		return
	}
	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		reqLog.WithError(err).Error("saving upload failed")
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	agent := r.FormValue("agent")
	if agent == "" {
		agent = s.defaultAgent
	}
	req := pipeline.NewRequest(path, agent, date)
	reqLog = reqLog.WithFields(logrus.Fields{"run_id": req.RunID, "agent": req.Agent, "file": req.FileName})
	reqLog.Info("audit request received")

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		reqLog.WithError(err).WithField("status", status).Warn("audit failed")
		stage := ""
		var se *pipeline.StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		writeError(w, status, stage, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "", errors.New("agent is required"))
		return
	}
	recs, err := s.store.List(r.Context(), agent)
	if err != nil {
		logger.New().WithRequest(r).WithError(err).Error("list reports failed")
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleDeleteReports(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "", errors.New("agent is required"))
		return
	}
	n, err := s.store.DeleteAgent(r.Context(), agent)
	if err != nil {
		logger.New().WithRequest(r).WithError(err).Error("delete reports failed")
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": agent, "deleted": n})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "", errors.New("agent is required"))
		return
	}
	recs, err := s.store.List(r.Context(), agent)
	if err != nil {
		logger.New().WithRequest(r).WithError(err).Error("list reports failed")
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	sum := aggregator.Aggregate(agent, recs)
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     sum,
		"action_card": actionable.Generate(sum),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, types.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrSubmissionConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrJobTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrCancelled), errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.New().WithError(err).Error("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, stage string, err error) {
	body := map[string]string{"error": err.Error()}
	if stage != "" {
		body["stage"] = stage
	}
	writeJSON(w, status, body)
}
