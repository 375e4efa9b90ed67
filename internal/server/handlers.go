package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/canectors/viewexport/internal/config"
	"github.com/canectors/viewexport/internal/errhandling"
	"github.com/canectors/viewexport/internal/factory"
	"github.com/canectors/viewexport/internal/logger"
	"github.com/canectors/viewexport/internal/modules/input"
	"github.com/canectors/viewexport/internal/pathutil"
	"github.com/canectors/viewexport/internal/reporting"
	"github.com/canectors/viewexport/internal/runtime"
	"github.com/canectors/viewexport/pkg/export"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type serverRequest struct {
	Server config.ServerSettings `json:"server"`
}

type viewsRequest struct {
	Server   config.ServerSettings `json:"server"`
	Workbook string                `json:"workbook"`
}

type columnsRequest struct {
	Source *export.SourceConfig `json:"source"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartExport accepts a configuration document and starts its run.
func (s *Server) handleStartExport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	cfg, err := config.NewLoader("").LoadBytes(body, config.FormatJSON)
	if err != nil {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			writeErrorDetails(w, http.StatusUnprocessableEntity, "invalid configuration", loadErr.Result.AllErrors())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	problems := config.CheckConfig(cfg, nil)
	if config.HasErrors(problems) {
		details := make([]string, 0, len(problems))
		for _, p := range problems {
			details = append(details, p.String())
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid configuration", Details: details})
		return
	}
	if err := s.confine(cfg); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "invalid configuration", Details: []string{err.Error()}})
		return
	}

	source, err := s.opts.Sources(cfg)
	if err != nil {
		writeError(w, statusForSourceError(err), err.Error())
		return
	}

	sink := newTaskSink()
	runner := runtime.NewRunner(*cfg, runtime.Options{
		Client:  s.opts.Clients(cfg.Server),
		Source:  source,
		Sink:    sink,
		Sleep:   s.opts.Sleep,
		History: s.opts.History,
	})
	t := &task{
		id:      runner.RunID(),
		config:  cfg.Name,
		created: time.Now(),
		sink:    sink,
	}
	t.handle = runner.Start(s.ctx)
	s.tasks.add(t)

	logger.Info("export task started",
		slog.String("task_id", t.id),
		slog.String("config_name", cfg.Name),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": t.id})
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tasks.get(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t.status())
}

func (s *Server) handleListExports(w http.ResponseWriter, _ *http.Request) {
	tasks := s.tasks.list()
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		st := t.status()
		st.Log = ""
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCancelExport requests a stop. The run ends after its current job.
func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tasks.get(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t.handle.Cancel()
	logger.Info("export task cancellation requested", slog.String("task_id", t.id))
	writeJSON(w, http.StatusAccepted, t.status())
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg := req.Server.Config()
	creds := reporting.CredentialsFromConfig(cfg)
	if err := reporting.TestConnection(r.Context(), s.opts.Clients(cfg), creds); err != nil {
		writeError(w, statusForClientError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	var req viewsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Workbook == "" {
		writeError(w, http.StatusBadRequest, "workbook is required")
		return
	}
	cfg := req.Server.Config()
	views, err := reporting.ListViews(r.Context(), s.opts.Clients(cfg), reporting.CredentialsFromConfig(cfg), req.Workbook)
	if err != nil {
		writeError(w, statusForClientError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"views": views})
}

func (s *Server) handleListColumns(w http.ResponseWriter, r *http.Request) {
	var req columnsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Source == nil {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	src := *req.Source
	if err := s.confineSource(&src); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, err := s.opts.Columns(src)
	if err != nil {
		writeError(w, statusForSourceError(err), err.Error())
		return
	}
	defer source.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	columns, err := source.Columns(ctx)
	if err != nil {
		writeError(w, statusForSourceError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"columns": columns})
}

// confine rewrites the paths of a submitted configuration under the
// server roots.
func (s *Server) confine(cfg *export.Config) error {
	dir, err := pathutil.ResolveUnder(s.opts.OutputRoot, cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("outputDir: %w", err)
	}
	cfg.OutputDir = dir
	return s.confineSource(&cfg.Source)
}

// confineSource resolves a file source under the data root. Database
// sources addressed by DSN carry no path.
func (s *Server) confineSource(src *export.SourceConfig) error {
	if src.Path == "" {
		return nil
	}
	p, err := pathutil.ResolveUnder(s.opts.DataRoot, src.Path)
	if err != nil {
		return fmt.Errorf("source.path: %w", err)
	}
	src.Path = p
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusForClientError maps a reporting error to the response status.
func statusForClientError(err error) int {
	switch errhandling.GetErrorCategory(err) {
	case errhandling.CategoryAuthentication:
		return http.StatusUnauthorized
	case errhandling.CategoryPermission:
		return http.StatusForbidden
	case errhandling.CategoryNotFound:
		return http.StatusNotFound
	case errhandling.CategoryValidation:
		return http.StatusBadRequest
	}
	if errors.Is(err, reporting.ErrItemNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func statusForSourceError(err error) int {
	switch {
	case errors.Is(err, input.ErrSourceNotFound), errors.Is(err, input.ErrSheetNotFound):
		return http.StatusNotFound
	case errors.Is(err, input.ErrInvalidSource), errors.Is(err, factory.ErrUnknownSourceType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, errs []error) {
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, e.Error())
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
