package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/backend"
	"github.com/saltfish/backtestlab/internal/domain"
	"github.com/saltfish/backtestlab/internal/session"
)

// maxUploadSize bounds strategy uploads.
const maxUploadSize = 10 << 20

// RunStore is the read side of the run journal.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, query domain.RunQuery) ([]*domain.Run, int, error)
}

// Handler exposes one session over REST.
type Handler struct {
	session *session.Session
	runs    RunStore
	logger  *zap.Logger
}

// NewHandler creates a Handler. runs may be nil when no journal is configured.
func NewHandler(sess *session.Session, runs RunStore, logger *zap.Logger) *Handler {
	return &Handler{
		session: sess,
		runs:    runs,
		logger:  logger,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// statusFor maps domain and backend errors onto HTTP statuses.
func statusFor(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownParameter),
		errors.Is(err, domain.ErrInvalidStrategyFile):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSubmissionInFlight),
		errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIncompleteSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionDisposed):
		return http.StatusGone
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"), "")
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err, "invalid request body")
		return false
	}
	return true
}

// respond writes the session state on success, or the mapped error.
func (h *Handler) respond(w http.ResponseWriter, err error, message string) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error(message, zap.Error(err))
		}
		writeError(w, status, err, message)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// HandleGetSession returns the current session state.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// HandleLoad re-fetches the option lists.
func (h *Handler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	err := h.session.Load(r.Context())
	if err != nil && !errors.Is(err, domain.ErrSessionDisposed) {
		writeError(w, http.StatusBadGateway, err, h.session.Error())
		return
	}
	h.respond(w, err, "failed to load options")
}

// ModeRequest is the body of POST /api/v1/session/mode.
type ModeRequest struct {
	Mode domain.Mode `json:"mode"`
}

// HandleSetMode switches between single and optimize.
func (h *Handler) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req ModeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.session.SetMode(req.Mode), "invalid mode")
}

// ValueRequest carries a single selection value.
type ValueRequest struct {
	Value string `json:"value"`
}

// selectionHandler builds a handler for one of the single-valued setters.
func (h *Handler) selectionHandler(set func(string) error, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(w, r, http.MethodPost) {
			return
		}
		var req ValueRequest
		if !decodeBody(w, r, &req) {
			return
		}
		h.respond(w, set(req.Value), message)
	}
}

// DatesRequest is the body of POST /api/v1/session/dates.
type DatesRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// HandleSetDates sets the backtest window.
func (h *Handler) HandleSetDates(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req DatesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.session.SetDates(req.StartDate, req.EndDate), "invalid dates")
}

// ParamRequest sets one single-mode parameter from raw text input.
type ParamRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HandleSetParam updates a concrete parameter value.
func (h *Handler) HandleSetParam(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req ParamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.session.SetParamValue(req.Name, req.Value), "invalid parameter")
}

// RangeRequest sets one field of a sweep range from raw text input.
type RangeRequest struct {
	Name  string            `json:"name"`
	Field domain.RangeField `json:"field"`
	Value string            `json:"value"`
}

// HandleSetRange updates a sweep range field.
func (h *Handler) HandleSetRange(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req RangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, h.session.SetParamRange(req.Name, req.Field, req.Value), "invalid range")
}

// HandleSubmit starts a run in the current mode. The response is the state
// right after submission; progress arrives on /ws or by polling the session.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	if err := h.session.Submit(); err != nil {
		h.respond(w, err, "submission rejected")
		return
	}
	writeJSON(w, http.StatusAccepted, h.session.Snapshot())
}

// HandleUploadStrategy forwards a multipart "file" field to the execution
// service and refreshes the strategy list.
func (h *Handler) HandleUploadStrategy(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "missing file field")
		return
	}
	defer file.Close()

	resp, err := h.session.UploadStrategy(r.Context(), header.Filename, file)
	if err != nil {
		h.respond(w, err, "File upload failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRunsResponse is the body of GET /api/v1/runs.
type ListRunsResponse struct {
	Runs       []*domain.Run             `json:"runs"`
	Pagination domain.PaginationResponse `json:"pagination"`
}

// HandleListRuns pages through the run journal.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run journal not configured"), "")
		return
	}

	var query domain.RunQuery
	params := r.URL.Query()
	if mode := params.Get("mode"); mode != "" {
		m := domain.Mode(mode)
		if !m.IsValid() {
			writeError(w, http.StatusBadRequest, domain.NewFieldError("mode", "must be one of single, optimize"), "")
			return
		}
		query.Mode = &m
	}
	if status := params.Get("status"); status != "" {
		s := domain.RunStatus(status)
		if !s.IsValid() {
			writeError(w, http.StatusBadRequest, domain.NewFieldError("status", "unknown run status"), "")
			return
		}
		query.Status = &s
	}
	if page, err := strconv.Atoi(params.Get("page")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(params.Get("page_size")); err == nil {
		query.PageSize = size
	}
	query.SetDefaults()

	runs, total, err := h.runs.List(r.Context(), query)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{
		Runs:       runs,
		Pagination: domain.NewPaginationResponse(total, query.Page, query.PageSize),
	})
}

// HandleGetRun returns one journal entry.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run journal not configured"), "")
		return
	}

	id, err := uuid.Parse(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "invalid run id")
		return
	}
	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		h.respond(w, err, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
