package server

import (
	"errors"
	"io"
	"net/http"

	"event-attach/internal/session"
	"event-attach/internal/store"
	"event-attach/internal/stream"
	"event-attach/internal/window"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

// maxBodySize 는 요청 body 상한이다. 요청은 filter 나 window 크기 정도라 작다.
const maxBodySize = 64 << 10

type Handler struct {
	sessions *session.Manager
	gatherer prometheus.Gatherer
}

// NewHandler 는 세션 API 와 /metrics 를 서빙한다. g 는 metrics.Register 한 registry.
func NewHandler(sessions *session.Manager, g prometheus.Gatherer) *Handler {
	return &Handler{
		sessions: sessions,
		gatherer: g,
	}
}

// targetRequest 는 첨부 대상 리소스이다. 하나라도 비어 있으면 연결하지 않는다.
type targetRequest struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	UID       string `json:"uid"`
}

func (t targetRequest) filter() stream.Filter {
	return stream.Filter{Kind: t.Kind, Name: t.Name, Namespace: t.Namespace, UID: t.UID}
}

// Routes
// ------------------------------------------------------------
// 엔드포인트:
//   - POST   /sessions                 : 세션 생성 + watch 시작
//   - GET    /sessions/{id}            : 상태 (UI polling)
//   - PUT    /sessions/{id}/window     : window 크기 {"size": n | null}
//   - PUT    /sessions/{id}/target     : 대상 변경 (새 연결, 빈 buffer)
//   - GET    /sessions/{id}/preview    : 지금 기준 첨부 미리보기
//   - POST   /sessions/{id}/submit     : 첨부 제출 후 세션 종료
//   - DELETE /sessions/{id}            : 세션 종료 (다이얼로그 닫힘)
//   - GET    /metrics, /health
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.handleOpen)
	mux.HandleFunc("GET /sessions/{id}", h.handleStatus)
	mux.HandleFunc("PUT /sessions/{id}/window", h.handleWindow)
	mux.HandleFunc("PUT /sessions/{id}/target", h.handleTarget)
	mux.HandleFunc("GET /sessions/{id}/preview", h.handlePreview)
	mux.HandleFunc("POST /sessions/{id}/submit", h.handleSubmit)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleClose)

	mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return accessLog(mux)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !readJSON(w, r, &req) {
		return
	}

	s, err := h.sessions.Open(req.filter())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Status())
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *Handler) handleWindow(w http.ResponseWriter, r *http.Request) {
	var req window.Request
	if !readJSON(w, r, &req) {
		return
	}

	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.SetWindow(req.Size); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *Handler) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !readJSON(w, r, &req) {
		return
	}

	s, err := h.sessions.Retarget(r.PathValue("id"), req.filter())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.Preview()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSubmit 은 첨부를 store 로 넘긴다. 저장 완료를 기다리지 않으므로 202.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, err := h.sessions.Submit(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ------------------------------------------------------------
// JSON helpers
// ------------------------------------------------------------

type errorBody struct {
	Error string `json:"error"`
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("write response failed")
	}
}

// writeError 는 도메인 에러를 HTTP 상태 코드로 바꾼다.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrTooManySessions):
		status = http.StatusTooManyRequests
	case errors.Is(err, session.ErrNothingToExport):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusGone
	case errors.Is(err, session.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrQueueFull), errors.Is(err, store.ErrDispatcherClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		zlog.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
