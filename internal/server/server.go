package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"otto/internal/platform"
	"otto/internal/sandbox"
)

// Config for the platform emulator handler.
type Config struct {
	Store    *sandbox.Store
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info,omitempty"`
	Status   int    `json:"status"`
}

type handler struct {
	store    *sandbox.Store
	basePath string
	log      *zap.Logger
}

// New returns an HTTP handler that speaks the platform's form-encoded
// resource API on top of the sandbox store.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("sandbox store required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{store: cfg.Store, basePath: basePath, log: log}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Route(basePath, func(r chi.Router) {
		r.Use(newAuthMiddleware(cfg.Auth))
		r.Get("/*", h.get)
		r.Post("/*", h.post)
		r.Delete("/*", h.delete)
	})
	return router, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

func segments(r *http.Request) []string {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

// collection resolves the parent segments of a collection path. Parent ids may
// be sids or unique names.
func (h *handler) collection(r *http.Request, segs []string) (platform.Collection, error) {
	kind := platform.Kind(segs[len(segs)-1])
	if !kind.Valid() {
		return platform.Collection{}, fmt.Errorf("unknown collection %s: %w", kind, platform.ErrNotFound)
	}
	if len(segs) == 1 {
		return platform.Root(kind), nil
	}
	parent, err := h.store.Resolve(r.Context(), strings.Join(segs[:len(segs)-1], "/"))
	if err != nil {
		return platform.Collection{}, err
	}
	return parent.Child(kind), nil
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	segs := segments(r)
	if len(segs) == 0 {
		writeError(w, fmt.Errorf("no resource: %w", platform.ErrNotFound))
		return
	}
	if len(segs)%2 == 0 {
		res, err := h.store.Resolve(r.Context(), strings.Join(segs, "/"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Properties)
		return
	}
	col, err := h.collection(r, segs)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.store.List(r.Context(), col)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writePage(w, r, col, items)
}

func (h *handler) writePage(w http.ResponseWriter, r *http.Request, col platform.Collection, items []platform.Resource) {
	pageSize := queryInt(r, "PageSize", 50)
	if pageSize <= 0 {
		pageSize = 50
	}
	page := queryInt(r, "Page", 0)
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	pageItems := make([]map[string]any, 0, end-start)
	for _, it := range items[start:end] {
		pageItems = append(pageItems, it.Properties)
	}
	var next any
	if end < len(items) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		next = fmt.Sprintf("%s://%s%s/%s?PageSize=%d&Page=%d", scheme, r.Host, h.basePath, col.Path(), pageSize, page+1)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		col.Kind.ListKey(): pageItems,
		"meta": map[string]any{
			"page":          page,
			"page_size":     pageSize,
			"key":           col.Kind.ListKey(),
			"next_page_url": next,
		},
	})
}

func (h *handler) post(w http.ResponseWriter, r *http.Request) {
	segs := segments(r)
	if len(segs) == 0 {
		writeError(w, fmt.Errorf("no resource: %w", platform.ErrNotFound))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeAPIError(w, http.StatusBadRequest, 20001, err.Error())
		return
	}
	attrs := platform.Attributes{}
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			attrs[k] = vals[0]
		}
	}
	if len(segs)%2 == 0 {
		current, err := h.store.Resolve(r.Context(), strings.Join(segs, "/"))
		if err != nil {
			writeError(w, err)
			return
		}
		updated, err := h.store.Update(r.Context(), current, attrs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated.Properties)
		return
	}
	col, err := h.collection(r, segs)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.store.Create(r.Context(), col, attrs)
	if err != nil {
		writeError(w, err)
		return
	}
	h.log.Debug("created", zap.String("kind", string(created.Kind)), zap.String("sid", created.SID))
	writeJSON(w, http.StatusCreated, created.Properties)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	segs := segments(r)
	if len(segs) == 0 || len(segs)%2 != 0 {
		writeAPIError(w, http.StatusMethodNotAllowed, 20004, "method not allowed on a collection")
		return
	}
	current, err := h.store.Resolve(r.Context(), strings.Join(segs, "/"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), current); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, platform.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, 20404, "The requested resource was not found")
	case errors.Is(err, sandbox.ErrConflict), errors.Is(err, sandbox.ErrHasChildren):
		writeAPIError(w, http.StatusConflict, 35002, err.Error())
	case errors.Is(err, sandbox.ErrInvalidParent):
		writeAPIError(w, http.StatusBadRequest, 20001, err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, 20500, err.Error())
	}
}

func writeAPIError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, apiErrorBody{Code: code, Message: msg, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
