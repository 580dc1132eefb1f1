// Package api exposes the record services over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crmstore/service"
)

type Handler struct {
	Customers    *service.CustomerService
	Interactions *service.InteractionService
	Logger       log.Logger
}

// NewRouter mounts the record endpoints. When gatherer is set its metrics
// are served on /metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/customers", func(r chi.Router) {
		r.Post("/", h.AddCustomer)
		r.Get("/", h.SearchCustomers)
		r.Get("/{id}", h.GetCustomer)
		r.Put("/{id}", h.UpdateCustomer)
		r.Delete("/{id}", h.DeleteCustomer)
	})

	r.Route("/interactions", func(r chi.Router) {
		r.Post("/", h.AddInteraction)
		r.Get("/{id}", h.GetInteraction)
		r.Put("/{id}", h.UpdateInteraction)
		r.Delete("/{id}", h.DeleteInteraction)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) logger() log.Logger {
	if h.Logger == nil {
		return log.NewNopLogger()
	}

	return h.Logger
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(h.logger()).Log("msg", "write response", "err", err)
	}
}

// writeError maps service errors to status codes. Internal failures are
// logged and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case service.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case service.IsInvalidInput(err):
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		level.Error(h.logger()).Log("msg", "request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// pathID parses the {id} route parameter, answering 400 when it is not an
// unsigned integer.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)

	if err != nil {
		h.badRequest(w, "invalid id")
		return 0, false
	}

	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		h.badRequest(w, "invalid body")
		return false
	}

	return true
}
