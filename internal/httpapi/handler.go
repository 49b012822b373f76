// Package httpapi implements the HTTP surface of the establishment service.
//
// Search and offer routes identify the caller with an x-api-consumer header
// forwarded by the gateway.
//
// Routes:
//
//	GET    /health                                 → liveness
//	GET    /v2/search                              → search immersion offers
//	GET    /v2/offers/{siret}/{appellationCode}    → one offer (x-api-consumer required)
//	POST   /establishments                         → create from the form
//	PUT    /establishments/{siret}                 → update from the form
//	DELETE /establishments/{siret}                 → delete and tombstone
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/ingestion"
	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
	"github.com/betagouv/l-immersion-facile-sub002/internal/search"
)

const consumerHeader = "x-api-consumer"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ─── Use cases ───────────────────────────────────────────────────────────────

// Searcher runs a search.
type Searcher interface {
	Execute(ctx context.Context, params search.Params, consumer *search.APIConsumer) ([]model.SearchResult, error)
}

// OfferGetter reads one offer.
type OfferGetter interface {
	Execute(ctx context.Context, siret, appellationCode string) (*model.SearchResult, error)
}

// FormSubmitter creates or updates an establishment from the form.
type FormSubmitter interface {
	Execute(ctx context.Context, form ingestion.FormEstablishment) error
}

// Deleter deletes an establishment.
type Deleter interface {
	Execute(ctx context.Context, siret string) error
}

// UseCases are the operations exposed over HTTP.
type UseCases struct {
	Search      Searcher
	GetOffer    OfferGetter
	InsertForm  FormSubmitter
	UpdateForm  FormSubmitter
	Delete      Deleter
	ServiceName string
	Version     string
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler serves the HTTP routes.
type Handler struct {
	uc     UseCases
	logger *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(uc UseCases, logger *zap.Logger) *Handler {
	return &Handler{uc: uc, logger: logger}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/v2", func(r chi.Router) {
		r.Get("/search", h.searchImmersion)
		r.Get("/offers/{siret}/{appellationCode}", h.getOffer)
	})
	r.Route("/establishments", func(r chi.Router) {
		r.Post("/", h.createEstablishment)
		r.Put("/{siret}", h.updateEstablishment)
		r.Delete("/{siret}", h.deleteEstablishment)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": h.uc.ServiceName,
		"version": h.uc.Version,
	})
}

func (h *Handler) searchImmersion(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r.URL.Query())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var consumer *search.APIConsumer
	if name := r.Header.Get(consumerHeader); name != "" {
		consumer = &search.APIConsumer{Name: name}
	}
	results, err := h.uc.Search.Execute(r.Context(), params, consumer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) getOffer(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(consumerHeader) == "" {
		jsonError(w, "missing "+consumerHeader+" header", http.StatusUnauthorized)
		return
	}
	siret := chi.URLParam(r, "siret")
	if !model.IsValidSiret(siret) {
		jsonError(w, fmt.Sprintf("invalid siret %q", siret), http.StatusBadRequest)
		return
	}

	result, err := h.uc.GetOffer.Execute(r.Context(), siret, chi.URLParam(r, "appellationCode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createEstablishment(w http.ResponseWriter, r *http.Request) {
	form, ok := decodeForm(w, r)
	if !ok {
		return
	}
	if err := h.uc.InsertForm.Execute(r.Context(), form); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"siret": form.Siret})
}

func (h *Handler) updateEstablishment(w http.ResponseWriter, r *http.Request) {
	form, ok := decodeForm(w, r)
	if !ok {
		return
	}
	if siret := chi.URLParam(r, "siret"); form.Siret != siret {
		jsonError(w, fmt.Sprintf("siret %s in body does not match %s in path", form.Siret, siret), http.StatusBadRequest)
		return
	}
	if err := h.uc.UpdateForm.Execute(r.Context(), form); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteEstablishment(w http.ResponseWriter, r *http.Request) {
	siret := chi.URLParam(r, "siret")
	if !model.IsValidSiret(siret) {
		jsonError(w, fmt.Sprintf("invalid siret %q", siret), http.StatusBadRequest)
		return
	}
	if err := h.uc.Delete.Execute(r.Context(), siret); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeForm(w http.ResponseWriter, r *http.Request) (ingestion.FormEstablishment, bool) {
	var form ingestion.FormEstablishment
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return form, false
	}
	if err := validate.Struct(form); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return form, false
	}
	return form, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
