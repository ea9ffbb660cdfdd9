package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gopkg.in/go-playground/validator.v9"

	"github.com/yairfalse/warden/compliance"
	"github.com/yairfalse/warden/pkg/resource"
)

const defaultTimelineLimit = 20

type handler struct {
	deps       Dependencies
	driftLimit int
	validate   *validator.Validate
}

func newHandler(deps Dependencies, driftLimit int) *handler {
	return &handler{deps: deps, driftLimit: driftLimit, validate: validator.New()}
}

type createAccountRequest struct {
	Provider   string `json:"provider" validate:"required,oneof=aws gcp"`
	Identifier string `json:"identifier" validate:"required"`
	Name       string `json:"name"`
}

type evaluationResponse struct {
	resource.Evaluation
	Categories map[string]resource.CategoryScore `json:"categories"`
}

func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.deps.Accounts.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []resource.Account{}
	}
	writeJSON(w, r, http.StatusOK, accounts)
}

func (h *handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: decode body: %w", errBadRequest, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.deps.Accounts.PutAccount(r.Context(), resource.Account{
		Provider:   resource.Provider(req.Provider),
		Identifier: req.Identifier,
		Name:       req.Name,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, account)
}

func (h *handler) Materialize(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Materializer.Materialize(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	inventory, err := h.deps.Posture.Inventory(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, inventory)
}

func (h *handler) Scorecard(w http.ResponseWriter, r *http.Request) {
	card, err := h.deps.Posture.Scorecard(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, card)
}

func (h *handler) DriftOverview(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, h.driftLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	overview, err := h.deps.Drift.Overview(r.Context(), chi.URLParam(r, "account"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, overview)
}

func (h *handler) DriftItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.deps.Drift.Item(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

func (h *handler) DriftTimeline(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultTimelineLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	timeline, err := h.deps.Drift.Timeline(r.Context(), chi.URLParam(r, "key"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, timeline)
}

func (h *handler) ListFrameworks(w http.ResponseWriter, r *http.Request) {
	frameworks, err := h.deps.Frameworks.ListFrameworks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if frameworks == nil {
		frameworks = []resource.Framework{}
	}
	writeJSON(w, r, http.StatusOK, frameworks)
}

func (h *handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	evaluation, err := h.deps.Compliance.Evaluate(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "framework"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, evaluationResponse{
		Evaluation: evaluation,
		Categories: compliance.CategoryBreakdown(evaluation),
	})
}

func (h *handler) LatestEvaluation(w http.ResponseWriter, r *http.Request) {
	evaluation, err := h.deps.Compliance.Latest(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "framework"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, evaluationResponse{
		Evaluation: evaluation,
		Categories: compliance.CategoryBreakdown(evaluation),
	})
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest)
	}
	return limit, nil
}
