package activity

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// Handler exposes the activity endpoints. Every route expects the tenant
// middleware to have bound the acting user.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type ListResponse struct {
	Activities []entity.Activity `json:"activities"`
	Count      int               `json:"count"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

func listOf(items []entity.Activity) ListResponse {
	if items == nil {
		items = []entity.Activity{}
	}
	return ListResponse{Activities: items, Count: len(items)}
}

func (h *Handler) acting(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		apperr.Write(w, h.logger, apperr.Unauthenticated("authentication required"))
	}
	return tc, ok
}

// PathID reads a positive integer path value.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	f, err := entity.FilterFromQuery(r.URL.Query())
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	items, err := h.svc.List(r.Context(), tc, f)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, listOf(items))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	a, err := h.svc.Get(r.Context(), tc, id)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	var d entity.Draft
	if err := utilities.DecodeJSON(r, &d); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	a, err := h.svc.Create(r.Context(), tc, d)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, a)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	var p entity.Patch
	if err := utilities.DecodeJSON(r, &p); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	a, err := h.svc.Update(r.Context(), tc, id, p)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	var req StatusRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	a, err := h.svc.UpdateStatus(r.Context(), tc, id, req.Status)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := h.svc.Delete(r.Context(), tc, id); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "activity deleted"})
}

func (h *Handler) ByDate(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ByDate(r.Context(), tc, r.PathValue("date"))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, listOf(items))
}

func (h *Handler) ByStatus(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ByStatus(r.Context(), tc, r.PathValue("status"))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, listOf(items))
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	cats, err := h.svc.Categories(r.Context(), tc)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	utilities.WriteJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Stats(r.Context(), tc)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, st)
}
