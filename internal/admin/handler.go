package admin

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity"
	activityentity "github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// Handler exposes the admin endpoints. Routes are expected to sit behind
// session.RequireAdmin; the service re-checks the flag regardless.
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

func (h *Handler) acting(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		apperr.Write(w, h.logger, apperr.Unauthenticated("authentication required"))
	}
	return tc, ok
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	perPage, err := queryInt(r, "perPage", DefaultPerPage)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	out, err := h.svc.ListUsers(r.Context(), tc, page, perPage, r.URL.Query().Get("search"))
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := activity.PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	u, err := h.svc.GetUser(r.Context(), tc, id)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, u.Profile())
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	var in NewUser
	if err := utilities.DecodeJSON(r, &in); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	u, err := h.svc.CreateUser(r.Context(), tc, in)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, u.Profile())
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := activity.PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	var in UserUpdate
	if err := utilities.DecodeJSON(r, &in); err != nil {
		apperr.Write(w, h.logger, apperr.Validation("invalid payload"))
		return
	}
	u, err := h.svc.UpdateUser(r.Context(), tc, id, in)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, u.Profile())
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := activity.PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if err := h.svc.DeleteUser(r.Context(), tc, id); err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func (h *Handler) UserActivities(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	id, err := activity.PathID(r, "id")
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	f, err := activityentity.FilterFromQuery(r.URL.Query())
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	items, err := h.svc.UserActivities(r.Context(), tc, id, f)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	if items == nil {
		items = []activityentity.Activity{}
	}
	utilities.WriteJSON(w, http.StatusOK, activity.ListResponse{Activities: items, Count: len(items)})
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

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	tc, ok := h.acting(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Dashboard(r.Context(), tc)
	if err != nil {
		apperr.Write(w, h.logger, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, d)
}
