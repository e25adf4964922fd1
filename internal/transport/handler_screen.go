package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/internal/screen"
	"github.com/pitabwire/backoffice/model"
)

// Screens mounts and finds the screens of a session.
type Screens interface {
	Mount(ctx context.Context, s *model.Session, screenID string) (*screen.Mounted, error)
	Get(s *model.Session, screenID string) (*screen.Mounted, error)
	Unmount(s *model.Session, screenID string)
}

type screenResponse struct {
	Screen *metadata.ScreenDescriptor `json:"screen,omitempty"`
	screen.View
}

type mutationResponse struct {
	Result any `json:"result"`
	screen.View
}

type searchRequest struct {
	Text string `json:"text"`
}

type filterRequest struct {
	Value string `json:"value"`
}

type pageRequest struct {
	Page int `json:"page"`
}

type statusRequest struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"extra"`
}

type screenHandlers struct {
	screens        Screens
	maxUploadBytes int64
}

// mounted resolves the session and the mounted screen named in the route.
func (h *screenHandlers) mounted(w http.ResponseWriter, r *http.Request) (*screen.Mounted, bool) {
	s := model.SessionFrom(r.Context())
	if s == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing session"))
		return nil, false
	}
	m, err := h.screens.Get(s, chi.URLParam(r, "screenId"))
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return m, true
}

func (h *screenHandlers) mount(w http.ResponseWriter, r *http.Request) {
	s := model.SessionFrom(r.Context())
	if s == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing session"))
		return
	}
	m, err := h.screens.Mount(r.Context(), s, chi.URLParam(r, "screenId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	desc := m.Descriptor()
	WriteJSON(w, http.StatusOK, screenResponse{Screen: &desc, View: m.View()})
}

func (h *screenHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, screenResponse{View: m.View()})
}

func (h *screenHandlers) unmount(w http.ResponseWriter, r *http.Request) {
	s := model.SessionFrom(r.Context())
	if s == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing session"))
		return
	}
	h.screens.Unmount(s, chi.URLParam(r, "screenId"))
	w.WriteHeader(http.StatusNoContent)
}

// search schedules a debounced fetch and answers before it runs.
func (h *screenHandlers) search(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := m.SetSearchText(req.Text); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, screenResponse{View: m.View()})
}

func (h *screenHandlers) filter(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	h.respondAfter(w, r, m, m.SetFilter(r.Context(), chi.URLParam(r, "key"), req.Value))
}

func (h *screenHandlers) page(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	var req pageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	h.respondAfter(w, r, m, m.SetPage(r.Context(), req.Page))
}

func (h *screenHandlers) refetch(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	h.respondAfter(w, r, m, m.Refetch(r.Context()))
}

func (h *screenHandlers) create(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	in, err := readInput(w, r, h.maxUploadBytes)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := m.Create(r.Context(), in)
	h.respondMutation(w, r, m, http.StatusCreated, res, err)
}

func (h *screenHandlers) update(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	in, err := readInput(w, r, h.maxUploadBytes)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := m.Update(r.Context(), chi.URLParam(r, "id"), in)
	h.respondMutation(w, r, m, http.StatusOK, res, err)
}

func (h *screenHandlers) remove(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	res, err := m.Delete(r.Context(), chi.URLParam(r, "id"))
	h.respondMutation(w, r, m, http.StatusOK, res, err)
}

func (h *screenHandlers) status(w http.ResponseWriter, r *http.Request) {
	m, ok := h.mounted(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Status == "" {
		WriteError(w, r, model.NewValidationError([]model.FieldError{{Field: "status", Code: "REQUIRED", Message: "Status is required"}}))
		return
	}
	res, err := m.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Extra)
	h.respondMutation(w, r, m, http.StatusOK, res, err)
}

// respondAfter answers a list operation. Remote failures already live in
// the screen state, so only request errors become error responses.
func (h *screenHandlers) respondAfter(w http.ResponseWriter, r *http.Request, m *screen.Mounted, err error) {
	if err != nil && !model.IsTransport(err) {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, screenResponse{View: m.View()})
}

func (h *screenHandlers) respondMutation(w http.ResponseWriter, r *http.Request, m *screen.Mounted, status int, res any, err error) {
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, status, mutationResponse{Result: res, View: m.View()})
}
