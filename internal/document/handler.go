package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"docgraph/internal/document/model"
	"docgraph/internal/document/service"
	"docgraph/middleware"
	"docgraph/pkg/apperr"
	"docgraph/pkg/logger"
)

type DocumentHandler struct {
	Service *service.DocumentService
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{Service: service}
}

func (h *DocumentHandler) EditMany(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireRequest(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.EditManyRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, "EditMany", err)
		return
	}
	if req.Documents == nil {
		fail(w, r, "EditMany", apperr.Kind(apperr.ErrInvalidInput, errors.New("documents must be an array")))
		return
	}

	if err := h.Service.EditMany(r.Context(), userEmail, req.Documents); err != nil {
		fail(w, r, "EditMany", err)
		return
	}
	succeed(w)
}

func (h *DocumentHandler) EditFile(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireRequest(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.Descriptor
	if err := decode(r, &req); err != nil {
		fail(w, r, "EditFile", err)
		return
	}

	if err := h.Service.EditFile(r.Context(), userEmail, req); err != nil {
		fail(w, r, "EditFile", err)
		return
	}
	succeed(w)
}

func (h *DocumentHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireRequest(w, r, http.MethodGet)
	if !ok {
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("uid"))
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fail(w, r, "DeleteFile", apperr.Kind(apperr.ErrInvalidInput, err))
		return
	}

	if err := h.Service.DeleteFile(r.Context(), userEmail, uid); err != nil {
		fail(w, r, "DeleteFile", err)
		return
	}
	succeed(w)
}

func (h *DocumentHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireRequest(w, r, http.MethodPost)
	if !ok {
		return
	}

	var req model.UserState
	if err := decode(r, &req); err != nil {
		fail(w, r, "UpdateUser", err)
		return
	}

	if err := h.Service.UpdateUser(r.Context(), userEmail, req); err != nil {
		fail(w, r, "UpdateUser", err)
		return
	}
	succeed(w)
}

// GetUserData always answers for the verified caller; a userEmail query
// parameter from older clients is ignored.
func (h *DocumentHandler) GetUserData(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireRequest(w, r, http.MethodGet)
	if !ok {
		return
	}
	if q := r.URL.Query().Get("userEmail"); q != "" && q != userEmail {
		logger.Sugar.Warnf("Handler: ignoring userEmail=%s, serving verified caller %s", q, userEmail)
	}

	data, err := h.Service.GetUserData(r.Context(), userEmail)
	if err != nil {
		fail(w, r, "GetUserData", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, data)
}

func requireRequest(w http.ResponseWriter, r *http.Request, method string) (string, bool) {
	if r.Method != method {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return "", false
	}
	userEmail, ok := middleware.UserEmail(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing verified email claim")
		return "", false
	}
	return userEmail, true
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apperr.Kind(apperr.ErrInvalidInput, err)
	}
	return nil
}

// fail reports every operation failure the same way: 500 with the raw error.
// Only the log line depends on the error kind.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	fields := []any{"request_id", middleware.RequestID(r.Context()), "error", err}
	switch {
	case apperr.IsInvalidInput(err):
		logger.Sugar.Warnw("Handler: "+op+" rejected input", append(fields, "kind", "invalid_input")...)
	case apperr.IsGraph(err):
		logger.Sugar.Errorw("Handler: "+op+" failed", append(fields, "kind", "graph")...)
	default:
		logger.Sugar.Errorw("Handler: "+op+" failed", append(fields, "kind", "internal")...)
	}
	middleware.WriteError(w, http.StatusInternalServerError, err.Error())
}

func succeed(w http.ResponseWriter) {
	middleware.WriteJSON(w, http.StatusOK, model.SuccessResponse{Success: true})
}
