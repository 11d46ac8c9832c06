package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/httputil"
	"github.com/carelink/callsignal/internal/service"
)

type CallHandler struct {
	callService *service.CallService
}

func NewCallHandler(callService *service.CallService) *CallHandler {
	return &CallHandler{
		callService: callService,
	}
}

func (h *CallHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/calls", h.CreateCall)
	r.Get("/calls/incoming", h.ListIncoming)
	r.Get("/calls/outgoing", h.ListOutgoing)
	r.Get("/calls/{legID}", h.GetStatus)
	r.Post("/calls/{legID}/accept", h.AcceptCall)
	r.Post("/calls/{legID}/reject", h.RejectCall)
	r.Post("/calls/{legID}/end", h.EndCall)
	r.Post("/groups/{groupSessionID}/end", h.EndGroupCall)
	r.Get("/groups/{groupSessionID}/roster", h.Roster)

	return r
}

// POST /v1/calls
func (h *CallHandler) CreateCall(w http.ResponseWriter, r *http.Request) {
	var params service.CreateCallParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	result, err := h.callService.CreateCall(r.Context(), params)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Msg("create call failed")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

type actorRequest struct {
	CalleeID string `json:"calleeId"`
	ActorID  string `json:"actorId"`
}

// POST /v1/calls/{legID}/accept
func (h *CallHandler) AcceptCall(w http.ResponseWriter, r *http.Request) {
	legID := chi.URLParam(r, "legID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CalleeID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("calleeId"))
		return
	}

	result, err := h.callService.AcceptCall(r.Context(), legID, req.CalleeID)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("legId", legID).Msg("accept call failed")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// POST /v1/calls/{legID}/reject
func (h *CallHandler) RejectCall(w http.ResponseWriter, r *http.Request) {
	legID := chi.URLParam(r, "legID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CalleeID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("calleeId"))
		return
	}

	result, err := h.callService.RejectCall(r.Context(), legID, req.CalleeID)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("legId", legID).Msg("reject call failed")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// POST /v1/calls/{legID}/end
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	legID := chi.URLParam(r, "legID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("actorId"))
		return
	}

	result, err := h.callService.EndCall(r.Context(), legID, req.ActorID)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("legId", legID).Msg("end call failed")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// POST /v1/groups/{groupSessionID}/end
func (h *CallHandler) EndGroupCall(w http.ResponseWriter, r *http.Request) {
	groupSessionID := chi.URLParam(r, "groupSessionID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActorID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("actorId"))
		return
	}

	result, err := h.callService.EndGroupCall(r.Context(), groupSessionID, req.ActorID)
	if err != nil {
		if !apperrors.IsAppError(err) {
			log.Error().Err(err).Str("groupSessionId", groupSessionID).Msg("end group call failed")
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// GET /v1/calls/{legID}
func (h *CallHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	legID := chi.URLParam(r, "legID")

	leg, err := h.callService.GetStatus(r.Context(), legID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, leg)
}

// GET /v1/calls/incoming?calleeId=
func (h *CallHandler) ListIncoming(w http.ResponseWriter, r *http.Request) {
	calleeID := r.URL.Query().Get("calleeId")

	legs, err := h.callService.ListIncoming(r.Context(), calleeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, legs)
}

// GET /v1/calls/outgoing?callerId=
func (h *CallHandler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	callerID := r.URL.Query().Get("callerId")

	legs, err := h.callService.ListOutgoing(r.Context(), callerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, legs)
}

// GET /v1/groups/{groupSessionID}/roster?exclude=
func (h *CallHandler) Roster(w http.ResponseWriter, r *http.Request) {
	groupSessionID := chi.URLParam(r, "groupSessionID")
	exclude := r.URL.Query().Get("exclude")

	roster, err := h.callService.Roster(r.Context(), groupSessionID, exclude)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, roster)
}
