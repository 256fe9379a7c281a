package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/route"
	"transit-pulse/internal/domain/trace"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/ports"
)

// ConsensusHTTPHandler adapts HTTP requests to the ConsensusService.
type ConsensusHTTPHandler struct {
	svc    ports.ConsensusService
	logger *logger.Logger
	auth   *jwt.Manager
}

func NewConsensusHTTPHandler(svc ports.ConsensusService, logger *logger.Logger, auth *jwt.Manager) *ConsensusHTTPHandler {
	return &ConsensusHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts trace and suggestion-review endpoints.
func (handler *ConsensusHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /traces",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleSubmitTrace),
	)
	// geometry review is an operator action
	mux.HandleFunc("POST /routes/{route_id}/suggestion/accept",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleOperator)(handler.handleAccept),
	)
	mux.HandleFunc("POST /routes/{route_id}/suggestion/reject",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleOperator)(handler.handleReject),
	)
}

type submitTraceRequest struct {
	RouteID   string       `json:"route_id"`
	Points    []geo.LatLng `json:"points"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
}

func (handler *ConsensusHTTPHandler) handleSubmitTrace(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	var req submitTraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := handler.svc.SubmitTrace(ctx, ports.SubmitTraceInput{
		RiderID:   claims.Subject,
		RouteID:   req.RouteID,
		Points:    req.Points,
		StartedAt: req.StartedAt,
		EndedAt:   req.EndedAt,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusAccepted, res)
}

func (handler *ConsensusHTTPHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	res, err := handler.svc.AcceptSuggestion(ctx, r.PathValue("route_id"))
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, res)
}

func (handler *ConsensusHTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	if err := handler.svc.RejectSuggestion(ctx, r.PathValue("route_id")); err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"message": "suggestion rejected, source traces discarded"})
}

// ----- general helpers -----

func statusFor(err error) int {
	switch {
	case errors.Is(err, postgres.ErrRouteNotFound),
		errors.Is(err, route.ErrNoSuggestedPath):
		return http.StatusNotFound
	case errors.Is(err, trace.ErrTooShort),
		errors.Is(err, trace.ErrEmptyRouteID),
		errors.Is(err, trace.ErrBadInterval),
		errors.Is(err, geo.ErrInvalidLatitude),
		errors.Is(err, geo.ErrInvalidLongitude):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (handler *ConsensusHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func (handler *ConsensusHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

func (handler *ConsensusHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
