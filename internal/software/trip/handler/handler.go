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

	"transit-pulse/internal/broadcast"
	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/trip"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/monitor"
	"transit-pulse/internal/ports"
)

// TripHTTPHandler adapts HTTP requests to the TripService.
type TripHTTPHandler struct {
	svc      ports.TripService
	logger   *logger.Logger
	auth     *jwt.Manager
	monitors *monitor.Manager
	ws       *broadcast.WSGateway
}

// NewTripHTTPHandler wires an HTTP handler around the TripService.
func NewTripHTTPHandler(
	svc ports.TripService,
	logger *logger.Logger,
	auth *jwt.Manager,
	monitors *monitor.Manager,
	ws *broadcast.WSGateway,
) *TripHTTPHandler {
	return &TripHTTPHandler{svc: svc, logger: logger, auth: auth, monitors: monitors, ws: ws}
}

// RegisterRoutes mounts trip endpoints on the provided mux.
func (handler *TripHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /trips",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleStartTrip),
	)
	mux.HandleFunc("POST /trips/position",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleReportPosition),
	)
	mux.HandleFunc("POST /trips/end",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleEndTrip),
	)
	mux.HandleFunc("POST /trips/prompt/ack",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handlePromptAck),
	)
	mux.HandleFunc("POST /trips/deviation/ack",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleDeviationAck),
	)

	// WebSocket authenticates itself (token query param)
	mux.HandleFunc("GET /ws/live", handler.ws.ConnectViewer)

	mux.HandleFunc("GET /trips/health", handler.handleHealth)
	mux.HandleFunc("POST /tokens", handler.handleCreateToken)
}

// ----- endpoints -----

type startTripRequest struct {
	RouteID           *string `json:"route_id,omitempty"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	DestinationStopID *string `json:"destination_stop_id,omitempty"`
}

func (handler *TripHTTPHandler) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	var req startTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := handler.svc.StartTrip(ctx, ports.StartTripInput{
		RiderID:           claims.Subject,
		RouteID:           req.RouteID,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		DestinationStopID: req.DestinationStopID,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusCreated, res)
}

type positionRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (handler *TripHTTPHandler) handleReportPosition(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := handler.svc.ReportPosition(ctx, ports.ReportPositionInput{
		RiderID:   claims.Subject,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, res)
}

func (handler *TripHTTPHandler) handleEndTrip(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	res, err := handler.svc.EndTrip(ctx, claims.Subject)
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, res)
}

func (handler *TripHTTPHandler) handlePromptAck(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	if !handler.monitors.AcknowledgePromptByRider(claims.Subject, time.Now().UTC()) {
		handler.httpError(ctx, w, http.StatusNotFound, "no watched trip for rider", nil)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"message": "still on board, watchers reset"})
}

func (handler *TripHTTPHandler) handleDeviationAck(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	if !handler.monitors.AcknowledgeDeviationByRider(claims.Subject, time.Now().UTC()) {
		handler.httpError(ctx, w, http.StatusNotFound, "no watched trip for rider", nil)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"message": "deviation alerts silenced"})
}

func (handler *TripHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----- token issuing (development convenience, mirrors the auth service) -----

type TokenRequest struct {
	UserID string    `json:"user_id"`
	Role   user.Role `json:"role"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      user.Role `json:"role"`
}

func (handler *TripHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	tokenString, claims, err := handler.auth.IssueUserToken(req.UserID, req.Role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	handler.logger.Info(ctx, "token_generated", "JWT token generated successfully",
		map[string]any{"user_id": req.UserID, "role": req.Role.String()})

	handler.jsonResponse(ctx, w, http.StatusCreated, TokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    req.UserID,
		Role:      req.Role,
	})
}

// ----- general helpers -----

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trip.ErrActiveTripExists):
		return http.StatusConflict
	case errors.Is(err, trip.ErrNoActiveTrip),
		errors.Is(err, trip.ErrTripNotActive),
		errors.Is(err, postgres.ErrRouteNotFound),
		errors.Is(err, postgres.ErrRiderNotFound):
		return http.StatusNotFound
	case errors.Is(err, trip.ErrEmptyRiderID),
		errors.Is(err, trip.ErrMissingPosition),
		errors.Is(err, trip.ErrBadDestination),
		errors.Is(err, geo.ErrInvalidLatitude),
		errors.Is(err, geo.ErrInvalidLongitude):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (handler *TripHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// encode to buffer first so we can control status on failure
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error response with a message.
func (handler *TripHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
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

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *TripHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
