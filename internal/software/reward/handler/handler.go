package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"transit-pulse/internal/domain/reward"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/ports"
)

// RewardHTTPHandler adapts HTTP requests to the RewardService.
type RewardHTTPHandler struct {
	svc    ports.RewardService
	logger *logger.Logger
	auth   *jwt.Manager
}

func NewRewardHTTPHandler(svc ports.RewardService, logger *logger.Logger, auth *jwt.Manager) *RewardHTTPHandler {
	return &RewardHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts the credit balance and spend endpoints.
func (handler *RewardHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rewards/balance",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleBalance),
	)
	mux.HandleFunc("POST /rewards/purchase/proximity",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handlePurchaseProximity),
	)
}

func (handler *RewardHTTPHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	res, err := handler.svc.Balance(ctx, claims.Subject)
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, res)
}

func (handler *RewardHTTPHandler) handlePurchaseProximity(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	res, err := handler.svc.PurchaseProximityAlerts(ctx, claims.Subject)
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, res)
}

// ----- general helpers -----

func statusFor(err error) int {
	switch {
	case errors.Is(err, reward.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, postgres.ErrRiderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (handler *RewardHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
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

func (handler *RewardHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

func (handler *RewardHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
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
