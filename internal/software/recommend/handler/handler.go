package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"transit-pulse/internal/domain/geo"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/ports"
)

// RecommendHTTPHandler adapts HTTP requests to the RecommendService.
type RecommendHTTPHandler struct {
	svc    ports.RecommendService
	logger *logger.Logger
	auth   *jwt.Manager
}

func NewRecommendHTTPHandler(svc ports.RecommendService, logger *logger.Logger, auth *jwt.Manager) *RecommendHTTPHandler {
	return &RecommendHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts recommendation endpoints on the provided mux.
func (handler *RecommendHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /recommendations",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider, user.RoleOperator)(handler.handleRecommend),
	)
}

func (handler *RecommendHTTPHandler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	q := r.URL.Query()
	in := ports.RecommendInput{}
	var err error
	if in.OriginLat, err = parseCoord(q.Get("origin_lat")); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "origin_lat is required and must be a number", err)
		return
	}
	if in.OriginLng, err = parseCoord(q.Get("origin_lng")); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "origin_lng is required and must be a number", err)
		return
	}
	if in.DestLat, err = parseCoord(q.Get("dest_lat")); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "dest_lat is required and must be a number", err)
		return
	}
	if in.DestLng, err = parseCoord(q.Get("dest_lng")); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "dest_lng is required and must be a number", err)
		return
	}

	recs, err := handler.svc.Recommend(ctx, in)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, geo.ErrInvalidLatitude) || errors.Is(err, geo.ErrInvalidLongitude) {
			status = http.StatusBadRequest
		}
		handler.httpError(ctx, w, status, err.Error(), err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func parseCoord(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, errors.New("missing coordinate")
	}
	return strconv.ParseFloat(s, 64)
}

// ----- general helpers -----

func (handler *RecommendHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
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

func (handler *RecommendHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
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

func (handler *RecommendHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
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
