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
	"transit-pulse/internal/domain/report"
	"transit-pulse/internal/domain/user"
	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"
	"transit-pulse/internal/general/postgres"
	"transit-pulse/internal/ports"
)

// ReportHTTPHandler adapts HTTP requests to the ReportService.
type ReportHTTPHandler struct {
	svc    ports.ReportService
	logger *logger.Logger
	auth   *jwt.Manager
}

func NewReportHTTPHandler(svc ports.ReportService, logger *logger.Logger, auth *jwt.Manager) *ReportHTTPHandler {
	return &ReportHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts the incident report endpoints.
func (handler *ReportHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /reports",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleCreate),
	)
	mux.HandleFunc("POST /reports/{report_id}/confirm",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleConfirm),
	)
	mux.HandleFunc("POST /reports/{report_id}/resolve",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider)(handler.handleResolve),
	)
	mux.HandleFunc("GET /reports/nearby",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleRider, user.RoleOperator)(handler.handleNearby),
	)
}

type createReportRequest struct {
	RouteID     *string `json:"route_id,omitempty"`
	Type        string  `json:"type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
}

func (handler *ReportHTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	view, err := handler.svc.CreateReport(ctx, ports.CreateReportInput{
		RiderID:     claims.Subject,
		RouteID:     req.RouteID,
		Type:        req.Type,
		Latitude:    req.Lat,
		Longitude:   req.Lng,
		Description: req.Description,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusCreated, view)
}

func (handler *ReportHTTPHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	view, err := handler.svc.ConfirmReport(ctx, r.PathValue("report_id"), claims.Subject)
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, view)
}

func (handler *ReportHTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	claims := jwt.RequireClaims(r)

	if err := handler.svc.ResolveReport(ctx, r.PathValue("report_id"), claims.Subject); err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"message": "report resolved"})
}

func (handler *ReportHTTPHandler) handleNearby(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	lat, err := parseCoord(r, "lat")
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid lat", err)
		return
	}
	lng, err := parseCoord(r, "lng")
	if err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid lng", err)
		return
	}
	radius := 0.0
	if raw := r.URL.Query().Get("radius_m"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			handler.httpError(ctx, w, http.StatusBadRequest, "Invalid radius_m", err)
			return
		}
	}

	views, err := handler.svc.NearbyReports(ctx, ports.NearbyReportsInput{
		Lat:          lat,
		Lng:          lng,
		RadiusMeters: radius,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{
		"reports": views,
		"count":   len(views),
	})
}

func parseCoord(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if strings.TrimSpace(raw) == "" {
		return 0, errors.New("missing query parameter " + key)
	}
	return strconv.ParseFloat(raw, 64)
}

// ----- general helpers -----

func statusFor(err error) int {
	switch {
	case errors.Is(err, postgres.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrOwnConfirm),
		errors.Is(err, report.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, report.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, report.ErrEmptyRiderID),
		errors.Is(err, report.ErrInvalidType),
		errors.Is(err, geo.ErrInvalidLatitude),
		errors.Is(err, geo.ErrInvalidLongitude):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (handler *ReportHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
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

func (handler *ReportHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
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

func (handler *ReportHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
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
