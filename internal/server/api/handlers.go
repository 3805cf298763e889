package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/offsync/offsync/internal/constants"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/auth"
	"github.com/offsync/offsync/internal/server/ingest"
	"github.com/offsync/offsync/internal/server/store"
)

const healthTimeout = 2 * time.Second

type errorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (api *HTTP) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	device, ok := auth.DeviceFromContext(ctx)
	if !ok {
		asMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var points []models.IngestPoint
	if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			asMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		asMessage(w, http.StatusBadRequest, "body must be a JSON array of locations")
		logger.Debug().Err(err).Msg("decoding ingest body")
		return
	}

	inserted, err := api.deps.Ingest.Ingest(ctx, device.ID, points)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			asJSON(ctx, w, errorResponse{Message: verr.Message, Field: verr.Field}, http.StatusBadRequest)
		case errors.Is(err, ingest.ErrEmptyBatch), errors.Is(err, ingest.ErrBatchTooLarge):
			asMessage(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error().Err(err).Str("device", device.HardwareID).Msg("ingesting batch")
			asMessage(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	asJSON(ctx, w, models.IngestResponse{Inserted: inserted}, http.StatusCreated)
}

func (api *HTTP) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	var req models.EnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		asMessage(w, http.StatusBadRequest, "invalid enrollment request")
		return
	}

	resp, err := api.deps.Enrollment.Enroll(ctx, r.Header.Get(constants.HeaderEnrollmentKey), req)
	switch {
	case err == nil:
		asJSON(ctx, w, resp, http.StatusCreated)
	case errors.Is(err, auth.ErrEnrollmentDisabled):
		asMessage(w, http.StatusForbidden, "enrollment disabled")
	case errors.Is(err, auth.ErrBadEnrollmentKey):
		logger.Warn().Str("hardware_id", req.HardwareID).Msg("enrollment key mismatch")
		asMessage(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrMissingHardwareID):
		asMessage(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Msg("enrolling device")
		asMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func (api *HTTP) handleLastLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	device, ok := api.lookupDevice(w, r)
	if !ok {
		return
	}

	point, err := api.deps.Ingest.Latest(ctx, device.ID)
	if errors.Is(err, store.ErrNoLocation) {
		asMessage(w, http.StatusNotFound, "no location recorded")
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("reading latest location")
		asMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	asJSON(ctx, w, point, http.StatusOK)
}

func (api *HTTP) handleLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	from, err := parseTimeParam(query.Get("from"))
	if err != nil {
		asJSON(ctx, w, errorResponse{Message: "from must be an ISO-8601 datetime", Field: "from"}, http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(query.Get("to"))
	if err != nil {
		asJSON(ctx, w, errorResponse{Message: "to must be an ISO-8601 datetime", Field: "to"}, http.StatusBadRequest)
		return
	}
	limit := constants.DefaultHistoryLimit
	if v := query.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > constants.MaxHistoryLimit {
			asJSON(ctx, w, errorResponse{Message: ingest.ErrInvalidLimit.Error(), Field: "limit"}, http.StatusBadRequest)
			return
		}
	}

	device, ok := api.lookupDevice(w, r)
	if !ok {
		return
	}

	points, err := api.deps.Ingest.History(ctx, device.ID, from, to, limit)
	if errors.Is(err, ingest.ErrInvalidRange) || errors.Is(err, ingest.ErrInvalidLimit) {
		asMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("reading location history")
		asMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	asJSON(ctx, w, points, http.StatusOK)
}

func (api *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := api.deps.Health.Ping(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("database ping")
		asJSON(ctx, w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
		return
	}
	asJSON(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (api *HTTP) lookupDevice(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	hardwareID := mux.Vars(r)["hardwareId"]
	device, err := api.deps.Devices.FindDeviceByHardwareID(r.Context(), hardwareID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		asMessage(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("looking up device")
		asMessage(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return device, true
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func asMessage(w http.ResponseWriter, code int, message string) {
	asJSON(context.Background(), w, errorResponse{Message: message}, code)
}

func asJSON(ctx context.Context, w http.ResponseWriter, obj interface{}, code int) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(obj); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("encoding response")
	}
}
