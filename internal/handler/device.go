package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/bus"
	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/httputil"
	"github.com/motorctl/motor-bot/internal/model"
)

// DeviceAPI is the device service as seen by the HTTP API.
type DeviceAPI interface {
	Exists(ctx context.Context, serial string) (bool, error)
	ListByOwner(ctx context.Context, telegramID int64) ([]model.Device, error)
	Remove(ctx context.Context, serial string) error
	Start(ctx context.Context, serial string, startType model.StartType, speed int) error
	Stop(ctx context.Context, serial string) error
	Set(ctx context.Context, serial string, setting model.Setting, value int) error
	Command(ctx context.Context, serial string, direction model.Direction, value int) error
}

type DeviceHandler struct {
	devices          DeviceAPI
	pairer           Pairer
	limiter          PairingLimiter
	pairingPerMinute int
}

// NewDeviceHandler applies the same per-user pairing limit as the chat flow.
func NewDeviceHandler(devices DeviceAPI, pairer Pairer, limiter PairingLimiter, pairingPerMinute int) *DeviceHandler {
	return &DeviceHandler{
		devices:          devices,
		pairer:           pairer,
		limiter:          limiter,
		pairingPerMinute: pairingPerMinute,
	}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/devices", h.Pair)
	r.Delete("/devices/{serial}", h.Remove)
	r.Post("/devices/{serial}/start/{type}", h.Start)
	r.Post("/devices/{serial}/stop", h.Stop)
	r.Post("/devices/{serial}/set/{setting}", h.Set)
	r.Post("/devices/{serial}/cmd/{direction}", h.Command)
	r.Get("/users/{telegramID}/devices", h.ListByOwner)

	return r
}

// POST /v1/devices
// Runs a pairing handshake and blocks until the device answers.
func (h *DeviceHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SerialNumber string `json:"serial_number"`
		TelegramID   int64  `json:"telegram_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.SerialNumber == "" {
		httputil.WriteError(w, apperrors.MissingRequired("serial_number"))
		return
	}
	if req.TelegramID == 0 {
		httputil.WriteError(w, apperrors.MissingRequired("telegram_id"))
		return
	}
	if !bus.ValidSegment(req.SerialNumber) {
		httputil.WriteError(w, apperrors.InvalidInput("serial_number", "must not contain / + # or surrounding spaces"))
		return
	}

	exists, err := h.devices.Exists(r.Context(), req.SerialNumber)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if exists {
		httputil.WriteError(w, apperrors.AlreadyExists("Device"))
		return
	}

	allowed, resetAt := h.limiter.AllowPairing(r.Context(), req.TelegramID, h.pairingPerMinute)
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(max(int(time.Until(resetAt).Seconds()), 1)))
		httputil.WriteError(w, apperrors.RateLimitExceeded())
		return
	}

	res := h.pairer.PairDevice(r.Context(), req.SerialNumber, req.TelegramID)
	if err := res.Err(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatDevice(res.Device))
}

// DELETE /v1/devices/{serial}
func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if err := h.devices.Remove(r.Context(), serial); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/users/{telegramID}/devices
func (h *DeviceHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	telegramID, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("telegramID", "must be an integer"))
		return
	}

	devices, err := h.devices.ListByOwner(r.Context(), telegramID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page := parseDevicePage(r)
	total := len(devices)
	start, end := page.bounds(total)

	items := make([]map[string]any, 0, end-start)
	for i := range devices[start:end] {
		items = append(items, formatDevice(&devices[start+i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

type speedRequest struct {
	Speed int `json:"speed"`
}

type valueRequest struct {
	Value int `json:"value"`
}

// POST /v1/devices/{serial}/start/{type}
func (h *DeviceHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	startType := model.StartType(chi.URLParam(r, "type"))
	h.finish(w, r, h.devices.Start(r.Context(), chi.URLParam(r, "serial"), startType, req.Speed))
}

// POST /v1/devices/{serial}/stop
func (h *DeviceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.devices.Stop(r.Context(), chi.URLParam(r, "serial")))
}

// POST /v1/devices/{serial}/set/{setting}
func (h *DeviceHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	setting := model.Setting(chi.URLParam(r, "setting"))
	h.finish(w, r, h.devices.Set(r.Context(), chi.URLParam(r, "serial"), setting, req.Value))
}

// POST /v1/devices/{serial}/cmd/{direction}
func (h *DeviceHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	direction := model.Direction(chi.URLParam(r, "direction"))
	h.finish(w, r, h.devices.Command(r.Context(), chi.URLParam(r, "serial"), direction, req.Value))
}

func (h *DeviceHandler) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeBusUnavailable {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("device command not published")
		}
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

// decodeOptional decodes a JSON body into v. An empty body leaves v zeroed.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return false
	}
	return true
}
