package handler

import (
	"net/http"
	"time"

	"github.com/motorctl/motor-bot/internal/httputil"
	"github.com/motorctl/motor-bot/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func formatDevice(d *model.Device) map[string]any {
	if d == nil {
		return nil
	}
	return map[string]any{
		"serialNumber": d.SerialNumber,
		"name":         d.Name,
		"createdAt":    d.CreatedAt.Format(time.RFC3339),
	}
}
