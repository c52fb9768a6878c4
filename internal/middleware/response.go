package middleware

import (
	"net/http"

	"github.com/motorctl/motor-bot/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
