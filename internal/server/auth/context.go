package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/offsync/offsync/internal/server/store"
)

type deviceKey struct{}

// WithDevice returns a copy of ctx carrying the authenticated device.
func WithDevice(ctx context.Context, device *store.Device) context.Context {
	return context.WithValue(ctx, deviceKey{}, device)
}

// DeviceFromContext returns the device attached by the guard.
func DeviceFromContext(ctx context.Context) (*store.Device, bool) {
	device, ok := ctx.Value(deviceKey{}).(*store.Device)
	return device, ok && device != nil
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
