package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anstrom/netscope/internal/api/middleware"
	"github.com/anstrom/netscope/internal/wol"
)

// WakeSender transmits a magic packet.
type WakeSender func(ctx context.Context, mac net.HardwareAddr, target string) error

// WakeHandler sends Wake-on-LAN packets.
type WakeHandler struct {
	send           WakeSender
	maxRequestSize int64
	logger         *slog.Logger
}

// NewWakeHandler creates a wake handler. A nil sender uses wol.Send.
func NewWakeHandler(send WakeSender, maxRequestSize int64, logger *slog.Logger) *WakeHandler {
	if send == nil {
		send = wol.Send
	}
	return &WakeHandler{
		send:           send,
		maxRequestSize: maxRequestSize,
		logger:         logger.With("handler", "wake"),
	}
}

// WakeRequest names the device to wake. Broadcast defaults to the limited
// broadcast address on port 9.
type WakeRequest struct {
	MAC       string `json:"mac" validate:"required"`
	Broadcast string `json:"broadcast,omitempty" validate:"omitempty,max=255"`
}

// WakeResponse confirms a sent packet.
type WakeResponse struct {
	Status string `json:"status"`
	MAC    string `json:"mac"`
	Target string `json:"target"`
}

// Wake handles POST /wake.
func (h *WakeHandler) Wake(w http.ResponseWriter, r *http.Request) {
	var req WakeRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize, false); err != nil {
		writeCodedError(w, r, err)
		return
	}
	mac, err := wol.ParseMAC(req.MAC)
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	target := wol.TargetAddr(req.Broadcast)
	if err := h.send(ctx, mac, target); err != nil {
		h.logger.Warn("Wake-on-LAN failed",
			"request_id", middleware.GetRequestID(r),
			"mac", mac.String(),
			"error", err)
		writeCodedError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, WakeResponse{
		Status: "sent",
		MAC:    mac.String(),
		Target: target,
	})
}
