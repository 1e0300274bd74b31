package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/aditya/ridelink/internal/errors"
	"github.com/aditya/ridelink/internal/models"
	"github.com/aditya/ridelink/internal/service"
	"github.com/aditya/ridelink/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// SSEHandler streams the caller's controller view. Each change to the view
// is one "view" event; the first event is the current view.
type SSEHandler struct {
	sessions  *service.SessionManager
	heartbeat time.Duration
	logger    zerolog.Logger
}

func NewSSEHandler(sessions *service.SessionManager, heartbeat time.Duration, logger zerolog.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &SSEHandler{sessions: sessions, heartbeat: heartbeat, logger: logger}
}

// GET /v1/{role}/ride/stream
func (h *SSEHandler) Stream(role models.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := signedIn(r)
		if !ok {
			utils.Unauthorized(w, "sign in required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			utils.Error(w, apperrors.InternalError("streaming not supported"))
			return
		}

		ctrl, err := h.sessions.Get(r.Context(), user, role)
		if err != nil {
			utils.FromError(w, err)
			return
		}

		views, stop := ctrl.Watch()
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case view, ok := <-views:
				if !ok {
					// session closed
					fmt.Fprint(w, "event: closed\ndata: {}\n\n")
					flusher.Flush()
					return
				}
				data, err := json.Marshal(view)
				if err != nil {
					h.logger.Error().Err(err).Str("uid", user.ID).Msg("failed to encode view")
					continue
				}
				fmt.Fprintf(w, "event: view\ndata: %s\n\n", data)
				flusher.Flush()
			case t := <-ticker.C:
				fmt.Fprintf(w, "event: heartbeat\ndata: {\"time\":%d}\n\n", t.UnixMilli())
				flusher.Flush()
			}
		}
	}
}
