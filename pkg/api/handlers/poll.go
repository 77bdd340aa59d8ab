package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/config"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/session"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

// PollHandlers serves the long-poll surface: session lifecycle, the
// held GET, status changes and presence reads.
type PollHandlers struct {
	hub *delivery.Hub
	cfg config.DeliveryConfig
}

// RegisterPoll mounts the /poll endpoints.
func RegisterPoll(r *mux.Router, hub *delivery.Hub, cfg config.DeliveryConfig) {
	h := &PollHandlers{hub: hub, cfg: cfg}
	r.HandleFunc("/poll/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/poll/unregister", h.unregister).Methods(http.MethodPost)
	r.HandleFunc("/poll/messages", h.poll).Methods(http.MethodGet)
	r.HandleFunc("/poll/status", h.setStatus).Methods(http.MethodPost)
	r.HandleFunc("/poll/ping", h.ping).Methods(http.MethodGet)
	r.HandleFunc("/poll/online-friends", h.onlineFriends).Methods(http.MethodGet)
}

func (h *PollHandlers) register(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	client := models.ClientInfo{
		UserAgent: r.Header.Get("User-Agent"),
		RemoteIP:  r.RemoteAddr,
	}
	s := h.hub.RegisterSession(userID, client)
	expiresAt := time.Now().Add(h.cfg.AdvertisedSessionTTL.Duration()).UnixMilli()
	_ = utils.JSONSuccess(w, map[string]any{
		"sessionId": s.ID,
		"expiresAt": expiresAt,
	})
}

func (h *PollHandlers) unregister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		utils.JSONError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if sess, err := h.sessionForCaller(r, body.SessionID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	} else if sess.UserID != auth.UserIDFromContext(r.Context()) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := h.hub.UnregisterSession(body.SessionID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	_ = utils.JSONSuccess(w, nil)
}

// poll is the held GET. It drains immediately when something is
// pending; otherwise it suspends on a waiter until a fanout signal,
// the deadline, a cancellation or client disconnect. A signal that
// loses the drain race re-suspends without resetting the deadline.
func (h *PollHandlers) poll(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		utils.JSONError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	sess, err := h.sessionForCaller(r, sessionID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	if sess.UserID != auth.UserIDFromContext(r.Context()) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if _, err := h.hub.TouchSession(sessionID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}

	timeout := h.pollTimeout(r.URL.Query().Get("timeout"))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	start := time.Now()
	telemetry.HeldPolls.Inc()
	defer telemetry.HeldPolls.Dec()
	defer func() {
		telemetry.PollDuration.Observe(time.Since(start).Seconds())
	}()

	// One waiter serves the whole request. It is attached before the
	// first drain so a signal racing the drain lands in its buffer, and
	// it stays attached across wakeups so a second poll on this session
	// always supersedes this one, never the other way around.
	waiter := session.NewWaiter()
	if err := h.hub.Sessions.AttachWaiter(sessionID, waiter); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	defer h.hub.Sessions.DetachWaiter(sessionID, waiter)

	for {
		// A buffered signal and a cancel can be ready together; cancel
		// wins before another drain runs.
		select {
		case <-waiter.Cancelled():
			telemetry.PollOutcomes.WithLabelValues("cancelled").Inc()
			logger.Debug("poll_cancelled", "session", sessionID, "reason", waiter.CancelReason())
			utils.JSONError(w, http.StatusConflict, "poll "+waiter.CancelReason())
			return
		default:
		}

		payload, err := h.hub.DrainPayload(sess.UserID)
		if err != nil {
			telemetry.PollOutcomes.WithLabelValues("error").Inc()
			utils.JSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !payload.Empty() {
			telemetry.PollOutcomes.WithLabelValues("delivered").Inc()
			_ = utils.JSONWrite(w, http.StatusOK, struct {
				Success   bool                  `json:"success"`
				Timestamp int64                 `json:"timestamp"`
				Data      *delivery.PollPayload `json:"data"`
			}{Success: true, Timestamp: time.Now().UnixMilli(), Data: payload})
			return
		}

		select {
		case <-waiter.Signaled():
			// drain again; an empty result is a lost race and loops
			// back onto the same waiter with the same deadline
		case <-deadline.C:
			telemetry.PollOutcomes.WithLabelValues("timeout").Inc()
			w.WriteHeader(http.StatusNoContent)
			return
		case <-waiter.Cancelled():
			telemetry.PollOutcomes.WithLabelValues("cancelled").Inc()
			logger.Debug("poll_cancelled", "session", sessionID, "reason", waiter.CancelReason())
			utils.JSONError(w, http.StatusConflict, "poll "+waiter.CancelReason())
			return
		case <-r.Context().Done():
			telemetry.PollOutcomes.WithLabelValues("disconnected").Inc()
			return
		}
	}
}

func (h *PollHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string        `json:"sessionId"`
		Status    models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		utils.JSONError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if !models.ValidStatus(body.Status) {
		utils.JSONError(w, http.StatusBadRequest, "invalid status")
		return
	}
	sess, err := h.sessionForCaller(r, body.SessionID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	if sess.UserID != auth.UserIDFromContext(r.Context()) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := h.hub.SetStatus(body.SessionID, body.Status); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	_ = utils.JSONSuccess(w, nil)
}

func (h *PollHandlers) ping(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		utils.JSONError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	sess, err := h.sessionForCaller(r, sessionID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	// ownership before touch, so a stranger cannot keep the session alive
	if sess.UserID != auth.UserIDFromContext(r.Context()) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if _, err := h.hub.TouchSession(sessionID); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown session")
		return
	}
	friends, err := h.hub.OnlineFriends(sess.UserID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONSuccess(w, map[string]any{"onlineFriends": len(friends)})
}

func (h *PollHandlers) onlineFriends(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	friends, err := h.hub.OnlineFriends(userID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if friends == nil {
		friends = []delivery.FriendStatus{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Success bool           `json:"success"`
		Count   int            `json:"count"`
		Data    map[string]any `json:"data"`
	}{Success: true, Count: len(friends), Data: map[string]any{"friends": friends}})
}

// sessionForCaller resolves a session without refreshing activity.
func (h *PollHandlers) sessionForCaller(_ *http.Request, sessionID string) (models.Session, error) {
	return h.hub.Sessions.Get(sessionID)
}

// pollTimeout parses the timeout query param in milliseconds, applying
// the default and clamping to [1s, max].
func (h *PollHandlers) pollTimeout(raw string) time.Duration {
	d := h.cfg.DefaultPollTimeout.Duration()
	if raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			d = time.Duration(ms) * time.Millisecond
		}
	}
	if d < time.Second {
		d = time.Second
	}
	if max := h.cfg.MaxPollTimeout.Duration(); d > max {
		d = max
	}
	return d
}
