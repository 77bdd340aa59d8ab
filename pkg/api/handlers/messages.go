package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// MessageHandlers covers the producer endpoints that feed the delivery
// core: private and group message sends.
type MessageHandlers struct {
	hub *delivery.Hub
}

// RegisterMessages mounts the /v1/messages endpoints.
func RegisterMessages(r *mux.Router, hub *delivery.Hub) {
	h := &MessageHandlers{hub: hub}
	r.HandleFunc("/messages/private", h.sendPrivate).Methods(http.MethodPost)
	r.HandleFunc("/messages/group", h.sendGroup).Methods(http.MethodPost)
}

func (h *MessageHandlers) sendPrivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To      models.UserID `json:"to"`
		Content string        `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.To == "" || strings.TrimSpace(body.Content) == "" {
		utils.JSONError(w, http.StatusBadRequest, "to and content required")
		return
	}
	senderID := auth.UserIDFromContext(r.Context())
	sender, err := store.GetUser(senderID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown sender")
		return
	}
	if _, err := store.GetUser(body.To); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown recipient")
		return
	}
	m := models.Message{
		ID:      uuid.NewString(),
		Sender:  sender.Ref(),
		To:      body.To,
		Content: body.Content,
		SentAt:  time.Now().UTC().UnixNano(),
	}
	if err := store.SaveMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	h.hub.DeliverMessage(m)
	logger.Info("message_sent", "id", m.ID, "from", senderID, "to", m.To)
	_ = utils.JSONSuccess(w, m)
}

func (h *MessageHandlers) sendGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupID string `json:"groupId"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.GroupID == "" || strings.TrimSpace(body.Content) == "" {
		utils.JSONError(w, http.StatusBadRequest, "groupId and content required")
		return
	}
	senderID := auth.UserIDFromContext(r.Context())
	sender, err := store.GetUser(senderID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown sender")
		return
	}
	g, err := store.GetGroup(body.GroupID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown group")
		return
	}
	if !memberOf(g, senderID) {
		utils.JSONError(w, http.StatusForbidden, "not a group member")
		return
	}
	m := models.Message{
		ID:      uuid.NewString(),
		Sender:  sender.Ref(),
		GroupID: g.ID,
		Content: body.Content,
		SentAt:  time.Now().UTC().UnixNano(),
	}
	if err := store.SaveMessage(m); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	h.hub.DeliverGroupMessage(m, g.Members)
	logger.Info("group_message_sent", "id", m.ID, "from", senderID, "group", g.ID)
	_ = utils.JSONSuccess(w, m)
}

func memberOf(g models.Group, u models.UserID) bool {
	for _, m := range g.Members {
		if m == u {
			return true
		}
	}
	return false
}
