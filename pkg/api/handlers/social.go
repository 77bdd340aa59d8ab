package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/delivery"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// SocialHandlers covers the social producer endpoints whose outcomes
// fan out as system messages: friend request decisions and group
// membership changes.
type SocialHandlers struct {
	hub *delivery.Hub
}

// RegisterSocial mounts the friend and group endpoints.
func RegisterSocial(r *mux.Router, hub *delivery.Hub) {
	h := &SocialHandlers{hub: hub}
	r.HandleFunc("/friends/requests/{id}/accept", h.acceptFriend).Methods(http.MethodPost)
	r.HandleFunc("/friends/requests/{id}/reject", h.rejectFriend).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/members", h.joinGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{id}/members/{uid}", h.removeMember).Methods(http.MethodDelete)
}

// acceptFriend records the friendship on both user records and tells
// the requester via a system message. {id} is the requesting user.
func (h *SocialHandlers) acceptFriend(w http.ResponseWriter, r *http.Request) {
	requester := models.UserID(mux.Vars(r)["id"])
	me := auth.UserIDFromContext(r.Context())
	if requester == me {
		utils.JSONError(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}
	ru, err := store.GetUser(requester)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown requester")
		return
	}
	mu, err := store.GetUser(me)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown user")
		return
	}
	ru.Friends = addFriend(ru.Friends, me)
	mu.Friends = addFriend(mu.Friends, requester)
	if err := store.SaveUser(ru); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	if err := store.SaveUser(mu); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	h.hub.DeliverSystem("friend_request_accepted", mu.Username+" accepted your friend request",
		map[string]string{"userId": string(me)}, models.NotifFriendRequest, me, []models.UserID{requester})
	logger.Info("friend_request_accepted", "requester", requester, "user", me)
	_ = utils.JSONSuccess(w, nil)
}

// rejectFriend tells the requester their request was declined. Nothing
// is stored; pending requests live outside this service.
func (h *SocialHandlers) rejectFriend(w http.ResponseWriter, r *http.Request) {
	requester := models.UserID(mux.Vars(r)["id"])
	me := auth.UserIDFromContext(r.Context())
	mu, err := store.GetUser(me)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown user")
		return
	}
	if _, err := store.GetUser(requester); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown requester")
		return
	}
	h.hub.DeliverSystem("friend_request_rejected", mu.Username+" declined your friend request",
		map[string]string{"userId": string(me)}, models.NotifFriendRequest, me, []models.UserID{requester})
	logger.Info("friend_request_rejected", "requester", requester, "user", me)
	_ = utils.JSONSuccess(w, nil)
}

// joinGroup adds the caller to the group and tells the existing members.
func (h *SocialHandlers) joinGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	me := auth.UserIDFromContext(r.Context())
	g, err := store.GetGroup(groupID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown group")
		return
	}
	if memberOf(g, me) {
		utils.JSONError(w, http.StatusBadRequest, "already a member")
		return
	}
	u, err := store.GetUser(me)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown user")
		return
	}
	existing := append([]models.UserID(nil), g.Members...)
	g.Members = append(g.Members, me)
	if err := store.SaveGroup(g); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	h.hub.DeliverSystem("group_member_joined", u.Username+" joined "+g.Name,
		map[string]string{"groupId": g.ID, "userId": string(me)}, models.NotifGroupEvent, me, existing)
	logger.Info("group_member_joined", "group", g.ID, "user", me)
	_ = utils.JSONSuccess(w, g)
}

// removeMember removes {uid} from the group. A caller removing
// themselves leaves; removing someone else requires membership.
func (h *SocialHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID := vars["id"]
	target := models.UserID(vars["uid"])
	me := auth.UserIDFromContext(r.Context())
	g, err := store.GetGroup(groupID)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "unknown group")
		return
	}
	if !memberOf(g, target) {
		utils.JSONError(w, http.StatusBadRequest, "not a member")
		return
	}
	if target != me && !memberOf(g, me) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	kept := make([]models.UserID, 0, len(g.Members))
	for _, m := range g.Members {
		if m != target {
			kept = append(kept, m)
		}
	}
	g.Members = kept
	if err := store.SaveGroup(g); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "save failed")
		return
	}
	event := "group_member_left"
	if target != me {
		event = "group_member_removed"
	}
	recipients := make([]models.UserID, 0, len(kept)+1)
	for _, m := range kept {
		if m != me {
			recipients = append(recipients, m)
		}
	}
	if target != me {
		recipients = append(recipients, target)
	}
	h.hub.DeliverSystem(event, string(target)+" left "+g.Name,
		map[string]string{"groupId": g.ID, "userId": string(target)}, models.NotifGroupEvent, me, recipients)
	logger.Info(event, "group", g.ID, "user", target, "by", me)
	_ = utils.JSONSuccess(w, g)
}

func addFriend(list []models.UserID, u models.UserID) []models.UserID {
	for _, f := range list {
		if f == u {
			return list
		}
	}
	return append(list, u)
}
