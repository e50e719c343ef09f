package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatsync/internal/domain"
	"chatsync/internal/service"
	"chatsync/internal/ws"
)

type messageCreateRequest struct {
	Content       string  `json:"content"`
	AttachmentRef *string `json:"attachment_ref"`
	Kind          string  `json:"kind"`
}

func handleCreateMessage(msgSvc *service.MessageService, gateway *ws.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		roomID, err := parseIDParam(r, "roomID")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := msgSvc.Send(r.Context(), service.MessageCreateInput{
			RoomID:        roomID,
			Content:       req.Content,
			AttachmentRef: req.AttachmentRef,
			Kind:          domain.MessageKind(req.Kind),
		}, currentUser.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := gateway.BroadcastMessage(r.Context(), msg); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

type messagePage struct {
	Messages []*domain.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// handleListMessages serves keyset pages: ?before=<id> pages backwards,
// ?limit= caps the page size. Messages come back newest first; one
// extra row is probed to report has_more without a count query.
func handleListMessages(msgSvc *service.MessageService, pageSize int) http.HandlerFunc {
	if pageSize <= 0 {
		pageSize = 50
	}
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		roomID, err := parseIDParam(r, "roomID")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		limit := pageSize
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		var msgs []*domain.Message
		if v := r.URL.Query().Get("before"); v != "" {
			before, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before cursor"})
				return
			}
			msgs, err = msgSvc.ListBefore(r.Context(), roomID, currentUser.ID, before, limit+1)
			if err != nil {
				writeErr(w, err)
				return
			}
		} else {
			msgs, err = msgSvc.ListNewest(r.Context(), roomID, currentUser.ID, limit+1)
			if err != nil {
				writeErr(w, err)
				return
			}
		}

		page := messagePage{Messages: msgs, HasMore: false}
		if len(msgs) > limit {
			page.Messages = msgs[:limit]
			page.HasMore = true
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleMarkRead(msgSvc *service.MessageService, gateway *ws.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		roomID, err := parseIDParam(r, "roomID")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room id"})
			return
		}

		n, err := msgSvc.MarkRead(r.Context(), roomID, currentUser.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if n > 0 {
			gateway.NotifyRead(r.Context(), roomID, currentUser.ID)
		}
		writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
	}
}

func handleDeleteMessage(msgSvc *service.MessageService, gateway *ws.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		messageID, err := parseIDParam(r, "messageID")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message id"})
			return
		}

		msg, err := msgSvc.Delete(r.Context(), messageID, currentUser.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		gateway.NotifyDeleted(msg.RoomID, messageID, currentUser.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}
