package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docchat/src/core/docchat"
	"docchat/src/storage/relational/messagectrl"
)

type topicRequest struct {
	Topic string `json:"topic" binding:"required"`
}

type appendMessageRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Text      string `json:"text"`
	IsHuman   bool   `json:"isHuman"`
}

type indexRequest struct {
	IndexID   string `json:"indexId" binding:"required"`
	IndexName string `json:"indexName" binding:"required"`
}

type indexResponse struct {
	IndexID   string `json:"indexId"`
	IndexName string `json:"indexName"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	inst, err := h.chats.Create(c.Request.Context(), tenantID(c), c.Param("instanceId"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, gin.H{"success": true, "topic": inst.Topic})
}

func (h *Handler) UpdateTopic(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", docchat.ErrValidation, err))
		return
	}
	if err := h.chats.UpdateTopic(c.Request.Context(), tenantID(c), c.Param("instanceId"), req.Topic); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) AppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", docchat.ErrValidation, err))
		return
	}
	if _, err := h.chats.AppendMessage(c.Request.Context(), tenantID(c), c.Param("instanceId"), req.MessageID, req.Text, req.IsHuman); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) ChatMessages(c *gin.Context) {
	messages, err := h.chats.History(c.Request.Context(), tenantID(c), c.Param("instanceId"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, gin.H{"success": true, "messages": toMessageResponses(messages)})
}

func (h *Handler) AddIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", docchat.ErrValidation, err))
		return
	}
	if _, err := h.chats.AddIndex(c.Request.Context(), tenantID(c), c.Param("instanceId"), req.IndexID, req.IndexName); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) ListIndex(c *gin.Context) {
	entries, err := h.chats.ListIndex(c.Request.Context(), tenantID(c), c.Param("instanceId"))
	if err != nil {
		sendError(c, err)
		return
	}

	resp := make([]indexResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, indexResponse{IndexID: e.IndexID, IndexName: e.IndexName})
	}
	sendJSON(c, http.StatusOK, gin.H{"success": true, "index": resp})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.chats.Delete(c.Request.Context(), tenantID(c), c.Param("instanceId")); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}

func toMessageResponses(messages []messagectrl.Message) []messageResponse {
	resp := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, messageResponse{
			MessageID: m.MessageID,
			Text:      m.Text,
			IsHuman:   m.IsHuman,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}
