package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/src/core/docchat"
)

type messageResponse struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	IsHuman   bool   `json:"isHuman"`
	CreatedAt string `json:"createdAt"`
}

type askRequest struct {
	Question           string `json:"question" binding:"required"`
	UserMessageID      string `json:"userMessageId" binding:"required"`
	AssistantMessageID string `json:"assistantMessageId" binding:"required"`
}

type askResponse struct {
	Success bool   `json:"success"`
	Answer  string `json:"answer"`
	Warning string `json:"warning,omitempty"`
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	FileID     string `json:"fileId"`
	ChunkCount int    `json:"chunkCount"`
	DocType    string `json:"docType"`
	Warning    string `json:"warning,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) NewDocChat(c *gin.Context) {
	if _, err := h.docChats.NewChat(c.Request.Context(), tenantID(c), c.Param("instanceId")); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}

// UploadDocument ingests the multipart "file" field, replacing any earlier
// document of the chat.
func (h *Handler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Reason: fmt.Sprintf("document exceeds %d bytes", h.maxUploadBytes)})
			return
		}
		sendError(c, fmt.Errorf("%w: multipart field \"file\" is required", docchat.ErrValidation))
		return
	}

	file, err := header.Open()
	if err != nil {
		sendError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, fmt.Errorf("read upload: %w", err))
		return
	}

	result, err := h.docChats.Ingest(c.Request.Context(), docchat.IngestRequest{
		TenantID:    tenantID(c),
		InstanceID:  c.Param("instanceId"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil && !(result != nil && errors.Is(err, docchat.ErrPartialFailure)) {
		sendError(c, err)
		return
	}

	resp := uploadResponse{
		Success:    true,
		FileID:     result.FileID,
		ChunkCount: result.ChunkCount,
		DocType:    string(result.DocType),
	}
	if err != nil {
		_ = c.Error(err)
		resp.Warning = "document indexed but its metadata was not saved"
	}
	sendJSON(c, http.StatusOK, resp)
}

func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, fmt.Errorf("%w: %v", docchat.ErrValidation, err))
		return
	}

	result, err := h.docChats.Ask(c.Request.Context(), docchat.AskRequest{
		TenantID:           tenantID(c),
		InstanceID:         c.Param("instanceId"),
		Question:           req.Question,
		UserMessageID:      req.UserMessageID,
		AssistantMessageID: req.AssistantMessageID,
	})
	if err != nil && !(result != nil && errors.Is(err, docchat.ErrPartialFailure)) {
		sendError(c, err)
		return
	}

	resp := askResponse{Success: true, Answer: result.Answer}
	if err != nil {
		_ = c.Error(err)
		resp.Warning = "answer generated but not saved to the conversation"
	}
	sendJSON(c, http.StatusOK, resp)
}

func (h *Handler) DocChatMessages(c *gin.Context) {
	messages, err := h.docChats.History(c.Request.Context(), tenantID(c), c.Param("instanceId"))
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, gin.H{"success": true, "messages": toMessageResponses(messages)})
}

// DeleteDocChat is best effort: when some steps fail the response still
// reports the failure, and the remaining steps have run.
func (h *Handler) DeleteDocChat(c *gin.Context) {
	if err := h.docChats.Delete(c.Request.Context(), tenantID(c), c.Param("instanceId")); err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, successResponse{Success: true})
}
