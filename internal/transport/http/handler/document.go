package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"worison/internal/app"
	"worison/internal/model"
	"worison/internal/transport/http/response"
)

type DocumentHandler struct {
	documentService *app.DocumentService
	chatService     *app.ChatService
	maxUploadBytes  int64
}

type SummarizeRequest struct {
	Text    string `json:"text" binding:"required"`
	Bullets int    `json:"bullets"`
}

type KeywordsRequest struct {
	Text string `json:"text" binding:"required"`
	TopK int    `json:"top_k"`
}

type ExplainFileRequest struct {
	Filename string `json:"filename" binding:"required"`
	Bullets  int    `json:"bullets"`
}

func NewDocumentHandler(documentService *app.DocumentService, chatService *app.ChatService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		chatService:     chatService,
		maxUploadBytes:  maxUploadBytes,
	}
}

// Upload stores a multipart file and, when a session_id accompanies
// it, records a file turn so follow-up messages are grounded on it.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "invalid token payload")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "no file provided")
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if !app.AllowedFile(fileHeader.Filename) {
		response.Error(c, http.StatusBadRequest, "file type not allowed")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "read upload failed")
		return
	}
	defer src.Close()

	result, err := h.documentService.Upload(c.Request.Context(), fileHeader.Filename, src)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrFileNotAllowed):
			response.Error(c, http.StatusBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "store upload failed")
		}
		return
	}

	if sessionID := strings.TrimSpace(c.PostForm("session_id")); sessionID != "" {
		turn := model.FileTurn{FileID: result.FileID, OriginalName: result.OriginalName}
		if err := h.chatService.AttachFile(c.Request.Context(), userID, sessionID, turn); err != nil {
			switch {
			case errors.Is(err, app.ErrSessionNotFound):
				response.Error(c, http.StatusNotFound, err.Error())
			default:
				response.Error(c, http.StatusInternalServerError, "attach file to session failed")
			}
			return
		}
	}

	response.OK(c, gin.H{
		"role":           model.RoleFile,
		"file_id":        result.FileID,
		"original_name":  result.OriginalName,
		"file_type":      result.FileType,
		"text_available": result.TextAvailable,
	})
}

// Serve returns the raw stored bytes for a previously uploaded file.
func (h *DocumentHandler) Serve(c *gin.Context) {
	name := c.Param("name")
	path, err := h.documentService.FilePath(name)
	if err != nil {
		response.Error(c, http.StatusNotFound, "file not found")
		return
	}
	c.File(path)
}

func (h *DocumentHandler) ExplainFile(c *gin.Context) {
	var req ExplainFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "filename is required")
		return
	}

	explanation, err := h.documentService.Explain(c.Request.Context(), req.Filename, req.Bullets)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrFileNotFound):
			response.Error(c, http.StatusNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "explain failed")
		}
		return
	}

	response.OK(c, gin.H{
		"ok":       explanation.Final.OK(),
		"partials": explanation.Partials,
		"final":    explanation.Final.Render(),
	})
}

func (h *DocumentHandler) Summarize(c *gin.Context) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "text is required")
		return
	}

	summary := h.documentService.Summarize(c.Request.Context(), req.Text, req.Bullets)
	response.OK(c, gin.H{"summary": summary})
}

func (h *DocumentHandler) Keywords(c *gin.Context) {
	var req KeywordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "text is required")
		return
	}

	keywords := h.documentService.Keywords(c.Request.Context(), req.Text, req.TopK)
	response.OK(c, gin.H{"keywords": keywords})
}

// Search answers nearest-neighbor queries over indexed uploads.
func (h *DocumentHandler) Search(c *gin.Context) {
	query := c.Query("q")
	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			topK = parsed
		}
	}

	matches, err := h.documentService.Search(c.Request.Context(), query, topK)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSearchUnavailable):
			response.Error(c, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "query is required")
		default:
			response.Error(c, http.StatusInternalServerError, "search failed")
		}
		return
	}

	response.OK(c, gin.H{"matches": matches})
}
