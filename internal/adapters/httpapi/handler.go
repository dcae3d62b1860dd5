package httpapi

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/vision"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// VisionService is the part of the vision client the API serves.
type VisionService interface {
	Model() string
	Chat(ctx context.Context, p domain.Prompt) domain.ChatResult
	ChatStream(ctx context.Context, p domain.Prompt) (*domain.StreamHandle, error)
	AnalyzeSatellite(ctx context.Context, r vision.SatelliteRequest) domain.ChatResult
	AnalyzeSatelliteStream(ctx context.Context, r vision.SatelliteRequest) (*domain.StreamHandle, error)
}

// PoolInspector exposes pool occupancy.
type PoolInspector interface {
	Stats() workerpool.Stats
	Slots() []workerpool.SlotInfo
}

// StatsSource exposes aggregated unit outcomes.
type StatsSource interface {
	Stats() domain.UnitStats
}

// chatRequest is the JSON body of the chat endpoints.
type chatRequest struct {
	Message   string        `json:"message"`
	Context   []domain.Turn `json:"context"`
	ImageURLs []string      `json:"image_urls"`
}

func (r chatRequest) prompt() domain.Prompt {
	p := domain.Prompt{Message: r.Message, History: r.Context, ImageURLs: r.ImageURLs}
	if strings.TrimSpace(p.Message) == "" && len(p.ImageURLs) > 0 {
		p.Message = vision.DefaultAnalyzeMessage
	}
	return p
}

// Handler serves the vision endpoints.
type Handler struct {
	vision    VisionService
	pool      PoolInspector
	stats     StatsSource
	uploadDir string
	started   time.Time
	log       zerolog.Logger
}

// NewHandler creates a handler. pool and stats may be nil.
func NewHandler(v VisionService, pool PoolInspector, stats StatsSource, uploadDir string, log zerolog.Logger) *Handler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &Handler{
		vision:    v,
		pool:      pool,
		stats:     stats,
		uploadDir: uploadDir,
		started:   time.Now(),
		log:       log,
	}
}

// Health reports liveness and the serving model.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"model":  h.vision.Model(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.pool != nil {
		body["workers"] = h.pool.Stats().Size
	}
	if h.stats != nil {
		body["units"] = h.stats.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// Pool reports slot occupancy.
func (h *Handler) Pool(c *gin.Context) {
	if h.pool == nil {
		c.JSON(http.StatusNotFound, errorBody{Code: "NOT_FOUND", Error: "no pool attached"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": h.pool.Stats(), "slots": h.pool.Slots()})
}

// Chat answers a JSON chat request.
func (h *Handler) Chat(c *gin.Context) {
	req, ok := h.bindChat(c, "http.chat")
	if !ok {
		return
	}
	respondResult(c, h.vision.Chat(c.Request.Context(), req.prompt()))
}

// ChatStream answers a JSON chat request as server-sent events.
func (h *Handler) ChatStream(c *gin.Context) {
	req, ok := h.bindChat(c, "http.chat_stream")
	if !ok {
		return
	}
	stream, err := h.vision.ChatStream(c.Request.Context(), req.prompt())
	if err != nil {
		respondError(c, err)
		return
	}
	writeSSE(c, stream)
}

// Analyze answers a multipart upload of images plus an optional message.
func (h *Handler) Analyze(c *gin.Context) {
	p, dir, err := h.bindUpload(c, "http.analyze")
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.removeUploads(dir)
	respondResult(c, h.vision.Chat(c.Request.Context(), p))
}

// AnalyzeStream is the streaming form of Analyze.
func (h *Handler) AnalyzeStream(c *gin.Context) {
	p, dir, err := h.bindUpload(c, "http.analyze_stream")
	if err != nil {
		respondError(c, err)
		return
	}
	stream, err := h.vision.ChatStream(c.Request.Context(), p)
	if err != nil {
		h.removeUploads(dir)
		respondError(c, err)
		return
	}
	// The producer reads the files from its slot, possibly after we return.
	go func() {
		<-stream.Done()
		h.removeUploads(dir)
	}()
	writeSSE(c, stream)
}

// AnalyzeSatellite analyzes a WMS tile.
func (h *Handler) AnalyzeSatellite(c *gin.Context) {
	var req vision.SatelliteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest("http.analyze_satellite", "invalid JSON body", err))
		return
	}
	respondResult(c, h.vision.AnalyzeSatellite(c.Request.Context(), req))
}

// AnalyzeSatelliteStream is the streaming form of AnalyzeSatellite.
func (h *Handler) AnalyzeSatelliteStream(c *gin.Context) {
	var req vision.SatelliteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest("http.analyze_satellite_stream", "invalid JSON body", err))
		return
	}
	stream, err := h.vision.AnalyzeSatelliteStream(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	writeSSE(c, stream)
}

func (h *Handler) bindChat(c *gin.Context, op string) (chatRequest, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest(op, "invalid JSON body", err))
		return req, false
	}
	return req, true
}

// bindUpload saves uploaded images to a fresh directory and builds the prompt.
func (h *Handler) bindUpload(c *gin.Context, op string) (domain.Prompt, string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return domain.Prompt{}, "", invalidRequest(op, "expected multipart form", err)
	}
	files := append(form.File["images"], form.File["images[]"]...)
	if len(files) == 0 {
		return domain.Prompt{}, "", invalidRequest(op, "no images uploaded", nil)
	}

	dir, err := os.MkdirTemp(h.uploadDir, "upload-*")
	if err != nil {
		return domain.Prompt{}, "", domain.NewError(domain.KindInternal, op, "cannot store upload", err)
	}
	paths, err := saveUploads(c, dir, files)
	if err != nil {
		h.removeUploads(dir)
		return domain.Prompt{}, "", domain.NewError(domain.KindInternal, op, "cannot store upload", err)
	}

	msg := c.PostForm("message")
	if strings.TrimSpace(msg) == "" {
		msg = vision.DefaultAnalyzeMessage
	}
	return domain.Prompt{Message: msg, ImagePaths: paths}, dir, nil
}

func saveUploads(c *gin.Context, dir string, files []*multipart.FileHeader) ([]string, error) {
	paths := make([]string, 0, len(files))
	for i, fh := range files {
		dst := filepath.Join(dir, fmt.Sprintf("%02d_%s", i, filepath.Base(fh.Filename)))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func (h *Handler) removeUploads(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		h.log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove uploads")
	}
}
