package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/history"
	"github.com/xpadev-net/kiosk-agent/internal/httpapi"
	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/manifest"
	"github.com/xpadev-net/kiosk-agent/internal/status"
)

const (
	messageSuccess   = "Success"
	messageNoCommand = "No command offered"

	maxPlaylistBytes = 1 << 20
	mpegURLType      = "application/vnd.apple.mpegurl"
)

// Pipeline is the agent surface the handlers drive.
type Pipeline interface {
	EnqueueDownload(rawURL string) (download.Job, error)
	EnqueueCommand(raw string) bool
	PendingPlaylist() []string
	Snapshot() *status.Record
	History() history.Recorder
}

// PlaylistFetcher resolves a remote M3U8 playlist into entries.
type PlaylistFetcher interface {
	Fetch(ctx context.Context, playlistURL string) ([]manifest.Entry, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline Pipeline
	fetcher  PlaylistFetcher
}

// NewHandler creates a new API handler.
func NewHandler(pipeline Pipeline, fetcher PlaylistFetcher) *Handler {
	return &Handler{pipeline: pipeline, fetcher: fetcher}
}

// CommandRequest is the JSON form of a command submission. Form and query
// parameters with the same names are accepted too.
type CommandRequest struct {
	Command  string `json:"command" form:"command"`
	ComeFrom string `json:"come_from" form:"come_from"`
}

// CommandResponse is returned when no redirect was requested.
type CommandResponse struct {
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
	Known   bool   `json:"known"`
}

// SubmitCommand handles POST /api/v1/commands
func (h *Handler) SubmitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBind(&req); err != nil {
		httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Command == "" {
		req.Command = c.Query("command")
	}
	if req.ComeFrom == "" {
		req.ComeFrom = c.Query("come_from")
	}
	req.Command = strings.TrimSpace(req.Command)

	if req.Command == "" {
		if req.ComeFrom != "" && httpapi.RedirectWithMessage(c, req.ComeFrom, messageNoCommand) {
			return
		}
		httpapi.RespondBadRequest(c, messageNoCommand)
		return
	}

	known := h.pipeline.EnqueueCommand(req.Command)
	if req.ComeFrom != "" && httpapi.RedirectWithMessage(c, req.ComeFrom, messageSuccess) {
		return
	}
	httpapi.RespondAccepted(c, CommandResponse{
		Message: messageSuccess,
		Command: req.Command,
		Known:   known,
	})
}

// DownloadRequest lists URLs to download and play in order.
type DownloadRequest struct {
	URLs     []string `json:"urls" binding:"required,min=1"`
	ComeFrom string   `json:"come_from"`
}

// QueuedJob identifies an accepted download job.
type QueuedJob struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// DownloadResponse is returned for accepted downloads.
type DownloadResponse struct {
	Jobs []QueuedJob `json:"jobs"`
}

// SubmitDownloads handles POST /api/v1/downloads
func (h *Handler) SubmitDownloads(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
		return
	}
	if err := validateURLs(req.URLs); err != nil {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL, err.Error())
		return
	}

	jobs, err := h.enqueue(req.URLs)
	if err != nil {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL, err.Error())
		return
	}
	if req.ComeFrom != "" && httpapi.RedirectWithMessage(c, req.ComeFrom, messageSuccess) {
		return
	}
	httpapi.RespondAccepted(c, DownloadResponse{Jobs: jobs})
}

// PlaylistImportRequest points at a remote M3U8 playlist.
type PlaylistImportRequest struct {
	URL string `json:"url" binding:"required"`
}

// ImportPlaylist handles POST /api/v1/downloads/playlist. The body is either
// an M3U8 playlist or JSON naming a remote one.
func (h *Handler) ImportPlaylist(c *gin.Context) {
	var entries []manifest.Entry

	if isJSON(c.ContentType()) {
		var req PlaylistImportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpapi.RespondValidationError(c, "Invalid request body: "+err.Error())
			return
		}
		if err := validateURLs([]string{req.URL}); err != nil {
			httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL, err.Error())
			return
		}
		fetched, err := h.fetcher.Fetch(c.Request.Context(), req.URL)
		if err != nil {
			log.Warn("playlist fetch failed", zap.String("url", req.URL), zap.Error(err))
			httpapi.RespondError(c, http.StatusBadGateway, httpapi.ErrCodeInvalidPlaylist, "Failed to fetch playlist: "+err.Error())
			return
		}
		entries = fetched
	} else {
		decoded, err := manifest.Decode(io.LimitReader(c.Request.Body, maxPlaylistBytes), "")
		if err != nil {
			httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidPlaylist, err.Error())
			return
		}
		entries = decoded
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.URI)
	}
	if err := validateURLs(urls); err != nil {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL, err.Error())
		return
	}

	jobs, err := h.enqueue(urls)
	if err != nil {
		httpapi.RespondError(c, http.StatusBadRequest, httpapi.ErrCodeInvalidURL, err.Error())
		return
	}
	httpapi.RespondAccepted(c, DownloadResponse{Jobs: jobs})
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	httpapi.RespondOK(c, h.pipeline.Snapshot())
}

// GetPlaylist handles GET /api/v1/playlist.m3u8
func (h *Handler) GetPlaylist(c *gin.Context) {
	pending := h.pipeline.PendingPlaylist()
	entries := make([]manifest.Entry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, manifest.Entry{URI: p, Title: filepath.Base(p)})
	}
	data, err := manifest.Encode(entries)
	if err != nil {
		httpapi.RespondInternalError(c, "Failed to encode playlist")
		return
	}
	c.Data(http.StatusOK, mpegURLType, data)
}

// ListDownloadHistory handles GET /api/v1/history/downloads
func (h *Handler) ListDownloadHistory(c *gin.Context) {
	records, err := h.pipeline.History().RecentDownloads(c.Request.Context(), queryLimit(c))
	if err != nil {
		log.Error("failed to list download history", zap.Error(err))
		httpapi.RespondError(c, http.StatusInternalServerError, httpapi.ErrCodeDatabase, "Failed to list download history")
		return
	}
	if records == nil {
		records = []history.DownloadRecord{}
	}
	httpapi.RespondOK(c, gin.H{"downloads": records})
}

// ListPlayHistory handles GET /api/v1/history/plays
func (h *Handler) ListPlayHistory(c *gin.Context) {
	records, err := h.pipeline.History().RecentPlays(c.Request.Context(), queryLimit(c))
	if err != nil {
		log.Error("failed to list play history", zap.Error(err))
		httpapi.RespondError(c, http.StatusInternalServerError, httpapi.ErrCodeDatabase, "Failed to list play history")
		return
	}
	if records == nil {
		records = []history.PlayRecord{}
	}
	httpapi.RespondOK(c, gin.H{"plays": records})
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz handles GET /readyz
func (h *Handler) Readyz(c *gin.Context) {
	if err := h.pipeline.History().Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database connection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) enqueue(urls []string) ([]QueuedJob, error) {
	jobs := make([]QueuedJob, 0, len(urls))
	for _, u := range urls {
		job, err := h.pipeline.EnqueueDownload(u)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, QueuedJob{ID: job.ID, URL: job.URL})
	}
	return jobs, nil
}

// validateURLs checks every URL up front so a bad entry rejects the whole
// request before anything is queued.
func validateURLs(urls []string) error {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid download url %q", raw)
		}
	}
	if len(urls) == 0 {
		return errors.New("no urls given")
	}
	return nil
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}

func isJSON(contentType string) bool {
	return contentType == "application/json"
}
