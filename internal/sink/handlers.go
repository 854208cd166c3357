package sink

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pixlift/internal/media"
)

// handleUpload accepts one multipart upload: the payload under "file", an
// optional "scope" form field. Synthetic failures are decided before the
// body is touched so a failing request leaves no partial state.
func (s *Server) handleUpload(c *gin.Context) {
	n := s.requests.Add(1)
	if s.cfg.FailEvery > 0 && n%uint64(s.cfg.FailEvery) == 0 {
		s.logger.Warn("synthetic failure for request %d (every %d)", n, s.cfg.FailEvery)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("synthetic failure (request %d)", n)})
		return
	}
	if s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate {
		s.logger.Warn("synthetic failure for request %d (rate %.2f)", n, s.cfg.FailRate)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "synthetic failure"})
		return
	}

	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `multipart field "file" is required`})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	f := media.FromBytes(fileHeader.Filename, data)
	if !media.IsImage(f.MIME) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("%s is not an image type", f.MIME)})
		return
	}

	scope := c.PostForm("scope")
	url, err := s.store.Upload(c.Request.Context(), f, scope)
	if err != nil {
		s.logger.Error("store %s: %v", f.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store object"})
		return
	}

	s.accepted.Add(1)
	s.broadcast(uploadEvent{
		Type:      "upload.committed",
		Name:      f.Name,
		Scope:     scope,
		URL:       url,
		Size:      f.Size(),
		MIME:      f.MIME,
		Timestamp: time.Now(),
	})

	s.logger.Info("accepted %s (%s, %s) -> %s", f.Name, f.MIME, media.FormatBytes(f.Size()), url)
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handleObject serves a stored object by key. Keys are cleaned so a crafted
// path cannot escape the storage root.
func (s *Server) handleObject(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean == "." {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}

	full := filepath.Join(s.cfg.Dir, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.File(full)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	Requests    uint64    `json:"requests"`
	Accepted    uint64    `json:"accepted"`
	Subscribers int       `json:"subscribers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   time.Now(),
		Uptime:      time.Since(s.startTime).Truncate(time.Second).String(),
		Requests:    s.requests.Load(),
		Accepted:    s.accepted.Load(),
		Subscribers: s.subscriberCount(),
	})
}
