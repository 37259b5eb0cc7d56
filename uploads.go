package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// multipart framing on top of the file itself
const uploadOverheadBytes = 1 << 20

type attachmentURLResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

// uploadAttachmentHandler stores the multipart "file" field as case evidence.
func (app *application) uploadAttachmentHandler(c *gin.Context) {
	requestID := correlationId(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, aftersales.MaxAttachmentBytes+uploadOverheadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fh.Size > aftersales.MaxAttachmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		logUploadError(app.logger, err, utils.GetStorageProvider(), requestID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, aftersales.MaxAttachmentBytes+1))
	if err != nil {
		logUploadError(app.logger, err, utils.GetStorageProvider(), requestID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}

	att, err := app.service().AddAttachment(c.Request.Context(), actor(c), c.Param("id"), fh.Filename, data)
	if err != nil {
		var infra *aftersales.InfrastructureError
		if errors.As(err, &infra) {
			logUploadError(app.logger, err, utils.GetStorageProvider(), requestID)
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (app *application) listAttachmentsHandler(c *gin.Context) {
	atts, err := app.service().ListAttachments(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": atts})
}

// attachmentURLHandler signs a GET URL. ttl is in seconds; thumbnail=true signs the thumbnail.
func (app *application) attachmentURLHandler(c *gin.Context) {
	ttl := aftersales.DefaultSignedURLTTL
	if v := strings.TrimSpace(c.Query("ttl")); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			writeError(c, aftersales.NewValidationError("ttl", "must be a positive number of seconds"))
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	thumbnail, _ := strconv.ParseBool(c.Query("thumbnail"))

	url, err := app.service().AttachmentURL(c.Request.Context(), actor(c), c.Param("id"), ttl, thumbnail)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attachmentURLResponse{
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(ttl).Format(time.RFC3339),
	})
}

func logUploadError(logger *logrus.Logger, err error, provider string, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   provider,
		"request_id": requestID,
	}).Error("[upload.error]")
}
