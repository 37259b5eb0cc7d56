package aftersales

import (
	"context"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MaxAttachmentBytes   = 20 << 20
	DefaultSignedURLTTL  = 15 * time.Minute
	maxSignedURLTTL      = 7 * 24 * time.Hour
	attachmentKeyPrefix  = "cases"
	thumbnailSubdir      = "thumbnails"
	mediaTypeOctetStream = "application/octet-stream"
)

var allowedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"video/mp4":       true,
	"video/quicktime": true,
	"application/pdf": true,

	"application/msword":       true,
	"application/vnd.ms-excel": true,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
}

var mediaTypeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// DetectMediaType sniffs the content and falls back to the extension for containers
// (office zips, mp4/mov) that sniffing cannot tell apart.
func DetectMediaType(filename string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = strings.TrimSpace(sniffed[:i])
	}
	if allowedMediaTypes[sniffed] {
		return sniffed
	}
	byExt := mediaTypeByExt[strings.ToLower(filepath.Ext(filename))]
	switch sniffed {
	case "application/zip", mediaTypeOctetStream, "video/mp4":
		if byExt != "" {
			return byExt
		}
	}
	return sniffed
}

// AddAttachment stores evidence for a case. It is not a transition and writes no case log.
func (s *Service) AddAttachment(ctx context.Context, actor Actor, caseId, filename string, data []byte) (_ *Attachment, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.AddAttachment")
	defer func() { endSpan(span, err) }()

	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" || filename == "." {
		return nil, NewValidationError("file", "filename is required")
	}
	if len(data) == 0 {
		return nil, NewValidationError("file", "file is empty")
	}
	if len(data) > MaxAttachmentBytes {
		return nil, NewValidationError("file", "file exceeds 20MB limit")
	}
	mediaType := DetectMediaType(filename, data)
	if !allowedMediaTypes[mediaType] {
		return nil, NewValidationError("file", "unsupported file type "+mediaType)
	}

	c, err := s.GetCase(ctx, actor, caseId)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, &GuardError{Event: "upload attachment", CurrentState: c.Status, Reason: "case is closed"}
	}
	if actor.Role == RoleSupplier && !c.OwnedBy(actor.ID) {
		return nil, &GuardError{Event: "upload attachment", CurrentState: c.Status, RequiredRoles: []Role{RoleAdmin, RoleBuyer, RoleSupplier}}
	}

	prefix := path.Join(attachmentKeyPrefix, c.CaseNumber)
	key, err := s.blobs.Put(ctx, data, BlobMeta{Prefix: prefix, Filename: filename, ContentType: mediaType})
	if err != nil {
		return nil, infraError("store attachment", err)
	}

	att := &Attachment{
		ID:         s.newID(),
		CaseId:     c.ID,
		StorageKey: key,
		MediaType:  mediaType,
		Filename:   filename,
		Size:       int64(len(data)),
		UploadedBy: actor.ID,
		CreatedAt:  s.now(),
	}
	if s.thumbnailer != nil && (mediaType == "image/jpeg" || mediaType == "image/png") {
		att.ThumbnailKey = s.storeThumbnail(ctx, prefix, filename, data)
	}

	created, err := s.attachments.Create(ctx, att)
	if err != nil {
		return nil, infraError("create attachment", err)
	}
	s.dispatcher.Audit(ctx, AuditRecord{
		Action:       auditActionPrefix + "attachment_added",
		ResourceType: auditResourceAttachment,
		ResourceId:   created.ID,
		ActorId:      actor.ID,
		Details:      map[string]any{"caseId": c.ID, "mediaType": mediaType, "filename": filename},
	})
	return created, nil
}

// storeThumbnail is best-effort; the original upload is kept either way.
func (s *Service) storeThumbnail(ctx context.Context, prefix, filename string, data []byte) *string {
	thumb, err := s.thumbnailer.Thumbnail(data)
	if err == nil {
		var key string
		key, err = s.blobs.Put(ctx, thumb, BlobMeta{
			Prefix:      path.Join(prefix, thumbnailSubdir),
			Filename:    strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg",
			ContentType: "image/jpeg",
		})
		if err == nil {
			return &key
		}
	}
	s.logger.WithFields(logrus.Fields{
		"module":   "aftersales",
		"filename": filename,
	}).Warn("thumbnail generation failed: " + err.Error())
	return nil
}

func (s *Service) ListAttachments(ctx context.Context, actor Actor, caseId string) ([]*Attachment, error) {
	c, err := s.GetCase(ctx, actor, caseId)
	if err != nil {
		return nil, err
	}
	atts, err := s.attachments.ListByCase(ctx, c.ID)
	if err != nil {
		return nil, infraError("list attachments", err)
	}
	return atts, nil
}

// AttachmentURL signs a short-lived URL for the attachment, or its thumbnail.
func (s *Service) AttachmentURL(ctx context.Context, actor Actor, attachmentId string, ttl time.Duration, thumbnail bool) (string, error) {
	att, err := s.attachments.GetById(ctx, attachmentId)
	if err != nil {
		return "", infraError("get attachment", err)
	}
	if att == nil {
		return "", &NotFoundError{Resource: "attachment", ID: attachmentId}
	}
	if _, err := s.GetCase(ctx, actor, att.CaseId); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	if ttl > maxSignedURLTTL {
		ttl = maxSignedURLTTL
	}
	key := att.StorageKey
	if thumbnail {
		if att.ThumbnailKey == nil {
			return "", &NotFoundError{Resource: "thumbnail", ID: attachmentId}
		}
		key = *att.ThumbnailKey
	}
	url, err := s.blobs.SignedURL(ctx, key, ttl)
	if err != nil {
		return "", infraError("sign attachment url", err)
	}
	return url, nil
}
