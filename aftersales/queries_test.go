package aftersales_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestListCases_SupplierSeesOnlyOwnCases(t *testing.T) {
	f := newFixture(t)
	mine := f.openSupplierCase(t, aftersales.IssueTypeDamaged)
	_, err := f.svc.OpenCase(ctxBase, admin, openInput("EC-777", aftersales.IssueTypeMissing))
	require.NoError(t, err)

	all, total, err := f.svc.ListCases(ctxBase, admin, aftersales.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.EqualValues(t, 2, total)

	// a supplier cannot widen the scope by asking for someone else's cases
	other := "sup-2"
	own, total, err := f.svc.ListCases(ctxBase, supp1, aftersales.CaseFilter{SupplierId: &other})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, mine.ID, own[0].ID)

	none, _, err := f.svc.ListCases(ctxBase, supp2, aftersales.CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListCases_Filters(t *testing.T) {
	f := newFixture(t)
	f.openSupplierCase(t, aftersales.IssueTypeDamaged)
	ecommerce, err := f.svc.OpenCase(ctxBase, admin, openInput("EC-777", aftersales.IssueTypeMissing))
	require.NoError(t, err)

	channel := aftersales.ChannelEcommerce
	got, _, err := f.svc.ListCases(ctxBase, buyer1, aftersales.CaseFilter{Channel: &channel})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ecommerce.ID, got[0].ID)

	got, _, err = f.svc.ListCases(ctxBase, buyer1, aftersales.CaseFilter{Statuses: []aftersales.Status{aftersales.StatusExecuting}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, aftersales.StatusExecuting, got[0].Status)

	got, _, err = f.svc.ListCases(ctxBase, buyer1, aftersales.CaseFilter{Search: ecommerce.CaseNumber})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, total, err := f.svc.ListCases(ctxBase, buyer1, aftersales.CaseFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 2, total)
}

func TestGetCaseDetail(t *testing.T) {
	f := newFixture(t)
	c := f.openSupplierCase(t, aftersales.IssueTypeDamaged)

	detail, err := f.svc.GetCaseDetail(ctxBase, supp1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, detail.Case.ID)
	assert.Len(t, detail.Logs, 2)
	assert.NotNil(t, detail.Attachments)

	_, err = f.svc.GetCaseDetail(ctxBase, supp2, c.ID)
	require.ErrorIs(t, err, aftersales.ErrNotFound)

	_, err = f.svc.GetCaseDetail(ctxBase, admin, "missing")
	require.ErrorIs(t, err, aftersales.ErrNotFound)
}

func TestGetCase_StorageFailureIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	c := f.openSupplierCase(t, aftersales.IssueTypeDamaged)
	f.store.FailNext("GetById", errors.New("too many connections"))

	_, err := f.svc.GetCase(ctxBase, admin, c.ID)
	var infra *aftersales.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, "get case", infra.Op)
}

func TestStatusCounts(t *testing.T) {
	f := newFixture(t)
	f.openSupplierCase(t, aftersales.IssueTypeDamaged)
	f.openSupplierCase(t, aftersales.IssueTypeClaim)
	_, err := f.svc.OpenCase(ctxBase, admin, openInput("EC-777", aftersales.IssueTypeMissing))
	require.NoError(t, err)

	counts, err := f.svc.StatusCounts(ctxBase, admin, aftersales.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, counts, len(aftersales.AllStatuses))
	byStatus := map[aftersales.Status]int64{}
	for _, c := range counts {
		byStatus[c.Status] = c.Count
	}
	assert.EqualValues(t, 1, byStatus[aftersales.StatusOpened])
	assert.EqualValues(t, 2, byStatus[aftersales.StatusExecuting])
	assert.EqualValues(t, 0, byStatus[aftersales.StatusResolved])

	scoped, err := f.svc.StatusCounts(ctxBase, supp2, aftersales.CaseFilter{})
	require.NoError(t, err)
	for _, c := range scoped {
		assert.Zero(t, c.Count, c.Status)
	}
}

func TestPreviewAssignment(t *testing.T) {
	f := newFixture(t)

	prov, d := f.svc.PreviewAssignment(ctxBase, "EC-777", "")
	assert.Equal(t, aftersales.ChannelEcommerce, prov.Channel)
	assert.Equal(t, aftersales.RouteAutoBuyer, d.Route)

	cases, _, err := f.svc.ListCases(ctxBase, admin, aftersales.CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestAddAttachment(t *testing.T) {
	f := newFixture(t)
	c := f.openSupplierCase(t, aftersales.IssueTypeDamaged)

	att, err := f.svc.AddAttachment(ctxBase, supp1, c.ID, "../photos/Box.PNG", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.MediaType)
	assert.Equal(t, "Box.PNG", att.Filename)
	assert.Regexp(t, `^cases/`+c.CaseNumber+`/[0-9a-f-]+\.png$`, att.StorageKey)
	require.NotNil(t, att.ThumbnailKey)
	assert.Regexp(t, `^cases/`+c.CaseNumber+`/thumbnails/[0-9a-f-]+\.jpg$`, *att.ThumbnailKey)

	_, ok := f.store.Blob(att.StorageKey)
	assert.True(t, ok)

	// evidence is not a transition
	assert.Equal(t, []string{"opened", "executing"}, f.logActions(t, c.ID))
	assert.Equal(t, c.Version, f.reload(t, c.ID).Version)

	url, err := f.svc.AttachmentURL(ctxBase, admin, att.ID, time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, "memory://"+att.StorageKey+"?ttl=60", url)

	thumb, err := f.svc.AttachmentURL(ctxBase, supp1, att.ID, 0, true)
	require.NoError(t, err)
	assert.Contains(t, thumb, "thumbnails/")

	_, err = f.svc.AttachmentURL(ctxBase, supp2, att.ID, 0, false)
	require.ErrorIs(t, err, aftersales.ErrNotFound)

	detail, err := f.svc.GetCaseDetail(ctxBase, admin, c.ID)
	require.NoError(t, err)
	require.Len(t, detail.Attachments, 1)

	f.svc.WaitForSideEffects()
	assert.Contains(t, f.audit.Actions(), "case.attachment_added")
}

func TestAddAttachment_Rules(t *testing.T) {
	f := newFixture(t)
	c := f.openSupplierCase(t, aftersales.IssueTypeDamaged)

	_, err := f.svc.AddAttachment(ctxBase, admin, c.ID, "notes.txt", []byte("plain text evidence"))
	require.ErrorIs(t, err, aftersales.ErrValidation)

	_, err = f.svc.AddAttachment(ctxBase, admin, c.ID, "empty.pdf", nil)
	require.ErrorIs(t, err, aftersales.ErrValidation)

	_, err = f.svc.AddAttachment(ctxBase, supp2, c.ID, "box.png", pngHeader)
	require.ErrorIs(t, err, aftersales.ErrNotFound)

	pdf, err := f.svc.AddAttachment(ctxBase, buyer1, c.ID, "invoice.pdf", []byte("%PDF-1.4\n%âãÏÓ\n"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.MediaType)
	assert.Nil(t, pdf.ThumbnailKey)

	_, err = f.svc.OverrideStatus(ctxBase, admin, c.ID, "CLOSED", "")
	require.NoError(t, err)
	_, err = f.svc.AddAttachment(ctxBase, admin, c.ID, "late.png", pngHeader)
	require.ErrorIs(t, err, aftersales.ErrGuard)
}

func TestAddAttachment_ThumbnailFailureKeepsUpload(t *testing.T) {
	store := newFixture(t).store
	deps := store.Deps()
	deps.Thumbnailer = fakeThumbnailer{err: errors.New("unsupported color model")}
	svc := aftersales.NewService(deps)

	c, err := svc.OpenCase(ctxBase, admin, openInput("SF123", aftersales.IssueTypeDamaged))
	require.NoError(t, err)

	att, err := svc.AddAttachment(ctxBase, supp1, c.ID, "box.png", pngHeader)
	require.NoError(t, err)
	assert.Nil(t, att.ThumbnailKey)
	_, ok := store.Blob(att.StorageKey)
	assert.True(t, ok)
}

func TestDetectMediaType_OfficeAndVideoContainers(t *testing.T) {
	zip := []byte("PK\x03\x04\x14\x00\x06\x00\x08\x00\x00\x00!\x00")
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		aftersales.DetectMediaType("claims.xlsx", zip))
	assert.Equal(t, "application/zip", aftersales.DetectMediaType("archive.zip", zip))

	mov := []byte("\x00\x00\x00\x14ftypqt  \x00\x00\x00\x00qt  ")
	assert.Equal(t, "video/quicktime", aftersales.DetectMediaType("unboxing.mov", mov))
}
