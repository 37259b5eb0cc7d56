package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
	svc    *aftersales.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("SLA_POLICY_FILE", "")

	store := memstore.New()
	seedStore(store)

	logger, _ := logtest.NewNullLogger()
	svc, err := buildMemoryService(store, logger)
	require.NoError(t, err)
	t.Cleanup(svc.WaitForSideEffects)

	app := newApplication(logger)
	app.install(svc, store)
	return &testServer{router: newRouter(app), store: store, svc: svc}
}

func seedStore(s *memstore.Store) {
	now := time.Now().UTC()
	s.AddStore("store-1", "Yangon Main")
	s.AddUser(aftersales.User{ID: "admin-1", Name: "Admin", Role: aftersales.RoleAdmin, IsActive: true, CreatedAt: now})
	s.AddUser(aftersales.User{ID: "buyer-1", Name: "Buyer One", Role: aftersales.RoleBuyer, IsActive: true, CreatedAt: now})
	s.AddUser(aftersales.User{ID: "sup-1", Name: "Golden Supply", Role: aftersales.RoleSupplier, IsActive: true, CreatedAt: now})
	s.AddUser(aftersales.User{ID: "sup-2", Name: "Delta Trading", Role: aftersales.RoleSupplier, IsActive: true, CreatedAt: now})

	storeId := "store-1"
	orderId := "order-1"
	supplierId := "sup-1"
	itemId := "item-1"
	requester := "buyer-1"
	s.AddOrder(aftersales.Order{ID: orderId, StoreId: &storeId})
	s.AddRfq(aftersales.Rfq{ID: "rfq-1", RequesterId: &requester, StoreId: &storeId})
	s.LinkOrderRequest(orderId, "rfq-1")
	s.AddRfqItem(aftersales.RfqItem{ID: itemId, RfqId: "rfq-1", Source: aftersales.ChannelSupplier})
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-1",
		TrackingNumber: "SF123",
		Source:         aftersales.ChannelSupplier,
		SupplierId:     &supplierId,
		OrderId:        &orderId,
		RfqItemId:      &itemId,
		CreatedAt:      now.Add(-48 * time.Hour),
	})
}

func token(t *testing.T, id string, role aftersales.Role) string {
	t.Helper()
	tok, err := utils.JwtGenerate(id, string(role))
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) openCase(t *testing.T, tok string) map[string]any {
	t.Helper()
	w := s.do(t, http.MethodPost, "/cases", tok, map[string]any{
		"trackingNumber": "SF123",
		"issueType":      "damaged",
		"priority":       "high",
		"description":    "carton arrived crushed",
		"claimAmount":    "12500.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	r := newRouter(newApplication(logger))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cases", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCasesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/cases", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpenCase_DispatchesToSupplierAndResolvesNames(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)

	body := s.openCase(t, admin)
	assert.Equal(t, "EXECUTING", body["status"])
	assert.Equal(t, "sup-1", body["supplierId"])
	assert.Equal(t, "Golden Supply", body["supplierName"])
	assert.Equal(t, "SUPPLIER", body["channel"])
	assert.Regexp(t, `^AS-\d{8}-0001$`, body["caseNumber"])
	assert.Equal(t, "12500.5", body["claimAmount"])
}

func TestOpenCase_ValidationErrorIs400(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)

	w := s.do(t, http.MethodPost, "/cases", admin, map[string]any{
		"trackingNumber": "SF123",
		"issueType":      "teleported",
		"priority":       "high",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields, ok := decode(t, w)["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "issueType")
	assert.Contains(t, fields, "description")
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	supplier := token(t, "sup-1", aftersales.RoleSupplier)
	other := token(t, "sup-2", aftersales.RoleSupplier)

	id := s.openCase(t, admin)["id"].(string)

	w := s.do(t, http.MethodPut, "/cases/"+id+"/resolution", supplier, map[string]any{"resolution": "refund two units"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/cases/"+id+"/resolution/submit", other, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = s.do(t, http.MethodGet, "/cases/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/cases/"+id+"/resolution/submit", supplier, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "INSPECTING", decode(t, w)["status"])

	w = s.do(t, http.MethodPost, "/cases/"+id+"/confirm", supplier, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.ElementsMatch(t, []any{"admin", "buyer"}, decode(t, w)["requiredRoles"])

	w = s.do(t, http.MethodPost, "/cases/"+id+"/confirm", admin, map[string]any{"note": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "RESOLVED", decode(t, w)["status"])

	w = s.do(t, http.MethodPost, "/cases/"+id+"/resolution/submit", supplier, map[string]any{"resolution": "again"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "RESOLVED", decode(t, w)["currentState"])

	w = s.do(t, http.MethodGet, "/cases/"+id, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	logs := detail["logs"].([]any)
	assert.Len(t, logs, 5)
	assert.Equal(t, "Golden Supply", detail["case"].(map[string]any)["supplierName"])

	w = s.do(t, http.MethodGet, "/cases/"+id+"/logs", supplier, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["logs"].([]any), 5)
	w = s.do(t, http.MethodGet, "/cases/"+id+"/logs", other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAndCounts(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	s.openCase(t, admin)
	s.openCase(t, admin)

	w := s.do(t, http.MethodGet, "/cases?status=executing,inspecting&limit=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode(t, w)
	assert.EqualValues(t, 2, list["total"])
	assert.Len(t, list["cases"], 1)

	w = s.do(t, http.MethodGet, "/cases?status=lost", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/cases?createdFrom=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/cases", token(t, "sup-2", aftersales.RoleSupplier), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = s.do(t, http.MethodGet, "/cases/counts", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decode(t, w)["counts"].([]any)
	require.Len(t, counts, len(aftersales.AllStatuses))
	for _, raw := range counts {
		c := raw.(map[string]any)
		if c["status"] == "EXECUTING" {
			assert.EqualValues(t, 2, c["count"])
		}
	}
}

func TestProvenanceEndpoint(t *testing.T) {
	s := newTestServer(t)
	buyer := token(t, "buyer-1", aftersales.RoleBuyer)

	w := s.do(t, http.MethodGet, "/provenance?trackingNumber=SF123&preview=true", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	prov := body["provenance"].(map[string]any)
	assert.Equal(t, "SUPPLIER", prov["channel"])
	assert.Equal(t, "sup-1", prov["supplierId"])
	assert.Equal(t, "AUTO_SUPPLIER", body["assignment"].(map[string]any)["route"])

	w = s.do(t, http.MethodGet, "/provenance?trackingNumber=NOPE", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UNKNOWN", decode(t, w)["provenance"].(map[string]any)["channel"])

	w = s.do(t, http.MethodGet, "/provenance", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInfrastructureErrorIs500WithCorrelationId(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	id := s.openCase(t, admin)["id"].(string)

	s.store.FailNext("GetById", errors.New("too many connections"))
	req := httptest.NewRequest(http.MethodGet, "/cases/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	req.Header.Set("x-correlation-id", "cid-42")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cid-42", body["correlationId"])
	assert.NotContains(t, w.Body.String(), "too many connections")
	assert.Equal(t, "cid-42", w.Header().Get("x-correlation-id"))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		img.Set(x, x%200, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAttachmentUploadAndSignedURL(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	supplier := token(t, "sup-1", aftersales.RoleSupplier)
	id := s.openCase(t, admin)["id"].(string)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "box.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/cases/"+id+"/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+supplier)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	att := decode(t, w)
	assert.Equal(t, "image/png", att["mediaType"])
	require.NotNil(t, att["thumbnailKey"])
	thumb, ok := s.store.Blob(att["thumbnailKey"].(string))
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", http.DetectContentType(thumb))

	w = s.do(t, http.MethodGet, "/attachments/"+att["id"].(string)+"/url?ttl=60", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(decode(t, w)["url"].(string), "memory://cases/"))

	w = s.do(t, http.MethodGet, "/attachments/"+att["id"].(string)+"/url?ttl=-5", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/attachments/"+att["id"].(string)+"/url", token(t, "sup-2", aftersales.RoleSupplier), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/cases/"+id+"/attachments", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["attachments"], 1)
}

func TestAttachmentUpload_MissingFile(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	id := s.openCase(t, admin)["id"].(string)

	w := s.do(t, http.MethodPost, "/cases/"+id+"/attachments", admin, map[string]any{"file": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportCases(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "admin-1", aftersales.RoleAdmin)
	first := s.openCase(t, admin)
	s.openCase(t, admin)

	w := s.do(t, http.MethodGet, "/cases/export", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])

	var numbers []string
	for _, r := range rows[1:] {
		numbers = append(numbers, r[0])
		assert.Equal(t, "Golden Supply", r[6])
		assert.Equal(t, "12500.50", r[9])
	}
	assert.Contains(t, numbers, first["caseNumber"])
}

func TestQueryTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodGet, "/cases?createdFrom=2025-03-14&createdTo=2025-03-14", nil)

	f, err := parseCaseFilter(ctx)
	require.NoError(t, err)
	require.NotNil(t, f.CreatedFrom)
	require.NotNil(t, f.CreatedTo)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), *f.CreatedFrom)
	assert.Equal(t, time.Date(2025, 3, 14, 23, 59, 59, 999999999, time.UTC), *f.CreatedTo)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
	assert.Nil(t, splitAndTrim("  "))
}

func TestMemoryDemo_SeedAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")
	t.Setenv("SLA_POLICY_FILE", "")

	store := memstore.New()
	memstore.SeedDemo(store, time.Now().UTC())
	logger, _ := logtest.NewNullLogger()
	svc, err := buildMemoryService(store, logger)
	require.NoError(t, err)
	t.Cleanup(svc.WaitForSideEffects)

	app := newApplication(logger)
	app.login, err = memoryLogin(store, "demo-pass")
	require.NoError(t, err)
	app.install(svc, store)
	s := &testServer{router: newRouter(app), store: store, svc: svc}

	w := s.do(t, http.MethodPost, "/auth/login", "", map[string]any{"username": memstore.DemoAdminId, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodPost, "/auth/login", "", map[string]any{"username": "nobody", "password": "demo-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/login", "", map[string]any{"username": memstore.DemoAdminId, "password": "demo-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode(t, w)
	assert.Equal(t, "admin", login["role"])
	tok := login["token"].(string)

	w = s.do(t, http.MethodGet, "/provenance?trackingNumber="+memstore.DemoSupplierTracking, tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "SUPPLIER", decode(t, w)["provenance"].(map[string]any)["channel"])

	w = s.do(t, http.MethodGet, "/provenance?trackingNumber="+memstore.DemoEcommerceTracking, tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ECOMMERCE", decode(t, w)["provenance"].(map[string]any)["channel"])
}
