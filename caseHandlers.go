package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
)

// caseResponse is a case with display names resolved through the request loaders.
type caseResponse struct {
	*aftersales.Case
	SupplierName string `json:"supplierName,omitempty"`
	HandlerName  string `json:"handlerName,omitempty"`
	StoreName    string `json:"storeName,omitempty"`
}

type caseListResponse struct {
	Cases  []caseResponse `json:"cases"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type caseDetailResponse struct {
	Case        caseResponse              `json:"case"`
	Logs        []aftersales.CaseLogEntry `json:"logs"`
	Attachments []*aftersales.Attachment  `json:"attachments"`
}

type assignRequest struct {
	SupplierId string `json:"supplierId" binding:"required"`
}

type resolutionRequest struct {
	Resolution string `json:"resolution"`
}

type confirmRequest struct {
	Note string `json:"note"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type overrideStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// writeError maps engine errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *aftersales.ValidationError
		notFoundErr   *aftersales.NotFoundError
		guardErr      *aftersales.GuardError
		conflictErr   *aftersales.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": validationErr.Fields})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "resource": notFoundErr.Resource, "id": notFoundErr.ID})
	case errors.As(err, &guardErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":          err.Error(),
			"event":          guardErr.Event,
			"currentState":   guardErr.CurrentState,
			"requiredStates": guardErr.RequiredStates,
			"requiredRoles":  guardErr.RequiredRoles,
			"reason":         guardErr.Reason,
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "caseId": conflictErr.CaseId})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         "internal server error",
			"correlationId": correlationId(c),
		})
	}
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func actor(c *gin.Context) aftersales.Actor {
	a, _ := middlewares.ActorFrom(c.Request.Context())
	return a
}

func (app *application) loginHandler(c *gin.Context) {
	if app.login == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "login is not available with memory storage"})
		return
	}
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	info, err := app.login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (app *application) openCaseHandler(c *gin.Context) {
	var in aftersales.OpenCaseInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := app.service().OpenCase(c.Request.Context(), actor(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.enrichCase(c.Request.Context(), created))
}

func (app *application) listCasesHandler(c *gin.Context) {
	filter, err := parseCaseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	cases, total, err := app.service().ListCases(c.Request.Context(), actor(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, caseListResponse{
		Cases:  app.enrichCases(c.Request.Context(), cases),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (app *application) statusCountsHandler(c *gin.Context) {
	filter, err := parseCaseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := app.service().StatusCounts(c.Request.Context(), actor(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (app *application) caseDetailHandler(c *gin.Context) {
	detail, err := app.service().GetCaseDetail(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, caseDetailResponse{
		Case:        app.enrichCase(c.Request.Context(), detail.Case),
		Logs:        detail.Logs,
		Attachments: detail.Attachments,
	})
}

func (app *application) caseLogsHandler(c *gin.Context) {
	logs, err := app.service().ListCaseLogs(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (app *application) assignHandler(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().AssignToSupplier(c.Request.Context(), actor(c), c.Param("id"), req.SupplierId))
}

func (app *application) updateResolutionHandler(c *gin.Context) {
	var req resolutionRequest
	if !bindJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().UpdateResolutionDraft(c.Request.Context(), actor(c), c.Param("id"), req.Resolution))
}

func (app *application) submitResolutionHandler(c *gin.Context) {
	var req resolutionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().SubmitResolution(c.Request.Context(), actor(c), c.Param("id"), req.Resolution))
}

func (app *application) confirmHandler(c *gin.Context) {
	var req confirmRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().ConfirmResolution(c.Request.Context(), actor(c), c.Param("id"), req.Note))
}

func (app *application) rejectHandler(c *gin.Context) {
	var req rejectRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().RejectResolution(c.Request.Context(), actor(c), c.Param("id"), req.Reason))
}

func (app *application) replacementHandler(c *gin.Context) {
	var req aftersales.UploadReplacementInput
	if !bindJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().UploadReplacementTracking(c.Request.Context(), actor(c), c.Param("id"), req))
}

func (app *application) overrideStatusHandler(c *gin.Context) {
	var req overrideStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	app.respondCase(c)(app.service().OverrideStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status, req.Note))
}

// provenanceHandler resolves ?trackingNumber= or, failing that, ?orderId=.
// With preview=true the assignment the case would receive is included.
func (app *application) provenanceHandler(c *gin.Context) {
	ctx := c.Request.Context()
	tracking := strings.TrimSpace(c.Query("trackingNumber"))
	orderId := strings.TrimSpace(c.Query("orderId"))

	var (
		result aftersales.ProvenanceResult
		err    error
	)
	switch {
	case tracking != "":
		result, err = app.service().ResolveByTrackingNumber(ctx, tracking)
	case orderId != "":
		result, err = app.service().ResolveByOrder(ctx, orderId)
	default:
		err = aftersales.NewValidationError("trackingNumber", "trackingNumber or orderId is required")
	}
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"provenance": result}
	if preview, _ := strconv.ParseBool(c.Query("preview")); preview {
		_, decision := app.service().PreviewAssignment(ctx, tracking, orderId)
		body["assignment"] = decision
	}
	c.JSON(http.StatusOK, body)
}

func (app *application) respondCase(c *gin.Context) func(*aftersales.Case, error) {
	return func(updated *aftersales.Case, err error) {
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, app.enrichCase(c.Request.Context(), updated))
	}
}

func (app *application) enrichCase(ctx context.Context, c *aftersales.Case) caseResponse {
	return app.enrichCases(ctx, []*aftersales.Case{c})[0]
}

// enrichCases queues every name lookup before waiting on any, so one list costs
// one user query and one store query.
func (app *application) enrichCases(ctx context.Context, cases []*aftersales.Case) []caseResponse {
	out := make([]caseResponse, len(cases))
	loaders := middlewares.For(ctx)
	if loaders == nil {
		for i, c := range cases {
			out[i] = caseResponse{Case: c}
		}
		return out
	}

	type thunks struct {
		supplier, handler, store dataloader.Thunk[string]
	}
	queue := func(l *dataloader.Loader[string, string], id *string) dataloader.Thunk[string] {
		if id == nil || *id == "" {
			return nil
		}
		return l.Load(ctx, *id)
	}
	pending := make([]thunks, len(cases))
	for i, c := range cases {
		pending[i] = thunks{
			supplier: queue(loaders.UserNameLoader, c.SupplierId),
			handler:  queue(loaders.UserNameLoader, c.HandlerId),
			store:    queue(loaders.StoreNameLoader, c.StoreId),
		}
	}

	resolve := func(t dataloader.Thunk[string]) string {
		if t == nil {
			return ""
		}
		name, err := t()
		if err != nil {
			config.LogError(app.logger, "caseHandlers.go", "enrichCases", "load display name", nil, err)
			return ""
		}
		return name
	}
	for i, c := range cases {
		out[i] = caseResponse{
			Case:         c,
			SupplierName: resolve(pending[i].supplier),
			HandlerName:  resolve(pending[i].handler),
			StoreName:    resolve(pending[i].store),
		}
	}
	return out
}

// parseCaseFilter reads list filters from the query string. status takes a comma-separated list.
func parseCaseFilter(c *gin.Context) (aftersales.CaseFilter, error) {
	var f aftersales.CaseFilter

	for _, raw := range splitAndTrim(c.Query("status")) {
		st, err := aftersales.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := strings.TrimSpace(c.Query("issueType")); v != "" {
		t, err := aftersales.ParseIssueType(v)
		if err != nil {
			return f, err
		}
		f.IssueType = &t
	}
	if v := strings.TrimSpace(c.Query("priority")); v != "" {
		p, err := aftersales.ParsePriority(v)
		if err != nil {
			return f, err
		}
		f.Priority = &p
	}
	if v := strings.TrimSpace(c.Query("channel")); v != "" {
		ch, err := aftersales.ParseChannel(v)
		if err != nil {
			return f, err
		}
		f.Channel = &ch
	}
	f.SupplierId = queryPtr(c, "supplierId")
	f.HandlerId = queryPtr(c, "handlerId")
	f.StoreId = queryPtr(c, "storeId")
	f.Search = strings.TrimSpace(c.Query("q"))

	var err error
	if f.CreatedFrom, err = queryTime(c, "createdFrom", false); err != nil {
		return f, err
	}
	if f.CreatedTo, err = queryTime(c, "createdTo", true); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func queryPtr(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, aftersales.NewValidationError(key, "must be a non-negative integer")
	}
	return n, nil
}

// queryTime accepts RFC3339 or a bare date. A bare endOfDay date covers the whole day.
func queryTime(c *gin.Context, key string, endOfDay bool) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
	if err != nil {
		return nil, aftersales.NewValidationError(key, "expected RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return &d, nil
}
