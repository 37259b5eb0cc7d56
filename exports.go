package main

import (
	"fmt"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	exportSheet    = "Cases"
	exportPageSize = 200
	exportMaxRows  = 10000
)

var exportHeaders = []string{
	"CaseNumber", "Status", "IssueType", "Priority", "Channel", "TrackingNumber",
	"Supplier", "Handler", "Store", "ClaimAmount", "Description", "Resolution",
	"SlaDeadline", "CreatedAt", "ResolvedAt",
}

// exportCasesHandler streams the filtered case list as .xlsx. limit/offset are ignored.
func (app *application) exportCasesHandler(c *gin.Context) {
	filter, err := parseCaseFilter(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var rows []caseResponse
	filter.Offset = 0
	filter.Limit = exportPageSize
	for len(rows) < exportMaxRows {
		page, total, err := app.service().ListCases(c.Request.Context(), actor(c), filter)
		if err != nil {
			writeError(c, err)
			return
		}
		rows = append(rows, app.enrichCases(c.Request.Context(), page)...)
		filter.Offset += len(page)
		if len(page) < exportPageSize || int64(filter.Offset) >= total {
			break
		}
	}

	f, err := buildCaseWorkbook(rows)
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("cases-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func buildCaseWorkbook(rows []caseResponse) (*excelize.File, error) {
	f := excelize.NewFile()
	idx, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		values := []any{
			row.CaseNumber,
			string(row.Status),
			string(row.IssueType),
			string(row.Priority),
			string(row.Channel),
			utils.DereferencePtr(row.TrackingNumber),
			row.SupplierName,
			row.HandlerName,
			row.StoreName,
			"",
			row.Description,
			utils.DereferencePtr(row.Resolution),
			row.SlaDeadline.UTC().Format(time.RFC3339),
			row.CreatedAt.UTC().Format(time.RFC3339),
			"",
		}
		if row.ClaimAmount != nil {
			values[9] = row.ClaimAmount.StringFixed(2)
		}
		if row.ResolvedAt != nil {
			values[14] = row.ResolvedAt.UTC().Format(time.RFC3339)
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}
