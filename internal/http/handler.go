package http

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nurpe/procurement-workflow/internal/http/middleware"
	"github.com/nurpe/procurement-workflow/internal/model"
	"github.com/nurpe/procurement-workflow/internal/service"
	"github.com/nurpe/procurement-workflow/internal/workflow"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	pdfContentType  = "application/pdf"
)

type Handler struct {
	ocs      *service.OCService
	invoices *service.InvoiceService
	bulk     *service.BulkService
	events   http.Handler
	log      zerolog.Logger
}

func NewHandler(ocs *service.OCService, invoices *service.InvoiceService, bulk *service.BulkService, events http.Handler, log zerolog.Logger) *Handler {
	return &Handler{ocs: ocs, invoices: invoices, bulk: bulk, events: events, log: log}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.GET("/ws", gin.WrapH(h.events))

	protected.POST("/ocs", h.createOC)
	protected.GET("/ocs/:id", h.getOC)
	protected.PUT("/ocs/:id", h.updateOC)
	protected.PATCH("/ocs/:id/status", h.setOCStatus)
	protected.POST("/ocs/:id/route-approval", h.ocTransition(h.ocs.RouteApproval))
	protected.POST("/ocs/:id/approve-vp", h.ocTransition(h.ocs.ApproveVP))
	protected.POST("/ocs/:id/request-cancel", h.ocTransition(h.ocs.RequestCancel))
	protected.POST("/ocs/:id/approve-cancel", h.ocTransition(h.ocs.ApproveCancel))
	protected.POST("/ocs/:id/reject-cancel", h.ocTransition(h.ocs.RejectCancel))
	protected.GET("/ocs/:id/consumo", h.getConsumption)
	protected.GET("/ocs/:id/consumo/pdf", h.getConsumptionPDF)
	protected.GET("/ocs/:id/history", h.getOCHistory)

	protected.POST("/invoices", h.createInvoice)
	protected.GET("/invoices/:id", h.getInvoice)
	protected.PUT("/invoices/:id", h.updateInvoice)
	protected.PATCH("/invoices/:id/status", h.setInvoiceStatus)
	protected.POST("/invoices/:id/approve-head", h.invoiceTransition(h.invoices.ApproveHead))
	protected.POST("/invoices/:id/approve-vp", h.invoiceTransition(h.invoices.ApproveVP))
	protected.POST("/invoices/:id/reject", h.invoiceTransition(h.invoices.Reject))
	protected.POST("/invoices/:id/reopen", h.invoiceTransition(h.invoices.Reopen))
	protected.GET("/invoices/:id/history", h.getInvoiceHistory)

	protected.POST("/bulk/import", h.bulkImport)
}

type allocationRequest struct {
	CostCenterID string          `json:"costCenterId"`
	Percentage   decimal.Decimal `json:"percentage"`
}

func (r allocationRequest) toModel() model.CostCenterAllocation {
	return model.CostCenterAllocation{CostCenterID: r.CostCenterID, Percentage: r.Percentage}
}

func toAllocations(reqs []allocationRequest) []model.CostCenterAllocation {
	allocations := make([]model.CostCenterAllocation, 0, len(reqs))
	for _, r := range reqs {
		allocations = append(allocations, r.toModel())
	}
	return allocations
}

type ocRequest struct {
	Number             string              `json:"number"`
	SupportID          *uuid.UUID          `json:"supportId"`
	Currency           string              `json:"currency"`
	AmountExcludingTax decimal.Decimal     `json:"amountExcludingTax"`
	Requester          string              `json:"requester"`
	Allocations        []allocationRequest `json:"allocations"`
	BudgetPeriodFrom   string              `json:"budgetPeriodFrom"`
	BudgetPeriodTo     string              `json:"budgetPeriodTo"`
	Version            *int64              `json:"version"`
}

func (r ocRequest) toInput(principal model.Principal) service.OCInput {
	return service.OCInput{
		Number:             strings.TrimSpace(r.Number),
		SupportID:          r.SupportID,
		Currency:           r.Currency,
		AmountExcludingTax: r.AmountExcludingTax,
		Requester:          strings.TrimSpace(r.Requester),
		Allocations:        toAllocations(r.Allocations),
		BudgetPeriodFrom:   r.BudgetPeriodFrom,
		BudgetPeriodTo:     r.BudgetPeriodTo,
		Version:            r.Version,
		Principal:          principal,
	}
}

type invoiceRequest struct {
	Number               string              `json:"number"`
	OCID                 *uuid.UUID          `json:"ocId"`
	SupportID            *uuid.UUID          `json:"supportId"`
	DocType              string              `json:"docType"`
	Currency             string              `json:"currency"`
	AmountExcludingTax   decimal.Decimal     `json:"amountExcludingTax"`
	ExchangeRateOverride *decimal.Decimal    `json:"exchangeRateOverride"`
	Allocations          []allocationRequest `json:"allocations"`
	Periods              []string            `json:"periods"`
	AccountingMonth      *string             `json:"accountingMonth"`
	Version              *int64              `json:"version"`
}

func (r invoiceRequest) toInput(principal model.Principal) service.InvoiceInput {
	return service.InvoiceInput{
		Number:               strings.TrimSpace(r.Number),
		OCID:                 r.OCID,
		SupportID:            r.SupportID,
		DocType:              model.DocType(strings.ToUpper(strings.TrimSpace(r.DocType))),
		Currency:             r.Currency,
		AmountExcludingTax:   r.AmountExcludingTax,
		ExchangeRateOverride: r.ExchangeRateOverride,
		Allocations:          toAllocations(r.Allocations),
		Periods:              r.Periods,
		AccountingMonth:      r.AccountingMonth,
		Version:              r.Version,
		Principal:            principal,
	}
}

type noteRequest struct {
	Note string `json:"note"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *Handler) createOC(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req ocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.ocs.Create(c.Request.Context(), req.toInput(principal))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) updateOC(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.ocs.Update(c.Request.Context(), id, req.toInput(principal))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getOC(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	oc, err := h.ocs.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, oc)
}

func (h *Handler) setOCStatus(c *gin.Context) {
	input, ok := bindStatusChange(c)
	if !ok {
		return
	}
	oc, err := h.ocs.SetStatus(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, oc)
}

func (h *Handler) ocTransition(fn func(context.Context, service.TransitionInput) (*model.PurchaseOrder, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindTransition(c)
		if !ok {
			return
		}
		oc, err := fn(c.Request.Context(), input)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, oc)
	}
}

func (h *Handler) getConsumption(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	consumption, err := h.ocs.Consumption(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, consumption)
}

func (h *Handler) getConsumptionPDF(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.ocs.ConsumptionPDF(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, pdfContentType, result.Content)
}

func (h *Handler) getOCHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	history, err := h.ocs.History(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (h *Handler) createInvoice(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.invoices.Create(c.Request.Context(), req.toInput(principal))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) updateInvoice(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.invoices.Update(c.Request.Context(), id, req.toInput(principal))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	inv, err := h.invoices.Get(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) setInvoiceStatus(c *gin.Context) {
	input, ok := bindStatusChange(c)
	if !ok {
		return
	}
	inv, err := h.invoices.SetStatus(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *Handler) invoiceTransition(fn func(context.Context, service.TransitionInput) (*model.Invoice, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		input, ok := bindTransition(c)
		if !ok {
			return
		}
		inv, err := fn(c.Request.Context(), input)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, inv)
	}
}

func (h *Handler) getInvoiceHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	history, err := h.invoices.History(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

type bulkRequest struct {
	DryRun bool             `json:"dryRun"`
	Rows   []bulkRowRequest `json:"rows" binding:"required"`
}

type bulkRowRequest struct {
	Row  int             `json:"row"`
	Type string          `json:"type"`
	ID   *uuid.UUID      `json:"id"`
	Data json.RawMessage `json:"data"`
}

func (h *Handler) bulkImport(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows := make([]service.BulkRow, 0, len(req.Rows))
	for _, r := range req.Rows {
		rows = append(rows, toBulkRow(r, principal))
	}
	result, err := h.bulk.Reconcile(c.Request.Context(), service.BulkInput{
		Rows:      rows,
		DryRun:    req.DryRun,
		Principal: principal,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "xlsx") {
		file, err := h.bulk.Export(result)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=\""+file.FileName+"\"")
		c.Data(http.StatusOK, xlsxContentType, file.Content)
		return
	}
	c.JSON(http.StatusOK, result)
}

// toBulkRow decodes the row payload by type. A payload that does not decode
// is kept on the row as DecodeErr and reported as a row error.
func toBulkRow(r bulkRowRequest, principal model.Principal) service.BulkRow {
	row := service.BulkRow{
		Row:  r.Row,
		Type: service.BulkRowType(strings.ToLower(strings.TrimSpace(r.Type))),
		ID:   r.ID,
	}
	switch row.Type {
	case service.BulkRowOC:
		data, err := decodeRowData[ocRequest](r.Data)
		if err != nil {
			row.DecodeErr = err
			break
		}
		in := data.toInput(principal)
		row.OC = &in
	case service.BulkRowInvoice:
		data, err := decodeRowData[invoiceRequest](r.Data)
		if err != nil {
			row.DecodeErr = err
			break
		}
		in := data.toInput(principal)
		row.Invoice = &in
	}
	return row
}

// decodeRowData decodes a bulk payload. When a value is rejected without a
// field name, each top-level field is decoded on its own to locate it.
func decodeRowData[T any](data json.RawMessage) (*T, error) {
	var dst T
	err := json.Unmarshal(data, &dst)
	if err == nil {
		return &dst, nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		return nil, err
	}
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		single, marshalErr := json.Marshal(map[string]json.RawMessage{key: fields[key]})
		if marshalErr != nil {
			continue
		}
		var partial T
		if fieldErr := json.Unmarshal(single, &partial); fieldErr != nil {
			verr := &workflow.ValidationError{}
			verr.Add("invalid value: "+fieldErr.Error(), key)
			return nil, verr
		}
	}
	return nil, err
}

func bindTransition(c *gin.Context) (service.TransitionInput, bool) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return service.TransitionInput{}, false
	}
	id, ok := pathID(c)
	if !ok {
		return service.TransitionInput{}, false
	}
	var req noteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return service.TransitionInput{}, false
		}
	}
	return service.TransitionInput{ID: id, Note: req.Note, Principal: principal}, true
}

func bindStatusChange(c *gin.Context) (service.StatusChangeInput, bool) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return service.StatusChangeInput{}, false
	}
	id, ok := pathID(c)
	if !ok {
		return service.StatusChangeInput{}, false
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return service.StatusChangeInput{}, false
	}
	return service.StatusChangeInput{
		ID:        id,
		Status:    strings.ToUpper(strings.TrimSpace(req.Status)),
		Note:      req.Note,
		Principal: principal,
	}, true
}

func principalOrAbort(c *gin.Context) (model.Principal, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
	}
	return principal, ok
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrValidation), errors.Is(err, workflow.ErrAllocationMismatch):
		issues := workflow.IssuesOf(err)
		if len(issues) == 0 {
			issues = []workflow.Issue{{Path: []string{}, Message: err.Error()}}
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"issues": issues})
	case errors.Is(err, workflow.ErrMissingExchangeRate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"issues": []workflow.Issue{
			{Path: []string{"exchangeRateOverride"}, Message: err.Error()},
		}})
	case errors.Is(err, workflow.ErrGuardViolation):
		c.JSON(http.StatusConflict, gin.H{"code": "GUARD_VIOLATION", "error": err.Error()})
	case errors.Is(err, service.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"code": "CONCURRENT_MODIFICATION", "error": err.Error()})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
