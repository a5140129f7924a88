package billing

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/billing/internal/platform/auth"
	"github.com/ehr/billing/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing, cashier
	readGroup := api.Group("", auth.RequireRole("admin", "billing", "cashier"))
	readGroup.GET("/invoices", h.ListInvoices)
	readGroup.GET("/invoices/:id", h.GetInvoice)
	readGroup.GET("/invoices/:id/balance", h.GetBalance)
	readGroup.GET("/payments", h.ListPayments)
	readGroup.GET("/billing/stats", h.GetStats)
	readGroup.POST("/billing/quote", h.Quote)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole("admin", "billing"))
	writeGroup.POST("/invoices", h.CreateInvoice)
	writeGroup.PUT("/invoices/:id/items", h.UpdateInvoiceItems)
	writeGroup.PATCH("/invoices/:id", h.UpdateInvoiceDetails)
	writeGroup.POST("/invoices/:id/cancel", h.CancelInvoice)

	// Payments – admin, billing, cashier
	payGroup := api.Group("", auth.RequireRole("admin", "billing", "cashier"))
	payGroup.POST("/invoices/:id/payments", h.RecordPayment)
}

// httpError maps ledger errors onto HTTP status codes.
func httpError(err error) error {
	var over *OverpaymentError
	switch {
	case errors.As(err, &over):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message":           err.Error(),
			"remaining_balance": over.Remaining.StringFixed(MinorUnits),
		})
	case errors.Is(err, ErrOverpaymentRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, ErrPaymentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvoiceNotEditable), errors.Is(err, ErrInvoiceHasPayments),
		errors.Is(err, ErrInvoiceCancelled), errors.Is(err, ErrDuplicateInvoiceNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInvoiceItem),
		errors.Is(err, ErrDiscountExceedsTotal), errors.Is(err, ErrReferenceRequired),
		errors.Is(err, ErrInvalidPaymentMethod), errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidInvoice), errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func optionalDate(c echo.Context, name string, loc *time.Location) (*time.Time, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return nil, nil
	}
	t, err := parseDate(v, loc)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &t, nil
}

// -- Invoice Handlers --

type createInvoiceRequest struct {
	InvoiceNumber  string          `json:"invoice_number"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Date           string          `json:"date"`
	DueDate        string          `json:"due_date"`
	Items          []InvoiceItem   `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Notes          *string         `json:"notes"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	loc := h.svc.Location()
	draft := InvoiceDraft{
		InvoiceNumber:  req.InvoiceNumber,
		PatientID:      req.PatientID,
		Items:          req.Items,
		DiscountAmount: req.DiscountAmount,
		Notes:          req.Notes,
	}
	if req.Date != "" {
		d, err := parseDate(req.Date, loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date")
		}
		draft.Date = &d
	}
	if req.DueDate != "" {
		d, err := parseDate(req.DueDate, loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid due_date")
		}
		draft.DueDate = d
	}

	inv, err := h.svc.CreateInvoice(c.Request().Context(), draft)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	loc := h.svc.Location()

	f := InvoiceFilter{Search: c.QueryParam("search")}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseInvoiceStatus(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = &st
	}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	var err error
	if f.From, err = optionalDate(c, "from", loc); err != nil {
		return err
	}
	if f.To, err = optionalDate(c, "to", loc); err != nil {
		return err
	}

	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type updateItemsRequest struct {
	Items          []InvoiceItem   `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

func (h *Handler) UpdateInvoiceItems(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.UpdateInvoiceItems(c.Request().Context(), id, req.Items, req.DiscountAmount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type updateDetailsRequest struct {
	DueDate *string `json:"due_date"`
	Notes   *string `json:"notes"`
}

func (h *Handler) UpdateInvoiceDetails(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateDetailsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := InvoiceDetails{Notes: req.Notes}
	if req.DueDate != nil {
		due, err := parseDate(*req.DueDate, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid due_date")
		}
		d.DueDate = &due
	}
	inv, err := h.svc.UpdateInvoiceDetails(c.Request().Context(), id, d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetBalance(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	remaining, err := h.svc.RemainingBalance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"invoice_id":        id,
		"remaining_balance": remaining.StringFixed(MinorUnits),
	})
}

func (h *Handler) Quote(c echo.Context) error {
	var req updateItemsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q, err := h.svc.QuoteInvoice(req.Items, req.DiscountAmount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, q)
}

// -- Payment Handlers --

type recordPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	ReferenceNumber *string         `json:"reference_number"`
	PaymentDate     *time.Time      `json:"payment_date"`
	Notes           *string         `json:"notes"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pr := PaymentRequest{
		Amount:          req.Amount,
		PaymentMethod:   PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		ReferenceNumber: req.ReferenceNumber,
		PaymentDate:     req.PaymentDate,
		Notes:           req.Notes,
	}
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		pr.RecordedBy = &uid
	}

	payment, inv, err := h.svc.RecordPayment(c.Request().Context(), id, pr)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"payment":           payment,
		"invoice_status":    inv.Status,
		"remaining_balance": inv.TotalAmount.Sub(inv.PaidAmount).StringFixed(MinorUnits),
	})
}

func (h *Handler) ListPayments(c echo.Context) error {
	pg := pagination.FromContext(c)
	loc := h.svc.Location()

	var f PaymentFilter
	if v := c.QueryParam("invoice_id"); v != "" {
		iid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice_id")
		}
		f.InvoiceID = &iid
	}
	if v := c.QueryParam("method"); v != "" {
		m := PaymentMethod(strings.ToUpper(v))
		if !m.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid method")
		}
		f.Method = &m
	}
	if v := c.QueryParam("status"); v != "" {
		st := PaymentStatus(strings.ToUpper(v))
		f.Status = &st
	}
	var err error
	if f.From, err = optionalDate(c, "from", loc); err != nil {
		return err
	}
	if f.To, err = optionalDate(c, "to", loc); err != nil {
		return err
	}

	items, total, err := h.svc.ListPayments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Statistics --

func (h *Handler) GetStats(c echo.Context) error {
	asOf := h.svc.clock()
	if v := c.QueryParam("as_of"); v != "" {
		t, err := parseDate(v, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid as_of")
		}
		asOf = t
	}
	stats, err := h.svc.Stats(c.Request().Context(), asOf)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
