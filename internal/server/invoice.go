package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	"github.com/netvora/billing/internal/providers/pdf"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		PageToken string `form:"page_token"`
		PageSize  int    `form:"page_size"`
		Status    string `form:"status"`
		UserID    string `form:"user_id"`
		DueFrom   string `form:"due_from"`
		DueTo     string `form:"due_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := invoicedomain.ListInvoiceRequest{
		Status:    strings.TrimSpace(query.Status),
		UserID:    strings.TrimSpace(query.UserID),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	}
	if query.DueFrom != "" {
		t, err := time.Parse("2006-01-02", query.DueFrom)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.DueFrom = &t
	}
	if query.DueTo != "" {
		t, err := time.Parse("2006-01-02", query.DueTo)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.DueTo = &t
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoices := make([]gin.H, 0, len(resp.Invoices))
	for _, inv := range resp.Invoices {
		invoices = append(invoices, toInvoiceResponse(inv))
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices, "page_info": resp.PageInfo})
}

// SettleInvoice is the payment-success webhook target. Settlement is
// idempotent: a retry after the invoice already moved to PAID gets a 200 so
// the provider stops redelivering.
func (s *Server) SettleInvoice(c *gin.Context) {
	invoiceUlid := strings.TrimSpace(c.Param("ulid"))
	if invoiceUlid == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.GetByUlid(c.Request.Context(), invoiceUlid)
	if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
		// Unknown and already-settled look identical to a retrying
		// provider; both get the ack that stops redelivery.
		c.JSON(http.StatusOK, gin.H{"status": "already_settled", "invoice_ulid": invoiceUlid})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	err = s.paymentSvc.HandleSuccessfulPayment(c.Request.Context(), invoice.ID)
	if errors.Is(err, invoicedomain.ErrAlreadySettledOrNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "already_settled", "invoice_ulid": invoiceUlid})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "paid", "invoice_ulid": invoiceUlid})
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	invoiceUlid := strings.TrimSpace(c.Param("ulid"))
	if invoiceUlid == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.GetByUlid(c.Request.Context(), invoiceUlid)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]pdf.InvoiceItem, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		items = append(items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   pdf.FormatAmount(item.Price),
			Amount:      pdf.FormatAmount(item.Price * int64(item.Quantity)),
		})
	}

	doc, err := s.pdf.RenderInvoice(c.Request.Context(), pdf.InvoiceData{
		CompanyName:    s.cfg.AppName,
		CompanyAddress: "",
		CompanyEmail:   "",
		InvoiceUlid:    invoice.Ulid,
		Status:         string(invoice.Status),
		IssueDate:      invoice.CreatedAt.Format("2006-01-02"),
		DueDate:        invoice.DueDate.Format("2006-01-02"),
		CustomerID:     invoice.UserID.String(),
		Items:          items,
		Total:          pdf.FormatAmount(invoice.TotalAmount),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoice-`+invoiceUlid+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}

func toInvoiceResponse(inv invoicedomain.Invoice) gin.H {
	return gin.H{
		"id":           inv.ID.String(),
		"ulid":         inv.Ulid,
		"user_id":      inv.UserID.String(),
		"total_amount": inv.TotalAmount,
		"status":       inv.Status,
		"due_date":     inv.DueDate.Format("2006-01-02"),
		"created_at":   inv.CreatedAt,
	}
}
