package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	"go.uber.org/zap"
)

type stubInvoiceService struct {
	invoice invoicedomain.Invoice
	err     error
}

func (s *stubInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	return invoicedomain.ListInvoiceResponse{}, nil
}

func (s *stubInvoiceService) GetByUlid(ctx context.Context, ulid string) (invoicedomain.Invoice, error) {
	return s.invoice, s.err
}

// A provider retrying an unknown invoice ulid must get the same ack as one
// retrying an already-settled invoice, so redelivery stops either way.
func TestSettleInvoice_UnknownUlidAcksLikeSettled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := &Server{
		log:        zap.NewNop(),
		invoiceSvc: &stubInvoiceService{err: invoicedomain.ErrInvoiceNotFound},
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/invoices/01UNKNOWN/payments", nil)
	c.Params = gin.Params{{Key: "ulid", Value: "01UNKNOWN"}}

	s.SettleInvoice(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already_settled") {
		t.Errorf("body = %s, want an already_settled ack", w.Body.String())
	}
}
