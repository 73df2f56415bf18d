package server

import (
	"fmt"
	"net/http"
	"testing"

	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	invoicedomain "github.com/netvora/billing/internal/invoice/domain"
	subscriptiondomain "github.com/netvora/billing/internal/subscription/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantType   string
	}{
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{subscriptiondomain.ErrInvalidMonths, http.StatusBadRequest, "invalid_request"},
		{invoicedomain.ErrInvalidStatus, http.StatusBadRequest, "invalid_request"},
		{subscriptiondomain.ErrSubscriptionNotFound, http.StatusNotFound, "not_found"},
		{invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found"},
		{catalogdomain.ErrServiceNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("wrapped: %w", invoicedomain.ErrInvoiceNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("db exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		if status != tc.wantStatus || payload.Type != tc.wantType {
			t.Errorf("mapError(%v) = %d/%s, want %d/%s", tc.err, status, payload.Type, tc.wantStatus, tc.wantType)
		}
	}
}

func TestMapError_Eligibility(t *testing.T) {
	err := catalogdomain.NotEligible("subnet is already leased")

	status, payload := mapError(err)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", status)
	}
	if payload.Type != "not_eligible" {
		t.Errorf("type = %q, want not_eligible", payload.Type)
	}
	if payload.Message != "subnet is already leased" {
		t.Errorf("message = %q, want the service's verbatim reason", payload.Message)
	}
}
