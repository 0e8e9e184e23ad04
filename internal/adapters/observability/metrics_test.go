package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tourbook/internal/adapters/observability"
)

func TestMetricsRegistryAndHandler(t *testing.T) {
	reg := observability.InitRegistry()

	// record one sample per family so they show up in the output
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveBooking("created")
	observability.ObservePaymentEvent("payment_intent.succeeded", "created")
	observability.ObserveTicket("redeemed")
	observability.ObserveGeo("updated", 2)

	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, name := range []string{
		"tourbook_http_requests_total",
		"tourbook_booking_transitions_total",
		"tourbook_payment_events_total",
		"tourbook_ticket_validations_total",
		"tourbook_geo_assignments_total",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}

func TestObserveGeo_IgnoresZero(t *testing.T) {
	// must not panic or create a sample for n <= 0
	observability.ObserveGeo("skipped", 0)
	observability.ObserveGeo("skipped", -1)
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := observability.SetupTracing(context.Background(), "", "tourbook-test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if id := observability.TraceID(context.Background()); id != "" {
		t.Fatalf("expected no trace id, got %q", id)
	}
}
