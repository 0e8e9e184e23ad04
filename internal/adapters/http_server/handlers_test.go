package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	httpserver "tourbook/internal/adapters/http_server"
	"tourbook/internal/adapters/payments"
	"tourbook/internal/app"
	"tourbook/internal/domain"
	"tourbook/internal/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type testAPI struct {
	h        http.Handler
	store    *memory.Store
	auth     *httpserver.Authenticator
	verifier *payments.Verifier
}

// flakyPayments fails every payment lookup the way a dropped database would.
type flakyPayments struct{ *memory.Store }

func (flakyPayments) GetPaymentByIntent(ctx context.Context, id string) (domain.Payment, error) {
	return domain.Payment{}, domain.External("get payment", errors.New("connection refused"))
}

func newTestAPI(t *testing.T, opts ...func(*httpserver.Handlers, *memory.Store)) *testAPI {
	t.Helper()
	return newTestAPIWith(t, nil, opts...)
}

func newTestAPIWith(t *testing.T, srvOpts []httpserver.Option, opts ...func(*httpserver.Handlers, *memory.Store)) *testAPI {
	t.Helper()
	s := memory.New()
	s.PutTour(domain.Tour{ID: "tour-1", Title: "Caldera sunset", Price: 100, ChildPrice: 50, PromotionPercentage: 20, HasPromotion: true, Published: true})
	s.PutMeetingPoint(domain.MeetingPoint{ID: "mp-1", Name: "Fira bus station", Region: domain.RegionCentral, Lat: ptr(36.4166), Lon: ptr(25.4322)})
	s.PutMeetingPoint(domain.MeetingPoint{ID: "mp-2", Name: "Kamari beach", Region: domain.RegionCentral, GoogleMapsURL: "https://www.google.com/maps/@36.3700,25.4800,15z"})
	s.PutHotel(domain.Hotel{ID: "hotel-1", Name: "Aegean View", Region: domain.RegionCentral, Lat: ptr(36.42), Lon: ptr(25.43)})

	clock := func() time.Time { return testNow }
	nop := zerolog.Nop()
	auth := httpserver.NewAuthenticator("jwt-test-secret")
	verifier := payments.NewVerifier("whsec_test", 5*time.Minute).WithClock(clock)

	h := &httpserver.Handlers{
		Bookings: app.NewBookingLifecycleManager(app.BookingManagerDeps{
			Tours: s, Hotels: s, MeetingPoints: s, Bookings: s, Now: clock,
		}, nop),
		Payments: app.NewPaymentReconciler(app.PaymentReconcilerDeps{
			Tours: s, Hotels: s, MeetingPoints: s, Bookings: s, Payments: s, Now: clock,
		}, nop),
		Tickets:       app.NewTicketValidationService(s, clock, nop),
		Geo:           app.NewGeoAssignmentEngine(s, s, 2, nop),
		MeetingPoints: s,
		Webhooks:      verifier,
		Auth:          auth,
	}
	for _, o := range opts {
		o(h, s)
	}
	srv := httpserver.New(srvOpts...)
	srv.MountHandlers(h)
	return &testAPI{h: srv.Mux(), store: s, auth: auth, verifier: verifier}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return a.doFrom(t, "", method, path, body, header)
}

// doFrom sends the request from remoteAddr; empty keeps httptest's default.
func (a *testAPI) doFrom(t *testing.T, remoteAddr, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) bearer(t *testing.T, role string) http.Header {
	t.Helper()
	tok, err := a.auth.Issue("staff-1", role, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func (a *testAPI) putBooking(t *testing.T, id string, date time.Time) {
	t.Helper()
	err := a.store.CreateBooking(context.Background(), domain.Booking{
		ID: id, TourID: "tour-1", Date: date, Adults: 1, TotalPrice: 80, AmountDue: 80,
		MeetingPointID: "mp-1", Status: domain.BookingConfirmed, TicketStatus: domain.TicketValid,
		Customer: domain.Customer{Name: "Ana", Email: "ana@example.com"}, PaymentType: domain.PaymentFull,
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type problemBody struct {
	Status    int                 `json:"status"`
	ErrorKind string              `json:"errorKind"`
	Errors    map[string][]string `json:"errors"`
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateAndVerifyBooking(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/v1/bookings", map[string]any{
		"tourId": "tour-1", "userId": "user-1", "date": "2026-06-10",
		"adults": 2, "children": 1, "meetingPointId": "mp-1", "paymentType": "full",
		"customer":   map[string]string{"name": "Ana Silva", "email": "Ana@Example.com"},
		"totalPrice": 1,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["bookingId"]
	if id == "" {
		t.Fatalf("no booking id in %s", rec.Body.String())
	}

	rec = api.do(t, http.MethodPost, "/v1/bookings/verify", map[string]string{"bookingId": id, "email": " ana@example.COM "}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}
	b := decode[domain.Booking](t, rec)
	if b.ID != id || b.TotalPrice != 200 || b.Status != domain.BookingPending {
		t.Fatalf("booking: %+v", b)
	}

	wrongEmail := api.do(t, http.MethodPost, "/v1/bookings/verify", map[string]string{"bookingId": id, "email": "eve@example.com"}, nil)
	unknownID := api.do(t, http.MethodPost, "/v1/bookings/verify", map[string]string{"bookingId": "nope", "email": "ana@example.com"}, nil)
	if wrongEmail.Code != http.StatusNotFound || unknownID.Code != http.StatusNotFound {
		t.Fatalf("verify misses: %d %d", wrongEmail.Code, unknownID.Code)
	}
	if wrongEmail.Body.String() != unknownID.Body.String() {
		t.Fatalf("responses differ:\n%s\n%s", wrongEmail.Body.String(), unknownID.Body.String())
	}
}

func TestCreateBooking_ValidationProblem(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/v1/bookings", map[string]any{"tourId": "tour-1", "adults": 0}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: %s", ct)
	}
	p := decode[problemBody](t, rec)
	if p.ErrorKind != domain.KindValidation || len(p.Errors) == 0 {
		t.Fatalf("problem: %+v", p)
	}

	rec = api.do(t, http.MethodPost, "/v1/bookings", "{not json", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: %d", rec.Code)
	}
}

func TestCancelBooking(t *testing.T) {
	api := newTestAPI(t)
	api.putBooking(t, "b-far", testNow.Add(48*time.Hour))
	api.putBooking(t, "b-near", testNow.Add(23*time.Hour))

	rec := api.do(t, http.MethodPost, "/v1/bookings/b-far/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]string](t, rec)
	if got["bookingId"] != "b-far" || got["status"] != "cancelled" || got["ticketStatus"] != "expired" {
		t.Fatalf("body: %v", got)
	}

	cases := []struct {
		path   string
		status int
		kind   string
	}{
		{"/v1/bookings/b-far/cancel", http.StatusConflict, domain.KindAlreadyCancelled},
		{"/v1/bookings/b-near/cancel", http.StatusUnprocessableEntity, domain.KindDeadlineExceeded},
		{"/v1/bookings/missing/cancel", http.StatusNotFound, domain.KindNotFound},
	}
	for _, c := range cases {
		rec := api.do(t, http.MethodPost, c.path, nil, nil)
		if rec.Code != c.status {
			t.Fatalf("%s: status %d", c.path, rec.Code)
		}
		if p := decode[problemBody](t, rec); p.ErrorKind != c.kind {
			t.Fatalf("%s: kind %q", c.path, p.ErrorKind)
		}
	}
}

func TestValidateTicket(t *testing.T) {
	api := newTestAPI(t)
	api.putBooking(t, "b-1", testNow.Add(72*time.Hour))
	body := map[string]string{"bookingId": "b-1"}

	if rec := api.do(t, http.MethodPost, "/v1/tickets/validate", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	bad := http.Header{"Authorization": {"Bearer not-a-jwt"}}
	if rec := api.do(t, http.MethodPost, "/v1/tickets/validate", body, bad); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPost, "/v1/tickets/validate", body, api.bearer(t, "customer")); rec.Code != http.StatusForbidden {
		t.Fatalf("customer role: %d", rec.Code)
	}

	guide := api.bearer(t, httpserver.RoleGuide)
	rec := api.do(t, http.MethodPost, "/v1/tickets/validate", body, guide)
	if rec.Code != http.StatusOK {
		t.Fatalf("first scan: %d %s", rec.Code, rec.Body.String())
	}
	if res := decode[map[string]any](t, rec); res["success"] != true {
		t.Fatalf("first scan body: %v", res)
	}

	rec = api.do(t, http.MethodPost, "/v1/tickets/validate", body, guide)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second scan: %d", rec.Code)
	}
	res := decode[map[string]any](t, rec)
	if res["success"] != false || res["errorKind"] != domain.KindAlreadyRedeemed {
		t.Fatalf("second scan body: %v", res)
	}

	rec = api.do(t, http.MethodPost, "/v1/tickets/validate", map[string]string{"bookingId": "ghost"}, api.bearer(t, httpserver.RoleAdmin))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ticket: %d", rec.Code)
	}
}

func webhookBody(eventID, typ, intentID string, amountMinor int) []byte {
	return []byte(`{"id":"` + eventID + `","type":"` + typ + `","data":{"object":{"id":"` + intentID + `",` +
		`"amount_received":` + strconv.Itoa(amountMinor) + `,"currency":"eur","metadata":{"tourId":"tour-1","userId":"user-1",` +
		`"bookingDate":"2026-06-10","adults":"2","children":"1","meetingPointId":"mp-1",` +
		`"customerName":"Ana Silva","customerEmail":"ana@example.com"}}}}`)
}

func (a *testAPI) signed(payload []byte) http.Header {
	return http.Header{payments.SignatureHeader: {a.verifier.Sign(payload, testNow)}}
}

func TestPaymentWebhook(t *testing.T) {
	api := newTestAPI(t)
	payload := webhookBody("evt_1", domain.EventPaymentSucceeded, "pi_1", 20000)

	rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", payload, api.signed(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d %s", rec.Code, rec.Body.String())
	}
	if out := decode[map[string]any](t, rec)["outcome"]; out != string(app.OutcomeCreated) {
		t.Fatalf("outcome: %v", out)
	}

	rec = api.do(t, http.MethodPost, "/v1/webhooks/payments", payload, api.signed(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery: %d", rec.Code)
	}
	if out := decode[map[string]any](t, rec)["outcome"]; out != string(app.OutcomeDuplicate) {
		t.Fatalf("redelivery outcome: %v", out)
	}
	if api.store.CountBookings() != 1 || api.store.CountPayments() != 1 {
		t.Fatalf("counts: %d %d", api.store.CountBookings(), api.store.CountPayments())
	}
}

func TestPaymentWebhook_Rejections(t *testing.T) {
	api := newTestAPI(t)
	payload := webhookBody("evt_2", domain.EventPaymentSucceeded, "pi_2", 20000)

	tampered := bytes.Replace(payload, []byte("20000"), []byte("1"), 1)
	if rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", tampered, api.signed(payload)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered: %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", payload, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: %d", rec.Code)
	}

	garbage := []byte(`{"type":`)
	if rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", garbage, api.signed(garbage)); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed: %d", rec.Code)
	}

	noIntent := []byte(`{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{}}}`)
	rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", noIntent, api.signed(noIntent))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing intent: %d", rec.Code)
	}
	if p := decode[problemBody](t, rec); p.ErrorKind != domain.KindValidation {
		t.Fatalf("kind: %q", p.ErrorKind)
	}
	if api.store.CountBookings() != 0 {
		t.Fatalf("rejected events must not write")
	}
}

func TestPaymentWebhook_IgnoredType(t *testing.T) {
	api := newTestAPI(t)
	payload := webhookBody("evt_4", "charge.refunded", "pi_4", 100)
	rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", payload, api.signed(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if out := decode[map[string]any](t, rec)["outcome"]; out != string(app.OutcomeIgnored) {
		t.Fatalf("outcome: %v", out)
	}
}

func TestPaymentWebhook_StoreDownAsksForRetry(t *testing.T) {
	api := newTestAPI(t, func(h *httpserver.Handlers, s *memory.Store) {
		h.Payments = app.NewPaymentReconciler(app.PaymentReconcilerDeps{
			Tours: s, Hotels: s, MeetingPoints: s, Bookings: s, Payments: flakyPayments{s},
			Now: func() time.Time { return testNow },
		}, zerolog.Nop())
	})
	payload := webhookBody("evt_5", domain.EventPaymentSucceeded, "pi_5", 20000)
	rec := api.do(t, http.MethodPost, "/v1/webhooks/payments", payload, api.signed(payload))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("driver detail leaked: %s", rec.Body.String())
	}
}

func TestVerifyBooking_RateLimited(t *testing.T) {
	api := newTestAPI(t, func(h *httpserver.Handlers, _ *memory.Store) {
		h.VerifyLimit = httpserver.NewIPRateLimiter(0.001, 2)
	})
	body := map[string]string{"bookingId": "x", "email": "a@b.c"}
	for i := 0; i < 2; i++ {
		if rec := api.do(t, http.MethodPost, "/v1/bookings/verify", body, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := api.do(t, http.MethodPost, "/v1/bookings/verify", body, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("third request: %d retry=%q", rec.Code, rec.Header().Get("Retry-After"))
	}

	// forged forwarding headers do not buy a fresh bucket
	for _, xff := range []string{"203.0.113.7", "198.51.100.1, 10.0.0.1"} {
		hdr := http.Header{"X-Forwarded-For": {xff}, "X-Real-IP": {xff}}
		if rec := api.do(t, http.MethodPost, "/v1/bookings/verify", body, hdr); rec.Code != http.StatusTooManyRequests {
			t.Fatalf("rotated X-Forwarded-For %q: %d", xff, rec.Code)
		}
	}

	if rec := api.doFrom(t, "203.0.113.7:5555", http.MethodPost, "/v1/bookings/verify", body, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("other client: %d", rec.Code)
	}
}

func TestVerifyBooking_RateLimitedBehindTrustedProxy(t *testing.T) {
	api := newTestAPIWith(t, []httpserver.Option{httpserver.TrustProxyHeaders(true)}, func(h *httpserver.Handlers, _ *memory.Store) {
		h.VerifyLimit = httpserver.NewIPRateLimiter(0.001, 1)
	})
	body := map[string]string{"bookingId": "x", "email": "a@b.c"}
	const proxy = "10.0.0.2:443"
	alice := http.Header{"X-Forwarded-For": {"198.51.100.10"}}
	bob := http.Header{"X-Forwarded-For": {"198.51.100.20"}}

	if rec := api.doFrom(t, proxy, http.MethodPost, "/v1/bookings/verify", body, alice); rec.Code != http.StatusNotFound {
		t.Fatalf("alice first: %d", rec.Code)
	}
	if rec := api.doFrom(t, proxy, http.MethodPost, "/v1/bookings/verify", body, alice); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("alice second: %d", rec.Code)
	}
	// the proxy's own address is shared, the forwarded client is not
	if rec := api.doFrom(t, proxy, http.MethodPost, "/v1/bookings/verify", body, bob); rec.Code != http.StatusNotFound {
		t.Fatalf("bob first: %d", rec.Code)
	}
}

func TestAdminMeetingPoints(t *testing.T) {
	api := newTestAPI(t)

	if rec := api.do(t, http.MethodPost, "/v1/admin/meeting-points/assign", nil, api.bearer(t, httpserver.RoleGuide)); rec.Code != http.StatusForbidden {
		t.Fatalf("guide on admin route: %d", rec.Code)
	}

	admin := api.bearer(t, httpserver.RoleAdmin)
	rec := api.do(t, http.MethodPost, "/v1/admin/meeting-points/backfill", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("backfill: %d %s", rec.Code, rec.Body.String())
	}
	if bf := decode[app.BackfillResult](t, rec); bf.Updated != 1 {
		t.Fatalf("backfill result: %+v", bf)
	}

	rec = api.do(t, http.MethodPost, "/v1/admin/meeting-points/assign", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	res := decode[map[string]any](t, rec)
	if res["updatedCount"] != float64(1) {
		t.Fatalf("assign result: %v", res)
	}
	h, _ := api.store.GetHotel(context.Background(), "hotel-1")
	if h.AssignedMeetingPointID == nil || *h.AssignedMeetingPointID != "mp-1" {
		t.Fatalf("hotel not assigned to nearest point: %v", h.AssignedMeetingPointID)
	}
}
