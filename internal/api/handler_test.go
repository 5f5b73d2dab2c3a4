package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-boxoffice/internal/analytics"
	"ms-boxoffice/internal/api"
	"ms-boxoffice/internal/auth"
	"ms-boxoffice/internal/availability"
	"ms-boxoffice/internal/catalog"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/events"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/order"
	"ms-boxoffice/internal/order/memstore"
	"ms-boxoffice/internal/payment"
	"ms-boxoffice/internal/payment/gateway"
	"ms-boxoffice/internal/pricing"
	"ms-boxoffice/internal/seatguard"
	"ms-boxoffice/internal/seatlock"
	"ms-boxoffice/internal/sse"
	"ms-boxoffice/internal/tickets"
)

const jwtSecret = "api-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Seats   []string        `json:"seats"`
}

type testServer struct {
	router   http.Handler
	verifier *auth.HMACVerifier
	clock    *clock.Fake
	seats    *sse.SeatEventEmitter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()
	cat := catalog.NewMemory()
	cat.PutRoom(models.Room{ID: "room-1", Rows: []models.SeatRow{
		{Label: "A", Seats: []models.Seat{{Number: 1}, {Number: 2}, {Number: 3}}},
	}})
	cat.PutShowtime(models.Showtime{ID: "show-1", RoomID: "room-1", MovieID: "movie-1"})

	clk := clock.NewFake(time.Date(2026, 10, 21, 18, 0, 0, 0, time.UTC))
	store := memstore.New()
	lockStore := seatlock.NewMemory()
	guard := seatguard.New()
	gw := gateway.NewMock("http://localhost:8084")
	seatEvents := sse.NewSeatEventEmitter()
	emitter := events.NewEmitter(events.Noop{}, events.Topics{}, clk, log)
	emitter.OnSeats(seatEvents.Emit)

	orders := &order.Service{
		Store:    store,
		Locks:    lockStore,
		Guard:    guard,
		Catalog:  cat,
		Pricing:  pricing.NewEngine(cat, pricing.Config{ServiceFeeRate: 0.05, DefaultPrices: map[models.SeatType]int64{models.SeatStandard: 5000}}),
		Gateway:  gw,
		Events:   emitter,
		Clock:    clk,
		OrderTTL: 15 * time.Minute,
		Currency: "clp",
		Logger:   log,
	}
	locks := &seatlock.Service{
		Store: lockStore, Guard: guard, Occupancy: store, Layout: cat,
		Clock: clk, TTL: 15 * time.Minute, Notifier: emitter, Logger: log,
	}
	issuer, err := tickets.NewIssuer("door-secret")
	require.NoError(t, err)
	h := api.NewHandler(api.Handler{
		Orders:       orders,
		Locks:        locks,
		Availability: &availability.Calculator{Layout: cat, Occupancy: store, Locks: lockStore, Clock: clk, Logger: log},
		Payments:     &payment.Handler{Payments: store, Orders: orders, Gateway: gw, Logger: log},
		SeatEvents:   seatEvents,
		Tickets:      issuer,
		Sales:        &analytics.Service{Source: store},
		MockGateway:  gw,
		Logger:       log,
	})
	verifier := auth.NewHMACVerifier(jwtSecret)
	return &testServer{
		router:   h.Router(auth.Middleware(verifier, false, log)),
		verifier: verifier,
		clock:    clk,
		seats:    seatEvents,
	}
}

type call struct {
	method string
	path   string
	body   any
	holder string
	token  string
}

func (s *testServer) do(t *testing.T, c call) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.holder != "" {
		req.Header.Set(auth.HolderHeader, c.holder)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) token(t *testing.T, user string, role models.Role) string {
	t.Helper()
	tok, err := s.verifier.Sign(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func lockBody(seats ...int) map[string]any {
	refs := make([]map[string]any, 0, len(seats))
	for _, n := range seats {
		refs = append(refs, map[string]any{"row": "A", "seatNumber": n})
	}
	return map[string]any{"showtimeId": "show-1", "seats": refs}
}

func ticketBody(seats ...int) map[string]any {
	items := make([]map[string]any, 0, len(seats))
	for _, n := range seats {
		items = append(items, map[string]any{"kind": "TICKET", "showtimeId": "show-1", "row": "A", "seatNumber": n})
	}
	return map[string]any{"items": items}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestSeatLockConflictNamesSeats(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(1, 2), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code)
	var res seatlock.AcquireResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "holder-a", res.HolderID)
	assert.Len(t, res.Locks, 2)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(2, 3), holder: "holder-b"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SEAT_CONFLICT", env.Code)
	assert.Equal(t, []string{"A-2"}, env.Seats)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/show-1/seats"})
	require.Equal(t, http.StatusOK, code)
	var view availability.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, availability.Counts{Available: 1, Locked: 2}, view.Counts)

	code, env = s.do(t, call{method: http.MethodDelete, path: "/api/seat-locks", body: map[string]any{"showtimeId": "show-1"}, holder: "holder-a"})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"released":2}`, string(env.Data))
}

func TestSeatLockMintsHolder(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(1)})
	require.Equal(t, http.StatusCreated, code)
	var res seatlock.AcquireResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.HolderID)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: map[string]any{"showtimeId": "show-1", "seats": []any{}}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: map[string]any{"showtimeId": "show-1", "bogus": true}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: map[string]any{"items": []any{}}, holder: "holder-a"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "EMPTY_CART", env.Code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: ticketBody(1), holder: "holder-a"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SEAT_CONFLICT", env.Code)
	assert.Equal(t, []string{"A-1"}, env.Seats)
}

func TestAnonymousOrderOwnership(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(1), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code)

	code, env := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: ticketBody(1), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var o models.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, int64(5250), o.Total)
	require.NotNil(t, o.Payment)
	assert.True(t, strings.HasPrefix(o.Payment.Artifact, "data:image/png;base64,"))
	assert.Equal(t, "holder-a", o.Holder)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID, holder: "holder-a"})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID, holder: "holder-b"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + o.ID + "/cancel", holder: "holder-a"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, models.OrderCancelled, o.Status)
}

func TestHolderHeaderCannotActAsUser(t *testing.T) {
	s := newTestServer(t)
	customer := s.token(t, "user-1", models.RoleCustomer)

	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(2, 3), token: customer})
	require.Equal(t, http.StatusCreated, code)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: ticketBody(2), token: customer})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var o models.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Empty(t, o.Holder)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID, holder: "user-1"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID + "?holderId=user-1"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID + "/tickets", holder: "user-1"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + o.ID + "/cancel", holder: "user-1"})
	assert.Equal(t, http.StatusForbidden, code)

	release := map[string]any{"showtimeId": "show-1", "holderId": "user-1"}
	code, env = s.do(t, call{method: http.MethodDelete, path: "/api/seat-locks", body: release, holder: "user-1"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var released map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &released))
	assert.Equal(t, 0, released["released"], "the user's lock on A-3 stays")

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID, token: customer})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &o))
	assert.Equal(t, models.OrderPending, o.Status)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/show-1/seats"})
	require.Equal(t, http.StatusOK, code)
	var view availability.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.SeatLocked, view.Rows[0].Seats[2].Status)
}

func TestMockGatewayPaysOrder(t *testing.T) {
	s := newTestServer(t)
	customer := s.token(t, "user-1", models.RoleCustomer)
	cashier := s.token(t, "staff-1", models.RoleCashier)

	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(2), token: customer})
	require.Equal(t, http.StatusCreated, code)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: ticketBody(2), token: customer})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var o models.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))
	ref := o.Payment.Reference

	approve := map[string]any{"status": "approved"}
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/mock-gateway/" + ref, body: approve})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/mock-gateway/" + ref, body: approve, token: customer})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/mock-gateway/" + ref, body: approve, token: cashier})
	require.Equal(t, http.StatusOK, code, env.Message)
	var p models.Payment
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, models.PaymentApproved, p.Status)

	// a replayed notification changes nothing
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/payment-events", body: map[string]any{"reference": ref}})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/mine", token: customer})
	require.Equal(t, http.StatusOK, code)
	var mine []models.Order
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, models.OrderPaid, mine[0].Status)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/show-1/seats"})
	require.Equal(t, http.StatusOK, code)
	var view availability.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.SeatOccupied, view.Rows[0].Seats[1].Status)
}

func TestOrdersMineRequiresUser(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodGet, path: "/api/orders/mine", holder: "holder-a"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestPaymentEventUnknownReference(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/payment-events", body: map[string]any{"reference": "nope"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "PAYMENT_NOT_FOUND", env.Code)
}

func TestStripeWebhookWithoutSecret(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/payment-events/stripe", body: map[string]any{"type": "payment_intent.succeeded"}})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
}

func TestStreamSeats(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/showtimes/show-1/seats/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream;charset=UTF-8", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "event: connected", lines.Text())
	require.Eventually(t, func() bool { return s.seats.ClientCount("show-1") == 1 }, time.Second, 10*time.Millisecond)

	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(3), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code)

	var data string
	for lines.Scan() {
		if strings.HasPrefix(lines.Text(), "data: ") && lines.Text() != "" {
			data = strings.TrimPrefix(lines.Text(), "data: ")
			if strings.Contains(data, "seats") {
				break
			}
		}
	}
	var ev models.SeatStatusEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "show-1", ev.ShowtimeID)
	assert.Equal(t, []string{"A-3"}, ev.Seats)
	assert.Equal(t, models.SeatLocked, ev.Status)
}

func TestStreamSeatsUnknownShowtime(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, call{method: http.MethodGet, path: "/api/showtimes/ghost/seats/stream"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestTicketsForPaidOrder(t *testing.T) {
	s := newTestServer(t)
	cashier := s.token(t, "staff-1", models.RoleCashier)

	code, _ := s.do(t, call{method: http.MethodPost, path: "/api/seat-locks", body: lockBody(1, 3), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code)
	code, env := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: ticketBody(1, 3), holder: "holder-a"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var o models.Order
	require.NoError(t, json.Unmarshal(env.Data, &o))

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID + "/tickets", holder: "holder-a"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/mock-gateway/" + o.Payment.Reference, body: map[string]any{"status": "approved"}, token: cashier})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID + "/tickets", holder: "holder-b"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + o.ID + "/tickets", holder: "holder-a"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var issued []tickets.Ticket
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	require.Len(t, issued, 2)
	assert.Equal(t, "A-1", issued[0].Seat)

	check := map[string]any{"code": issued[1].Code}
	code, _ = s.do(t, call{method: http.MethodPost, path: "/api/tickets/check", body: check, holder: "holder-a"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/tickets/check", body: check, token: cashier})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.JSONEq(t, `{"orderId":"`+o.ID+`","showtimeId":"show-1","seat":"A-3","valid":true}`, string(env.Data))

	code, env = s.do(t, call{method: http.MethodPost, path: "/api/tickets/check", body: map[string]any{"code": "forged"}, token: cashier})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/show-1/sales", token: s.token(t, "user-1", models.RoleCustomer)})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/show-1/sales", token: cashier})
	require.Equal(t, http.StatusOK, code, env.Message)
	var sales analytics.ShowtimeSales
	require.NoError(t, json.Unmarshal(env.Data, &sales))
	assert.Equal(t, 1, sales.Orders)
	assert.Equal(t, 2, sales.TicketsSold)
	assert.Equal(t, o.Total, sales.Revenue)

	code, _ = s.do(t, call{method: http.MethodGet, path: "/api/showtimes/ghost/sales", token: cashier})
	assert.Equal(t, http.StatusNotFound, code)
}
