package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/catalog"
	"ms-boxoffice/internal/clock"
	"ms-boxoffice/internal/logger"
	"ms-boxoffice/internal/models"
	"ms-boxoffice/internal/payment/gateway"
	"ms-boxoffice/internal/pricing"
	"ms-boxoffice/internal/seatguard"
	"ms-boxoffice/internal/seatlock"
)

type Service struct {
	Store    Store
	Locks    seatlock.Store
	Guard    *seatguard.Guard
	Catalog  catalog.Provider
	Pricing  *pricing.Engine
	Gateway  gateway.Gateway
	Events   Events
	Clock    clock.Clock
	OrderTTL time.Duration
	Currency string
	Logger   *logger.Logger
}

type CreateRequest struct {
	Requester models.Requester
	Channel   models.Channel
	Items     []models.LineItem
}

// Create builds a PENDING order from the requester's own seat locks.
//
// Seat checks, pricing, the lock claim and the insert run under the per-seat
// guard. The gateway call runs after the guard is released. If the gateway
// fails the order is cancelled and the locks are handed back untouched so
// the shopper can retry without picking seats again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.EmptyCart, "cart is empty")
	}
	if req.Channel == "" {
		req.Channel = models.ChannelWeb
	}

	keys, err := ticketKeys(req.Items)
	if err != nil {
		return nil, err
	}

	owner := req.Requester.Owner()
	if owner == "" {
		if len(keys) > 0 {
			return nil, apperr.New(apperr.Validation, "a holder id is required to order locked seats")
		}
		// Products only: mint a holder so the shopper can fetch the order later.
		owner = models.AnonymousOwner(uuid.NewString())
	}

	o, err := s.reserve(ctx, req, owner, keys)
	if err != nil {
		return nil, err
	}

	gw, err := s.Gateway.CreatePaymentRequest(ctx, o)
	if err == nil {
		err = s.Store.AttachPaymentRequest(ctx, o.Payment.ID, gw.Reference, gw.ExternalID, gw.Artifact, s.Clock.Now())
	}
	if err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("payment request for order %s failed: %v", o.ID, err))
		s.abandon(ctx, o, keys)
		if apperr.KindOf(err) == apperr.Internal {
			return nil, apperr.Wrap(apperr.GatewayUnavailable, err, "payment gateway could not create a payment request")
		}
		return nil, err
	}

	consumed, err := s.Locks.Consume(ctx, o.ID, keys)
	if err != nil {
		// The order already occupies the seats; leftover locks expire on their own.
		s.Logger.Warn("ORDER", fmt.Sprintf("consume locks for order %s: %v", o.ID, err))
	} else if len(keys) > 0 {
		s.Logger.LogOrder("LOCKS_CONSUMED", o.ID, fmt.Sprintf("%d lock(s) stamped and removed", len(consumed)))
	}

	created, err := s.Store.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "reload order %s", o.ID)
	}

	s.Logger.LogOrder("CREATED", created.ID, fmt.Sprintf("total %d %s, %d item(s), expires %s",
		created.Total, created.Currency, len(created.Items), created.ExpiresAt.Format(time.RFC3339)))
	s.emitCreated(ctx, created)
	s.emitSeats(ctx, keys, models.SeatOccupied, created.ID)
	if created.UserID == "" {
		created.Holder = models.HolderID(created.HolderID)
	}
	return created, nil
}

// reserve validates and persists the order. It returns with the guard released.
func (s *Service) reserve(ctx context.Context, req CreateRequest, owner string, keys []models.SeatKey) (*models.Order, error) {
	unlock := s.Guard.Lock(keys...)
	defer unlock()

	now := s.Clock.Now()
	if err := s.checkSeats(ctx, owner, keys, now); err != nil {
		return nil, err
	}

	quote, err := s.Pricing.Price(ctx, req.Items, pricing.Context{Now: now})
	if err != nil {
		return nil, err
	}

	o := s.newOrder(req, owner, quote, now)

	failed, err := s.Locks.Claim(ctx, owner, o.ID, keys, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "claim seat locks")
	}
	if len(failed) > 0 {
		return nil, apperr.Conflict(labels(failed))
	}

	if err := s.Store.Insert(ctx, o); err != nil {
		_ = s.Locks.Unclaim(ctx, o.ID, keys)
		return nil, apperr.Wrap(apperr.Internal, err, "persist order")
	}
	return o, nil
}

// checkSeats requires every seat to be unsold and actively locked by owner.
func (s *Service) checkSeats(ctx context.Context, owner string, keys []models.SeatKey, now time.Time) error {
	occupied := map[string]map[string]bool{}
	var conflicts, expired []string

	for _, k := range keys {
		sold, ok := occupied[k.ShowtimeID]
		if !ok {
			refs, err := s.Store.OccupiedSeats(ctx, k.ShowtimeID, now)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "load occupied seats")
			}
			sold = make(map[string]bool, len(refs))
			for _, r := range refs {
				sold[r.Label()] = true
			}
			occupied[k.ShowtimeID] = sold
		}
		if sold[k.Label()] {
			conflicts = append(conflicts, k.Label())
			continue
		}

		lock, err := s.Locks.Peek(ctx, k)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "read seat lock")
		}
		switch {
		case lock == nil, lock.HolderID != owner:
			conflicts = append(conflicts, k.Label())
		case !lock.ActiveAt(now):
			expired = append(expired, k.Label())
		case lock.OrderID != "":
			conflicts = append(conflicts, k.Label())
		}
	}

	if len(conflicts) > 0 {
		return apperr.Conflict(conflicts)
	}
	if len(expired) > 0 {
		return apperr.Expired(expired)
	}
	return nil
}

func (s *Service) newOrder(req CreateRequest, owner string, q *pricing.Quote, now time.Time) *models.Order {
	id := uuid.NewString()
	expiresAt := now.Add(s.OrderTTL)

	items := make([]models.OrderItem, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = models.OrderItem{
			OrderID:    id,
			Position:   i,
			Kind:       l.Kind,
			ShowtimeID: l.ShowtimeID,
			Row:        l.Row,
			SeatNumber: l.SeatNumber,
			SeatType:   l.SeatType,
			Zone:       l.Zone,
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			TotalPrice: l.TotalPrice,
			Discount:   l.Discount,
		}
	}

	return &models.Order{
		ID:         id,
		UserID:     req.Requester.UserID,
		HolderID:   owner,
		Status:     models.OrderPending,
		Channel:    req.Channel,
		Currency:   s.Currency,
		Subtotal:   q.Subtotal,
		Discount:   q.Discount,
		ServiceFee: q.ServiceFee,
		Total:      q.Total,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items:      items,
		Payment: &models.Payment{
			ID:        uuid.NewString(),
			OrderID:   id,
			Status:    models.PaymentPending,
			Amount:    q.Total,
			Currency:  s.Currency,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// abandon marks a half-created order CANCELLED and gives its locks back.
func (s *Service) abandon(ctx context.Context, o *models.Order, keys []models.SeatKey) {
	if _, err := s.Store.TransitionOrder(ctx, o.ID, models.OrderPending, models.OrderCancelled, models.PaymentCancelled, s.Clock.Now()); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("mark order %s failed: %v", o.ID, err))
	}
	if err := s.Locks.Unclaim(ctx, o.ID, keys); err != nil {
		s.Logger.Error("ORDER", fmt.Sprintf("return locks of order %s: %v", o.ID, err))
	}
	s.Logger.LogOrder("ABANDONED", o.ID, "seat locks kept for retry")
}

// Get returns the order when the requester owns it or holds an elevated
// role. A PENDING order past its window is expired before it is returned.
func (s *Service) Get(ctx context.Context, orderID string, r models.Requester) (*models.Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canAccess(o, r) {
		s.Logger.LogSecurity("ORDER_ACCESS_DENIED", fmt.Sprintf("order %s requested by %q", orderID, r.Owner()))
		return nil, apperr.New(apperr.Forbidden, "order %s belongs to another customer", orderID)
	}
	return s.refresh(ctx, o)
}

// ListForUser returns the user's orders, most recent first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Unauthorized, "sign in to list orders")
	}
	orders, err := s.Store.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "list orders")
	}
	for i := range orders {
		fresh, err := s.refresh(ctx, &orders[i])
		if err != nil {
			return nil, err
		}
		orders[i] = *fresh
	}
	return orders, nil
}

// Cancel lets the owner, or staff, drop a PENDING order.
func (s *Service) Cancel(ctx context.Context, orderID string, r models.Requester) (*models.Order, error) {
	o, err := s.Get(ctx, orderID, r)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderPending {
		return nil, apperr.New(apperr.Validation, "order %s is already %s", orderID, o.Status)
	}
	changed, err := s.transition(ctx, o, models.OrderCancelled, models.PaymentCancelled)
	if err != nil {
		return nil, err
	}
	if !changed {
		o, err = s.Store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.Validation, "order %s is already %s", orderID, o.Status)
	}
	return s.Store.GetOrder(ctx, orderID)
}

// MarkPaid applies an approved payment. It reports whether this call made
// the transition; replays and late approvals report false.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (bool, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.ExpiredAt(s.Clock.Now()) {
		if _, err := s.transition(ctx, o, models.OrderExpired, models.PaymentCancelled); err != nil {
			return false, err
		}
		s.Logger.Warn("PAYMENT", fmt.Sprintf("approval for order %s arrived after expiry, refund required", orderID))
		return false, nil
	}
	return s.transition(ctx, o, models.OrderPaid, models.PaymentApproved)
}

// MarkCancelled applies a rejected or cancelled payment.
func (s *Service) MarkCancelled(ctx context.Context, orderID string, status models.PaymentStatus) (bool, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return s.transition(ctx, o, models.OrderCancelled, status)
}

// ExpireStale flips every overdue PENDING order. Reads already treat those
// orders as expired; this only keeps storage and events current.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.Store.ListExpirable(ctx, s.Clock.Now(), 500)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		o, err := s.Store.GetOrder(ctx, id)
		if err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("load order %s for expiry: %v", id, err))
			continue
		}
		if !o.ExpiredAt(s.Clock.Now()) {
			continue
		}
		changed, err := s.transition(ctx, o, models.OrderExpired, models.PaymentCancelled)
		if err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("expire order %s: %v", id, err))
			continue
		}
		if changed {
			n++
		}
	}
	return n, nil
}

func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				s.Logger.Error("ORDER", fmt.Sprintf("expiry sweep failed: %v", err))
				continue
			}
			if n > 0 {
				s.Logger.Info("ORDER", fmt.Sprintf("expired %d stale order(s)", n))
			}
		}
	}
}

// refresh expires o in place when its window has passed.
func (s *Service) refresh(ctx context.Context, o *models.Order) (*models.Order, error) {
	if !o.ExpiredAt(s.Clock.Now()) {
		return o, nil
	}
	if _, err := s.transition(ctx, o, models.OrderExpired, models.PaymentCancelled); err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, o.ID)
}

// transition runs the CAS and fires side effects only when it changed the
// order, which keeps replays free of duplicate work.
func (s *Service) transition(ctx context.Context, o *models.Order, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	from := o.Status
	if from != models.OrderPending {
		return false, nil
	}
	changed, err := s.Store.TransitionOrder(ctx, o.ID, from, to, payment, s.Clock.Now())
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "update order %s", o.ID)
	}
	if !changed {
		return false, nil
	}

	o.Status = to
	if o.Payment != nil && payment != "" {
		o.Payment.Status = payment
	}
	s.Logger.LogOrder(string(to), o.ID, fmt.Sprintf("%s -> %s", from, to))

	keys := o.SeatKeys()
	switch to {
	case models.OrderPaid:
		s.decrementStock(ctx, o)
		if len(keys) > 0 {
			if _, err := s.Locks.ReleaseHolder(ctx, o.HolderID, keys); err != nil {
				s.Logger.Warn("ORDER", fmt.Sprintf("release leftover locks of %s: %v", o.ID, err))
			}
		}
	case models.OrderCancelled, models.OrderExpired:
		s.emitSeats(ctx, keys, models.SeatAvailable, o.ID)
	}

	if s.Events != nil {
		s.Events.OrderTransitioned(ctx, o, from)
	}
	return true, nil
}

func (s *Service) decrementStock(ctx context.Context, o *models.Order) {
	for _, it := range o.Items {
		if it.Kind != models.ItemProduct {
			continue
		}
		if err := s.Catalog.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("order %s paid but stock for %s could not be taken: %v", o.ID, it.ProductID, err))
		}
	}
}

func (s *Service) emitCreated(ctx context.Context, o *models.Order) {
	if s.Events != nil {
		s.Events.OrderCreated(ctx, o)
	}
}

func (s *Service) emitSeats(ctx context.Context, keys []models.SeatKey, status models.SeatStatus, orderID string) {
	if s.Events == nil || len(keys) == 0 {
		return
	}
	byShow := map[string][]string{}
	var order []string
	for _, k := range keys {
		if _, ok := byShow[k.ShowtimeID]; !ok {
			order = append(order, k.ShowtimeID)
		}
		byShow[k.ShowtimeID] = append(byShow[k.ShowtimeID], k.Label())
	}
	for _, showtimeID := range order {
		s.Events.SeatsChanged(ctx, models.SeatStatusEvent{
			ShowtimeID: showtimeID,
			Seats:      byShow[showtimeID],
			Status:     status,
			OrderID:    orderID,
			OccurredAt: s.Clock.Now(),
		})
	}
}

func canAccess(o *models.Order, r models.Requester) bool {
	if r.Role.Elevated() {
		return true
	}
	if o.UserID != "" {
		return r.UserID == o.UserID
	}
	if r.UserID != "" {
		return false
	}
	owner := r.Owner()
	return owner != "" && owner == o.HolderID
}

func ticketKeys(items []models.LineItem) ([]models.SeatKey, error) {
	seen := map[string]bool{}
	var keys []models.SeatKey
	var dup []string
	for _, it := range items {
		if it.Kind != models.ItemTicket {
			continue
		}
		k := it.SeatKey()
		if seen[k.String()] {
			dup = append(dup, k.Label())
			continue
		}
		seen[k.String()] = true
		keys = append(keys, k)
	}
	if len(dup) > 0 {
		return nil, &apperr.Error{Kind: apperr.Validation, Message: "seats listed more than once: " + strings.Join(dup, ", "), Seats: dup}
	}
	return keys, nil
}

func labels(keys []models.SeatKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Label()
	}
	return out
}
