// Package memstore keeps orders in process memory. It backs single-instance
// deployments and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

type Store struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	payments map[string]string // payment id -> order id
	byShow   map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		orders:   make(map[string]*models.Order),
		payments: make(map[string]string),
		byShow:   make(map[string]map[string]struct{}),
	}
}

func (s *Store) Insert(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return apperr.New(apperr.Internal, "order %s already exists", o.ID)
	}
	c := clone(o)
	for i := range c.Items {
		c.Items[i].OrderID = c.ID
		c.Items[i].ID = int64(i + 1)
		if c.Items[i].Kind == models.ItemTicket {
			ids, ok := s.byShow[c.Items[i].ShowtimeID]
			if !ok {
				ids = make(map[string]struct{})
				s.byShow[c.Items[i].ShowtimeID] = ids
			}
			ids[c.ID] = struct{}{}
		}
	}
	if c.Payment != nil {
		c.Payment.OrderID = c.ID
		s.payments[c.Payment.ID] = c.ID
	}
	s.orders[c.ID] = c
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "order %s not found", id)
	}
	return clone(o), nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PaidOrders returns PAID orders holding at least one seat of showtimeID.
func (s *Store) PaidOrders(_ context.Context, showtimeID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Order{}
	for id := range s.byShow[showtimeID] {
		if o := s.orders[id]; o.Status == models.OrderPaid {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TransitionOrder(_ context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, apperr.New(apperr.NotFound, "order %s not found", id)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	if payment != "" && o.Payment != nil {
		o.Payment.Status = payment
		o.Payment.UpdatedAt = at
	}
	return true, nil
}

func (s *Store) AttachPaymentRequest(_ context.Context, paymentID, reference, externalID, artifact string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orderID, ok := s.payments[paymentID]
	if !ok {
		return apperr.New(apperr.NotFound, "payment %s not found", paymentID)
	}
	p := s.orders[orderID].Payment
	p.Reference = reference
	p.ExternalID = externalID
	p.Artifact = artifact
	p.UpdatedAt = at
	return nil
}

func (s *Store) FindPayment(_ context.Context, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, apperr.New(apperr.PaymentNotFound, "empty payment reference")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(f func(p *models.Payment) bool) *models.Payment {
		for _, o := range s.orders {
			if o.Payment != nil && f(o.Payment) {
				p := *o.Payment
				return &p
			}
		}
		return nil
	}
	if p := match(func(p *models.Payment) bool { return p.Reference == ref }); p != nil {
		return p, nil
	}
	if p := match(func(p *models.Payment) bool { return p.ExternalID == ref }); p != nil {
		return p, nil
	}
	if o, ok := s.orders[ref]; ok && o.Payment != nil {
		p := *o.Payment
		return &p, nil
	}
	return nil, apperr.New(apperr.PaymentNotFound, "no payment matches %q", ref)
}

func (s *Store) OccupiedSeats(_ context.Context, showtimeID string, now time.Time) ([]models.SeatRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SeatRef
	for id := range s.byShow[showtimeID] {
		o := s.orders[id]
		if !o.Occupies(now) {
			continue
		}
		for _, it := range o.Items {
			if it.Kind == models.ItemTicket && it.ShowtimeID == showtimeID {
				out = append(out, models.SeatRef{Row: it.Row, Number: it.SeatNumber})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (s *Store) ListExpirable(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*models.Order
	for _, o := range s.orders {
		if o.ExpiredAt(now) {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]string, len(stale))
	for i, o := range stale {
		ids[i] = o.ID
	}
	return ids, nil
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return &c
}
