package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

type Memory struct {
	mu           sync.RWMutex
	rooms        map[string]models.Room
	showtimes    map[string]models.Showtime
	pricingRules map[string]models.PricingRule
	products     map[string]models.Product
	promotions   map[string]models.Promotion
}

func NewMemory() *Memory {
	return &Memory{
		rooms:        make(map[string]models.Room),
		showtimes:    make(map[string]models.Showtime),
		pricingRules: make(map[string]models.PricingRule),
		products:     make(map[string]models.Product),
		promotions:   make(map[string]models.Promotion),
	}
}

func LoadFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Memory, error) {
	seed, err := DecodeSeed(r)
	if err != nil {
		return nil, err
	}
	m := NewMemory()
	m.Apply(seed)
	return m, nil
}

func DecodeSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for _, st := range seed.Showtimes {
		if st.ID == "" || st.RoomID == "" {
			return nil, fmt.Errorf("showtime %q is missing id or roomId", st.ID)
		}
	}
	return &seed, nil
}

func (m *Memory) Apply(seed *Seed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range seed.Rooms {
		m.rooms[r.ID] = r
	}
	for _, s := range seed.Showtimes {
		m.showtimes[s.ID] = s
	}
	for _, p := range seed.PricingRules {
		m.pricingRules[p.ID] = p
	}
	for _, p := range seed.Products {
		m.products[p.ID] = p
	}
	for _, p := range seed.Promotions {
		m.promotions[p.ID] = p
	}
}

func (m *Memory) PutRoom(r models.Room) {
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.mu.Unlock()
}

func (m *Memory) PutShowtime(s models.Showtime) {
	m.mu.Lock()
	m.showtimes[s.ID] = s
	m.mu.Unlock()
}

func (m *Memory) PutPricingRule(p models.PricingRule) {
	m.mu.Lock()
	m.pricingRules[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) PutProduct(p models.Product) {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) PutPromotion(p models.Promotion) {
	m.mu.Lock()
	m.promotions[p.ID] = p
	m.mu.Unlock()
}

func (m *Memory) GetShowtime(_ context.Context, id string) (*models.Showtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.showtimes[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "showtime %s not found", id)
	}
	return &s, nil
}

func (m *Memory) GetRoomLayout(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "room %s not found", roomID)
	}
	return &r, nil
}

func (m *Memory) GetPricingRule(_ context.Context, id string) (*models.PricingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pricingRules[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "pricing rule %s not found", id)
	}
	return &p, nil
}

func (m *Memory) FindPricingRule(_ context.Context, showtimeID string, seatType models.SeatType) (*models.PricingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pricingRules))
	for id := range m.pricingRules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := m.pricingRules[id]
		if p.ShowtimeID == showtimeID && p.SeatType == seatType {
			return &p, nil
		}
	}

	if s, ok := m.showtimes[showtimeID]; ok && s.PricingRuleID != "" {
		if p, ok := m.pricingRules[s.PricingRuleID]; ok && p.SeatType == seatType {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "product %s not found", id)
	}
	return &p, nil
}

func (m *Memory) ListPromotions(_ context.Context) ([]models.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Promotion, 0, len(m.promotions))
	for _, p := range m.promotions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DecrementStock(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return apperr.New(apperr.NotFound, "product %s not found", productID)
	}
	if !p.TrackStock {
		return nil
	}
	if p.Stock < qty {
		return apperr.New(apperr.InsufficientStock, "product %s has %d left, %d requested", productID, p.Stock, qty)
	}
	p.Stock -= qty
	m.products[productID] = p
	return nil
}
