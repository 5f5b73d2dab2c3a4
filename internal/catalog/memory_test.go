package catalog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-boxoffice/internal/apperr"
	"ms-boxoffice/internal/models"
)

func loadSample(t *testing.T) *Memory {
	t.Helper()
	m, err := Load(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	return m
}

func TestLoadYAML(t *testing.T) {
	m := loadSample(t)
	ctx := context.Background()

	show, err := m.GetShowtime(ctx, "show-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", show.RoomID)
	assert.Equal(t, 2026, show.StartsAt.Year())

	room, err := m.GetRoomLayout(ctx, "room-1")
	require.NoError(t, err)
	seat, ok := room.FindSeat(models.SeatRef{Row: "B", Number: 1})
	require.True(t, ok)
	assert.Equal(t, models.SeatVIP, seat.Type)
	assert.Equal(t, "premium", seat.Zone)

	_, ok = room.FindSeat(models.SeatRef{Row: "C", Number: 1})
	assert.False(t, ok)

	promos, err := m.ListPromotions(ctx)
	require.NoError(t, err)
	require.Len(t, promos, 1)
	assert.Equal(t, models.PromoDayOfWeekTicket, promos[0].Kind)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader("screens: []\n"))
	assert.Error(t, err)
}

func TestFindPricingRule(t *testing.T) {
	m := loadSample(t)
	ctx := context.Background()

	std, err := m.FindPricingRule(ctx, "show-1", models.SeatStandard)
	require.NoError(t, err)
	require.NotNil(t, std)
	assert.Equal(t, int64(5000), std.BasePrice)

	vip, err := m.FindPricingRule(ctx, "show-1", models.SeatVIP)
	require.NoError(t, err)
	require.NotNil(t, vip, "falls back to the showtime's pricing rule reference")
	assert.Equal(t, "rule-vip", vip.ID)

	none, err := m.FindPricingRule(ctx, "show-1", models.SeatAccessible)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestNotFound(t *testing.T) {
	m := loadSample(t)
	_, err := m.GetShowtime(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.NotFound))
	_, err = m.GetProduct(context.Background(), "nope")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestDecrementStockNeverNegative(t *testing.T) {
	m := loadSample(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.DecrementStock(ctx, "popcorn", 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.True(t, apperr.Is(err, apperr.InsufficientStock))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	p, err := m.GetProduct(ctx, "popcorn")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)

	require.NoError(t, m.DecrementStock(ctx, "water", 100), "untracked stock never runs out")
}

func TestShippedSeedLoads(t *testing.T) {
	m, err := LoadFile("../../catalog.yaml")
	require.NoError(t, err)

	show, err := m.GetShowtime(context.Background(), "show-2026-10-21-2200")
	require.NoError(t, err)
	room, err := m.GetRoomLayout(context.Background(), show.RoomID)
	require.NoError(t, err)
	assert.Len(t, room.Rows, 3)

	vip, err := m.FindPricingRule(context.Background(), show.ID, models.SeatVIP)
	require.NoError(t, err)
	require.NotNil(t, vip)
	assert.Equal(t, int64(11000), vip.BasePrice)
}
