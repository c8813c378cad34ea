package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/tickets/memstore"
)

func newOrder(id string, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:          id,
		HolderName:  "Maria Silva",
		HolderEmail: "maria@example.com",
		TicketType:  models.TicketTypeGeneralAdmission,
		Status:      models.StatusIssued,
		CreatedAt:   createdAt,
	}
}

func TestPutGetReturnsCopies(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	order := newOrder("order-1", time.Now())
	order.QRCode = []byte("png")
	require.NoError(t, store.Put(ctx, order))

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	got.Status = models.StatusUsed
	got.QRCode[0] = 'X'

	again, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIssued, again.Status)
	assert.Equal(t, []byte("png"), again.QRCode)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestPutKeepsStatusOfExistingOrder(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	order := newOrder("order-1", time.Now())
	require.NoError(t, store.Put(ctx, order))
	now := time.Now()
	_, err := store.CompareAndSetStatus(ctx, "order-1", models.StatusIssued, models.StatusUsed, &now)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, order))

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, got.Status)
}

func TestIndexByCreationTime(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, newOrder("a", base)))
	require.NoError(t, store.Put(ctx, newOrder("b", base.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, newOrder("c", base.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, newOrder("d", base.Add(-time.Hour))))

	ids, err := store.IndexByCreationTime(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	all, err := store.IndexByCreationTime(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCompareAndSetStatusOutcomes(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, newOrder("order-1", time.Now())))

	first := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	updated, err := store.CompareAndSetStatus(ctx, "order-1", models.StatusIssued, models.StatusUsed, &first)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, updated.Status)
	assert.Equal(t, first, *updated.UsedAt)

	second := first.Add(time.Minute)
	current, err := store.CompareAndSetStatus(ctx, "order-1", models.StatusIssued, models.StatusUsed, &second)
	assert.ErrorIs(t, err, models.ErrStatusConflict)
	assert.Equal(t, first, *current.UsedAt)

	_, err = store.CompareAndSetStatus(ctx, "missing", models.StatusIssued, models.StatusUsed, &first)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	assert.Equal(t, 1, store.Len(), "a miss must not create an entry")
}

func TestCompareAndSetStatusConcurrent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	const tickets = 10
	const attempts = 50
	for i := 0; i < tickets; i++ {
		require.NoError(t, store.Put(ctx, newOrder(fmt.Sprintf("order-%d", i), time.Now())))
	}

	wins := make([]int, tickets)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < tickets; i++ {
		for j := 0; j < attempts; j++ {
			wg.Add(1)
			go func(ticket int) {
				defer wg.Done()
				now := time.Now()
				_, err := store.CompareAndSetStatus(ctx, fmt.Sprintf("order-%d", ticket), models.StatusIssued, models.StatusUsed, &now)
				if err == nil {
					mu.Lock()
					wins[ticket]++
					mu.Unlock()
				}
			}(i)
		}
	}
	wg.Wait()

	for i, w := range wins {
		assert.Equal(t, 1, w, "ticket %d must be redeemed exactly once", i)
	}
}

func TestCanceledContext(t *testing.T) {
	store := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, newOrder("x", time.Now())), context.Canceled)
	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
