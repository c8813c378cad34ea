package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-ticket-gate/internal/models"
)

// Store keeps orders in a concurrent map. Every mutation goes through
// MapOf.Compute, which serializes writers per key.
type Store struct {
	orders *xsync.MapOf[string, models.Order]
}

func New() *Store {
	return &Store{orders: xsync.NewMapOf[string, models.Order]()}
}

func (s *Store) Put(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	incoming := cloneOrder(*order)
	s.orders.Compute(order.ID, func(existing models.Order, loaded bool) (models.Order, bool) {
		if !loaded {
			return incoming, false
		}
		existing.QRCode = incoming.QRCode
		return existing, false
	})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order, ok := s.orders.Load(id)
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) IndexByCreationTime(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type entry struct {
		id        string
		createdAt time.Time
	}
	entries := make([]entry, 0, s.orders.Size())
	s.orders.Range(func(id string, o models.Order) bool {
		entries = append(entries, entry{id: id, createdAt: o.CreatedAt})
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].id > entries[j].id
		}
		return entries[i].createdAt.After(entries[j].createdAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, usedAt *time.Time) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		found   bool
		swapped bool
	)
	result, _ := s.orders.Compute(id, func(existing models.Order, loaded bool) (models.Order, bool) {
		if !loaded {
			// Nothing stored under id; delete=true keeps it that way.
			return existing, true
		}
		found = true
		if existing.Status != expected {
			return existing, false
		}
		swapped = true
		existing.Status = next
		if usedAt != nil {
			t := *usedAt
			existing.UsedAt = &t
		} else {
			existing.UsedAt = nil
		}
		return existing, false
	})

	if !found {
		return nil, models.ErrOrderNotFound
	}
	out := cloneOrder(result)
	if !swapped {
		return &out, models.ErrStatusConflict
	}
	return &out, nil
}

// Len reports how many orders are stored.
func (s *Store) Len() int {
	return s.orders.Size()
}

func cloneOrder(o models.Order) models.Order {
	if o.UsedAt != nil {
		t := *o.UsedAt
		o.UsedAt = &t
	}
	if o.QRCode != nil {
		o.QRCode = append([]byte(nil), o.QRCode...)
	}
	return o
}
