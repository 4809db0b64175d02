package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"salefeed-relay/models"
)

// MemoryStore keeps listings in process memory. Each operation holds the
// store lock for its full duration, which gives batch operations the same
// all-or-nothing visibility a database transaction would.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[int64]*models.Listing
	index  map[models.ListingKey]int64
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  make(map[int64]*models.Listing),
		index: make(map[models.ListingKey]int64),
		now:   time.Now,
	}
}

func (m *MemoryStore) InsertIfAbsent(ctx context.Context, l *models.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[l.Key()]; exists {
		return ErrDuplicateKey
	}
	m.insertLocked(l)
	return nil
}

func (m *MemoryStore) BulkInsert(ctx context.Context, listings []*models.Listing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make(map[models.ListingKey]struct{}, len(listings))
	for _, l := range listings {
		key := l.Key()
		if _, exists := m.index[key]; exists {
			return aborted(ErrDuplicateKey)
		}
		if _, exists := batch[key]; exists {
			return aborted(ErrDuplicateKey)
		}
		batch[key] = struct{}{}
	}

	for _, l := range listings {
		m.insertLocked(l)
	}
	return nil
}

func (m *MemoryStore) InsertNew(ctx context.Context, listings []*models.Listing) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, l := range listings {
		if _, exists := m.index[l.Key()]; exists {
			continue
		}
		m.insertLocked(l)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Listing, 0, len(m.rows))
	for _, row := range m.rows {
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.rows))
	m.rows = make(map[int64]*models.Listing)
	m.index = make(map[models.ListingKey]int64)
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}

// insertLocked assigns the next id and stores a copy of l. Caller holds mu.
func (m *MemoryStore) insertLocked(l *models.Listing) {
	m.nextID++
	l.ID = m.nextID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	cp := *l
	m.rows[cp.ID] = &cp
	m.index[cp.Key()] = cp.ID
}
