package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"shopsys/internal/domain"
)

// MemoryStore is a combined in-memory store with simple id generators
type MemoryStore struct {
	mu           sync.RWMutex
	nextProdID   int64
	nextTypeID   int64
	nextUserID   int64
	productsByID map[int64]domain.Product
	typesByID    map[int64]domain.ProductType
	images       map[int64][]byte
	lines        []domain.OrderLine
	usersByName  map[string]domain.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextProdID:   1,
		nextTypeID:   1,
		nextUserID:   1,
		productsByID: make(map[int64]domain.Product),
		typesByID:    make(map[int64]domain.ProductType),
		images:       make(map[int64][]byte),
		usersByName:  make(map[string]domain.User),
	}
}

// transaction-aware locking helpers
type txKey struct{}

// memTx collects undo steps for the running transaction
type memTx struct {
	undo []func()
}

func txState(ctx context.Context) *memTx {
	v, _ := ctx.Value(txKey{}).(*memTx)
	return v
}

func isTx(ctx context.Context) bool {
	return txState(ctx) != nil
}

// onRollback registers how to revert a write made inside a transaction
func onRollback(ctx context.Context, undo func()) {
	if tx := txState(ctx); tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// Ensure interfaces
var _ Catalog = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, ok := m.typesByID[p.TypeID]; !ok {
		return ErrNotFound
	}
	p.ID = m.nextProdID
	m.nextProdID++
	if p.Status == "" {
		p.Status = domain.StatusActive
	}
	m.productsByID[p.ID] = *p
	id := p.ID
	onRollback(ctx, func() { delete(m.productsByID, id) })
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	p, ok := m.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	cp.TypeName = m.typesByID[p.TypeID].Name
	cp.HasImage = len(m.images[id]) > 0
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	prev, ok := m.productsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.typesByID[p.TypeID]; !ok {
		return ErrNotFound
	}
	m.productsByID[p.ID] = *p
	onRollback(ctx, func() { m.productsByID[prev.ID] = prev })
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	p, ok := m.productsByID[id]
	if !ok {
		return ErrNotFound
	}
	prev := p.Status
	p.Status = status
	m.productsByID[id] = p
	onRollback(ctx, func() {
		p.Status = prev
		m.productsByID[id] = p
	})
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, q ProductQuery) ([]domain.ProductSummary, int64, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)

	totals := make(map[int64]int64)
	for _, l := range m.lines {
		totals[l.ProductID] += l.Amount
	}
	keyword := strings.TrimSpace(q.Keyword)
	out := make([]domain.ProductSummary, 0)
	for _, p := range m.productsByID {
		t, ok := m.typesByID[p.TypeID]
		if !ok || !p.Active() || t.Status == domain.StatusDeleted {
			continue
		}
		if q.TypeID != 0 && p.TypeID != q.TypeID {
			continue
		}
		if !containsIgnoreCase(p.Name, keyword) && !containsIgnoreCase(p.Description, keyword) {
			continue
		}
		out = append(out, domain.ProductSummary{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			TypeID:       p.TypeID,
			TypeName:     t.Name,
			HasImage:     len(m.images[p.ID]) > 0,
			TotalOrdered: totals[p.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalOrdered != out[j].TotalOrdered {
			return out[i].TotalOrdered > out[j].TotalOrdered
		}
		return out[i].ID < out[j].ID
	})

	total := int64(len(out))
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Offset >= len(out) {
		return []domain.ProductSummary{}, total, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, total, nil
}

func (m *MemoryStore) Image(ctx context.Context, id int64) ([]byte, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	img, ok := m.images[id]
	if !ok || len(img) == 0 {
		return nil, ErrNotFound
	}
	return append([]byte(nil), img...), nil
}

func (m *MemoryStore) SetImage(ctx context.Context, id int64, image []byte) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, ok := m.productsByID[id]; !ok {
		return ErrNotFound
	}
	prev, had := m.images[id]
	m.images[id] = append([]byte(nil), image...)
	onRollback(ctx, func() {
		if had {
			m.images[id] = prev
		} else {
			delete(m.images, id)
		}
	})
	return nil
}

func (m *MemoryStore) CreateType(ctx context.Context, t *domain.ProductType) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	t.ID = m.nextTypeID
	m.nextTypeID++
	if t.Status == "" {
		t.Status = domain.StatusActive
	}
	m.typesByID[t.ID] = *t
	id := t.ID
	onRollback(ctx, func() { delete(m.typesByID, id) })
	return nil
}

func (m *MemoryStore) ListActiveTypes(ctx context.Context) ([]domain.ProductType, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.ProductType, 0, len(m.typesByID))
	for _, t := range m.typesByID {
		if t.Status != domain.StatusDeleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) SumOrdered(ctx context.Context, productID int64) (int64, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	var sum int64
	for _, l := range mo.store.lines {
		if l.ProductID == productID {
			sum += l.Amount
		}
	}
	return sum, nil
}

func (mo *MemoryOrders) MaxOrderID(ctx context.Context) (int64, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	var max int64
	for _, l := range mo.store.lines {
		if l.OrderID > max {
			max = l.OrderID
		}
	}
	return max, nil
}

func (mo *MemoryOrders) Insert(ctx context.Context, line *domain.OrderLine) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	for _, l := range mo.store.lines {
		if l.OrderID == line.OrderID && l.CustomerName == line.CustomerName && l.ProductID == line.ProductID {
			return ErrDuplicate
		}
	}
	n := len(mo.store.lines)
	mo.store.lines = append(mo.store.lines, *line)
	onRollback(ctx, func() { mo.store.lines = mo.store.lines[:n] })
	return nil
}

func (mo *MemoryOrders) ByOrderID(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.OrderLine, 0)
	for _, l := range mo.store.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Lock is a no-op: MemoryTx already holds the store's write lock.
func (mo *MemoryOrders) Lock(ctx context.Context) error { return nil }

// UserRepository implementation on wrapper type
type MemoryUsers struct{ store *MemoryStore }

func NewMemoryUsers(store *MemoryStore) *MemoryUsers { return &MemoryUsers{store: store} }

var _ UserRepository = (*MemoryUsers)(nil)

func (mu *MemoryUsers) Create(ctx context.Context, u *domain.User) error {
	mu.store.wlock(ctx)
	defer mu.store.wunlock(ctx)
	if _, ok := mu.store.usersByName[u.Username]; ok {
		return ErrDuplicate
	}
	u.ID = mu.store.nextUserID
	mu.store.nextUserID++
	mu.store.usersByName[u.Username] = *u
	name := u.Username
	onRollback(ctx, func() { delete(mu.store.usersByName, name) })
	return nil
}

func (mu *MemoryUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	u, ok := mu.store.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}

// Tx manager using write lock to emulate transaction boundary.
// Writes made inside fn are undone when fn fails.
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	state := &memTx{}
	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		for i := len(state.undo) - 1; i >= 0; i-- {
			state.undo[i]()
		}
		return err
	}
	return nil
}
