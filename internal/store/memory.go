package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-stream/backend/internal/models"
)

// row is one record. lock is held by the transaction that owns the row; mu only
// guards val so plain reads never wait on a transaction.
type row[T any] struct {
	lock sync.Mutex
	mu   sync.RWMutex
	val  *T
}

func (r *row[T]) load(clone func(*T) *T) *T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.val)
}

func (r *row[T]) store(v *T) {
	r.mu.Lock()
	r.val = v
	r.mu.Unlock()
}

// Memory is an in-process Store used by tests and local development. It gives the
// same guarantees as Postgres: row locks held until commit, and all-or-nothing commits.
type Memory struct {
	mu       sync.RWMutex
	streams  map[uuid.UUID]*row[models.Stream]
	keys     map[string]uuid.UUID
	users    map[uuid.UUID]*row[models.User]
	sessions map[string]*row[models.ViewSession]
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		streams:  make(map[uuid.UUID]*row[models.Stream]),
		keys:     make(map[string]uuid.UUID),
		users:    make(map[uuid.UUID]*row[models.User]),
		sessions: make(map[string]*row[models.ViewSession]),
	}
}

// PutStream provisions or replaces a stream. A zero ID is assigned.
func (m *Memory) PutStream(s *models.Stream) *models.Stream {
	c := s.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.StreamOffline
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.streams[c.ID]; ok {
		r.store(c)
	} else {
		m.streams[c.ID] = &row[models.Stream]{val: c}
	}
	m.keys[c.StreamKey] = c.ID
	return c.Clone()
}

// PutUser provisions or replaces a user. A zero ID is assigned.
func (m *Memory) PutUser(u *models.User) *models.User {
	c := u.Clone()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.SubscriptionTier == "" {
		c.SubscriptionTier = models.TierFree
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.users[c.ID]; ok {
		r.store(c)
	} else {
		m.users[c.ID] = &row[models.User]{val: c}
	}
	return c.Clone()
}

func (m *Memory) streamRow(id uuid.UUID) *row[models.Stream] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[id]
}

func (m *Memory) userRow(id uuid.UUID) *row[models.User] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id]
}

func (m *Memory) sessionRow(id string) *row[models.ViewSession] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// sessionRows snapshots the row pointers so callers never hold m.mu while reading rows.
func (m *Memory) sessionRows() []*row[models.ViewSession] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*row[models.ViewSession], 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r)
	}
	return out
}

func (m *Memory) WithTx(ctx context.Context, fn TxFunc) error {
	tx := &memTx{
		m:        m,
		streams:  make(map[uuid.UUID]*staged[models.Stream]),
		users:    make(map[uuid.UUID]*staged[models.User]),
		sessions: make(map[string]*staged[models.ViewSession]),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) GetStream(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	r := m.streamRow(id)
	if r == nil {
		return nil, ErrNotFound
	}
	return r.load((*models.Stream).Clone), nil
}

func (m *Memory) GetStreamByKey(ctx context.Context, key string) (*models.Stream, error) {
	m.mu.RLock()
	id, ok := m.keys[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetStream(ctx, id)
}

func (m *Memory) ListStreams(_ context.Context, status models.StreamStatus) ([]models.Stream, error) {
	m.mu.RLock()
	rows := make([]*row[models.Stream], 0, len(m.streams))
	for _, r := range m.streams {
		rows = append(rows, r)
	}
	m.mu.RUnlock()

	var list []models.Stream
	for _, r := range rows {
		s := r.load((*models.Stream).Clone)
		if status == "" || s.Status == status {
			list = append(list, *s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].StreamKey < list[j].StreamKey
	})
	return list, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	r := m.userRow(id)
	if r == nil {
		return nil, ErrNotFound
	}
	return r.load((*models.User).Clone), nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*models.ViewSession, error) {
	r := m.sessionRow(sessionID)
	if r == nil {
		return nil, ErrNotFound
	}
	return r.load((*models.ViewSession).Clone), nil
}

func (m *Memory) ListActiveSessionIDs(_ context.Context, streamID uuid.UUID) ([]string, error) {
	var ids []string
	for _, r := range m.sessionRows() {
		s := r.load((*models.ViewSession).Clone)
		if s.StreamID == streamID && s.EndedAt == nil {
			ids = append(ids, s.SessionID)
		}
	}
	return ids, nil
}

func (m *Memory) ListSessionsByUser(_ context.Context, userID uuid.UUID, limit int) ([]models.ViewSession, error) {
	var list []models.ViewSession
	for _, r := range m.sessionRows() {
		s := r.load((*models.ViewSession).Clone)
		if s.UserID == userID {
			list = append(list, *s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *Memory) CountSessionsByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	list, err := m.ListSessionsByUser(ctx, userID, 0)
	return len(list), err
}

type staged[T any] struct {
	r     *row[T]
	val   *T
	dirty bool
}

type memTx struct {
	m        *Memory
	streams  map[uuid.UUID]*staged[models.Stream]
	users    map[uuid.UUID]*staged[models.User]
	sessions map[string]*staged[models.ViewSession]
	inserts  []*models.ViewSession
	locked   []*sync.Mutex
}

func (t *memTx) acquire(l *sync.Mutex) {
	l.Lock()
	t.locked = append(t.locked, l)
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].Unlock()
	}
	t.locked = nil
}

func (t *memTx) StreamForUpdate(_ context.Context, id uuid.UUID) (*models.Stream, error) {
	st, err := t.stream(id)
	if err != nil {
		return nil, err
	}
	return st.val.Clone(), nil
}

func (t *memTx) stream(id uuid.UUID) (*staged[models.Stream], error) {
	if st, ok := t.streams[id]; ok {
		return st, nil
	}
	r := t.m.streamRow(id)
	if r == nil {
		return nil, ErrNotFound
	}
	t.acquire(&r.lock)
	st := &staged[models.Stream]{r: r, val: r.load((*models.Stream).Clone)}
	t.streams[id] = st
	return st, nil
}

func (t *memTx) UpdateStream(_ context.Context, s *models.Stream) error {
	st, err := t.stream(s.ID)
	if err != nil {
		return err
	}
	if s.CurrentViewers < 0 || s.PeakViewers < s.CurrentViewers {
		return fmt.Errorf("update stream %s: viewer counters out of range (%d/%d)", s.ID, s.CurrentViewers, s.PeakViewers)
	}
	st.val = s.Clone()
	st.dirty = true
	return nil
}

func (t *memTx) SessionForUpdate(_ context.Context, sessionID string) (*models.ViewSession, error) {
	st, err := t.session(sessionID)
	if err != nil {
		return nil, err
	}
	return st.val.Clone(), nil
}

func (t *memTx) session(id string) (*staged[models.ViewSession], error) {
	if st, ok := t.sessions[id]; ok {
		return st, nil
	}
	r := t.m.sessionRow(id)
	if r == nil {
		return nil, ErrNotFound
	}
	t.acquire(&r.lock)
	st := &staged[models.ViewSession]{r: r, val: r.load((*models.ViewSession).Clone)}
	t.sessions[id] = st
	return st, nil
}

func (t *memTx) InsertSession(_ context.Context, s *models.ViewSession) error {
	if _, ok := t.sessions[s.SessionID]; ok || t.m.sessionRow(s.SessionID) != nil {
		return fmt.Errorf("insert session: duplicate session id %s", s.SessionID)
	}
	c := s.Clone()
	t.inserts = append(t.inserts, c)
	t.sessions[s.SessionID] = &staged[models.ViewSession]{val: c, dirty: true}
	return nil
}

func (t *memTx) UpdateSession(_ context.Context, s *models.ViewSession) error {
	st, err := t.session(s.SessionID)
	if err != nil {
		return err
	}
	st.val = s.Clone()
	st.dirty = true
	return nil
}

func (t *memTx) AddUserUsage(_ context.Context, userID uuid.UUID, watchSeconds, dataBytes int64) error {
	st, ok := t.users[userID]
	if !ok {
		r := t.m.userRow(userID)
		if r == nil {
			return ErrNotFound
		}
		t.acquire(&r.lock)
		st = &staged[models.User]{r: r, val: r.load((*models.User).Clone)}
		t.users[userID] = st
	}
	st.val.TotalWatchTime += watchSeconds
	st.val.MonthlyDataUsed += dataBytes
	st.dirty = true
	return nil
}

// commit publishes every staged write at once. Inserts are checked for uniqueness
// before anything becomes visible.
func (t *memTx) commit() error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, s := range t.inserts {
		if _, ok := t.m.sessions[s.SessionID]; ok {
			return fmt.Errorf("insert session: duplicate session id %s", s.SessionID)
		}
	}
	for _, st := range t.streams {
		if st.dirty {
			st.r.store(st.val)
		}
	}
	for _, st := range t.users {
		if st.dirty {
			st.r.store(st.val)
		}
	}
	for _, st := range t.sessions {
		if st.dirty && st.r != nil {
			st.r.store(st.val)
		}
	}
	for _, s := range t.inserts {
		st := t.sessions[s.SessionID]
		t.m.sessions[s.SessionID] = &row[models.ViewSession]{val: st.val}
	}
	return nil
}
