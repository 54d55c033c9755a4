package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mia/mia/internal/platform/apperr"
)

type table[T any] struct {
	rows  map[string]*T
	order []string
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]*T)}
}

func (t *table[T]) put(id string, v *T) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = v
}

func (t *table[T]) remove(id string) bool {
	if _, ok := t.rows[id]; !ok {
		return false
	}
	delete(t.rows, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// each visits rows in insertion order.
func (t *table[T]) each(fn func(*T)) {
	for _, id := range t.order {
		fn(t.rows[id])
	}
}

// MemoryStore is a process-local backend. Every write builds the new record
// aside and swaps it in under the lock, so a failed write leaves the stored
// record untouched.
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	now   func() time.Time
	fault func(op string) error

	users       table[User]
	children    table[Child]
	intakeForms table[IntakeForm]
	clinics     table[Clinic]
	sessions    table[Session]
	claims      table[Claim]
	documents   table[Document]
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:         now,
		users:       newTable[User](),
		children:    newTable[Child](),
		intakeForms: newTable[IntakeForm](),
		clinics:     newTable[Clinic](),
		sessions:    newTable[Session](),
		claims:      newTable[Claim](),
		documents:   newTable[Document](),
	}
}

// Store exposes the memory backend through the repository interfaces.
func (m *MemoryStore) Store() *Store {
	return &Store{
		Users:       memUsers{m},
		Children:    memChildren{m},
		IntakeForms: memIntakeForms{m},
		Clinics:     memClinics{m},
		Sessions:    memSessions{m},
		Claims:      memClaims{m},
		Documents:   memDocuments{m},
		Tx:          m,
		Now:         m.now,
	}
}

// SetFault installs a hook consulted at the commit point of every write.
// A non-nil return aborts the write before anything is stored.
func (m *MemoryStore) SetFault(fn func(op string) error) {
	m.mu.Lock()
	m.fault = fn
	m.mu.Unlock()
}

func (m *MemoryStore) commit(op string) error {
	if m.fault == nil {
		return nil
	}
	if err := m.fault(op); err != nil {
		return apperr.Unavailable(op, err)
	}
	return nil
}

type memTxKey struct{}

// InTx serializes units of work. The memory backend cannot roll back, so
// callers order their writes so the authoritative record is written first.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

// -- users --

type memUsers struct{ m *MemoryStore }

func (r memUsers) Get(_ context.Context, id string) (*User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users.rows[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return u.clone(), nil
}

func (r memUsers) find(match func(*User) bool) *User {
	var found *User
	r.m.users.each(func(u *User) {
		if found == nil && match(u) {
			found = u
		}
	})
	return found
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u := r.find(func(u *User) bool { return u.Username == username })
	if u == nil {
		return nil, apperr.NotFound("user", username)
	}
	return u.clone(), nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u := r.find(func(u *User) bool { return u.Email == email })
	if u == nil {
		return nil, apperr.NotFound("user", email)
	}
	return u.clone(), nil
}

func (r memUsers) Create(_ context.Context, u *User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.find(func(x *User) bool { return x.Username == u.Username }) != nil {
		return apperr.Conflict("username", u.Username)
	}
	if r.find(func(x *User) bool { return x.Email == u.Email }) != nil {
		return apperr.Conflict("email", u.Email)
	}
	if err := r.m.commit("users.create"); err != nil {
		return err
	}
	u.ID = uuid.NewString()
	u.CreatedAt = r.m.now()
	r.m.users.put(u.ID, u.clone())
	return nil
}

func (r memUsers) Update(_ context.Context, id string, p UserPatch) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.users.rows[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	if p.Email != nil && *p.Email != cur.Email {
		if r.find(func(x *User) bool { return x.Email == *p.Email }) != nil {
			return nil, apperr.Conflict("email", *p.Email)
		}
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("users.update"); err != nil {
		return nil, err
	}
	r.m.users.put(id, next)
	return next.clone(), nil
}

// -- children --

type memChildren struct{ m *MemoryStore }

func (r memChildren) Get(_ context.Context, id string) (*Child, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.children.rows[id]
	if !ok {
		return nil, apperr.NotFound("child", id)
	}
	return c.clone(), nil
}

func (r memChildren) ListByParent(_ context.Context, parentID string) ([]*Child, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	items := []*Child{}
	r.m.children.each(func(c *Child) {
		if c.ParentID == parentID {
			items = append(items, c.clone())
		}
	})
	return items, nil
}

func (r memChildren) Create(_ context.Context, c *Child) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.commit("children.create"); err != nil {
		return err
	}
	applyChildDefaults(c)
	c.ID = uuid.NewString()
	c.CreatedAt = r.m.now()
	r.m.children.put(c.ID, c.clone())
	return nil
}

func (r memChildren) Update(_ context.Context, id string, p ChildPatch) (*Child, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.children.rows[id]
	if !ok {
		return nil, apperr.NotFound("child", id)
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("children.update"); err != nil {
		return nil, err
	}
	r.m.children.put(id, next)
	return next.clone(), nil
}

func (r memChildren) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.children.rows[id]; !ok {
		return apperr.NotFound("child", id)
	}
	if err := r.m.commit("children.delete"); err != nil {
		return err
	}
	r.m.children.remove(id)
	removeWhere(&r.m.intakeForms, func(f *IntakeForm) bool { return f.ChildID == id })
	removeWhere(&r.m.sessions, func(s *Session) bool { return s.ChildID == id })
	removeWhere(&r.m.claims, func(c *Claim) bool { return c.ChildID == id })
	removeWhere(&r.m.documents, func(d *Document) bool { return d.ChildID == id })
	return nil
}

// removeWhere drops matching rows, mirroring ON DELETE CASCADE.
func removeWhere[T any](t *table[T], match func(*T) bool) {
	var ids []string
	for _, id := range t.order {
		if match(t.rows[id]) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		t.remove(id)
	}
}

// -- intake forms --

type memIntakeForms struct{ m *MemoryStore }

func (r memIntakeForms) Get(_ context.Context, id string) (*IntakeForm, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	f, ok := r.m.intakeForms.rows[id]
	if !ok {
		return nil, apperr.NotFound("intake form", id)
	}
	return f.clone(), nil
}

func (r memIntakeForms) byChild(childID string) *IntakeForm {
	var found *IntakeForm
	r.m.intakeForms.each(func(f *IntakeForm) {
		if found == nil && f.ChildID == childID {
			found = f
		}
	})
	return found
}

func (r memIntakeForms) GetByChild(_ context.Context, childID string) (*IntakeForm, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	f := r.byChild(childID)
	if f == nil {
		return nil, apperr.NotFound("intake form for child", childID)
	}
	return f.clone(), nil
}

func (r memIntakeForms) Create(_ context.Context, f *IntakeForm) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.byChild(f.ChildID) != nil {
		return apperr.Conflict("childId", f.ChildID)
	}
	if err := r.m.commit("intake_forms.create"); err != nil {
		return err
	}
	applyIntakeDefaults(f)
	now := r.m.now()
	f.ID = uuid.NewString()
	f.CreatedAt = now
	f.UpdatedAt = now
	r.m.intakeForms.put(f.ID, f.clone())
	return nil
}

func (r memIntakeForms) Update(_ context.Context, id string, p IntakeFormPatch) (*IntakeForm, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.intakeForms.rows[id]
	if !ok {
		return nil, apperr.NotFound("intake form", id)
	}
	next := cur.clone()
	p.apply(next)
	next.UpdatedAt = r.m.now()
	if err := r.m.commit("intake_forms.update"); err != nil {
		return nil, err
	}
	r.m.intakeForms.put(id, next)
	return next.clone(), nil
}

// -- clinics --

type memClinics struct{ m *MemoryStore }

func (r memClinics) Get(_ context.Context, id string) (*Clinic, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.clinics.rows[id]
	if !ok {
		return nil, apperr.NotFound("clinic", id)
	}
	return c.clone(), nil
}

func (r memClinics) GetByUser(_ context.Context, userID string) (*Clinic, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var found *Clinic
	r.m.clinics.each(func(c *Clinic) {
		if found == nil && c.UserID == userID {
			found = c
		}
	})
	if found == nil {
		return nil, apperr.NotFound("clinic for user", userID)
	}
	return found.clone(), nil
}

func (r memClinics) List(_ context.Context) ([]*Clinic, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	items := []*Clinic{}
	r.m.clinics.each(func(c *Clinic) { items = append(items, c.clone()) })
	return items, nil
}

func (r memClinics) Create(_ context.Context, c *Clinic) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.commit("clinics.create"); err != nil {
		return err
	}
	applyClinicDefaults(c)
	c.ID = uuid.NewString()
	c.CreatedAt = r.m.now()
	r.m.clinics.put(c.ID, c.clone())
	return nil
}

func (r memClinics) Update(_ context.Context, id string, p ClinicPatch) (*Clinic, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.clinics.rows[id]
	if !ok {
		return nil, apperr.NotFound("clinic", id)
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("clinics.update"); err != nil {
		return nil, err
	}
	r.m.clinics.put(id, next)
	return next.clone(), nil
}

// -- sessions --

type memSessions struct{ m *MemoryStore }

func (r memSessions) Get(_ context.Context, id string) (*Session, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.sessions.rows[id]
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	return s.clone(), nil
}

func (r memSessions) filter(match func(*Session) bool) []*Session {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	items := []*Session{}
	r.m.sessions.each(func(s *Session) {
		if match(s) {
			items = append(items, s.clone())
		}
	})
	return items
}

func (r memSessions) ListByChild(_ context.Context, childID string) ([]*Session, error) {
	return r.filter(func(s *Session) bool { return s.ChildID == childID }), nil
}

func (r memSessions) ListByClinic(_ context.Context, clinicID string) ([]*Session, error) {
	return r.filter(func(s *Session) bool { return s.ClinicID == clinicID }), nil
}

func (r memSessions) ListByClinicBetween(_ context.Context, clinicID string, from, to time.Time) ([]*Session, error) {
	return r.filter(func(s *Session) bool {
		return s.ClinicID == clinicID && !s.ScheduledDate.Before(from) && s.ScheduledDate.Before(to)
	}), nil
}

func (r memSessions) Create(_ context.Context, s *Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.commit("sessions.create"); err != nil {
		return err
	}
	applySessionDefaults(s)
	s.ID = uuid.NewString()
	s.CreatedAt = r.m.now()
	r.m.sessions.put(s.ID, s.clone())
	return nil
}

func (r memSessions) Update(_ context.Context, id string, p SessionPatch) (*Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.sessions.rows[id]
	if !ok {
		return nil, apperr.NotFound("session", id)
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("sessions.update"); err != nil {
		return nil, err
	}
	r.m.sessions.put(id, next)
	return next.clone(), nil
}

// -- claims --

type memClaims struct{ m *MemoryStore }

func (r memClaims) Get(_ context.Context, id string) (*Claim, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.claims.rows[id]
	if !ok {
		return nil, apperr.NotFound("claim", id)
	}
	return c.clone(), nil
}

func (r memClaims) filter(match func(*Claim) bool) []*Claim {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	items := []*Claim{}
	r.m.claims.each(func(c *Claim) {
		if match(c) {
			items = append(items, c.clone())
		}
	})
	return items
}

func (r memClaims) List(_ context.Context) ([]*Claim, error) {
	return r.filter(func(*Claim) bool { return true }), nil
}

func (r memClaims) ListByStatus(_ context.Context, status string) ([]*Claim, error) {
	return r.filter(func(c *Claim) bool { return c.Status == status }), nil
}

func (r memClaims) ListByChild(_ context.Context, childID string) ([]*Claim, error) {
	return r.filter(func(c *Claim) bool { return c.ChildID == childID }), nil
}

func (r memClaims) ListByClinic(_ context.Context, clinicID string) ([]*Claim, error) {
	return r.filter(func(c *Claim) bool { return c.ClinicID == clinicID }), nil
}

func (r memClaims) Create(_ context.Context, c *Claim) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.claims.rows {
		if existing.ClaimNumber == c.ClaimNumber {
			return apperr.Conflict("claimNumber", c.ClaimNumber)
		}
	}
	if err := r.m.commit("claims.create"); err != nil {
		return err
	}
	now := r.m.now()
	applyClaimDefaults(c, now)
	c.ID = uuid.NewString()
	c.CreatedAt = now
	r.m.claims.put(c.ID, c.clone())
	return nil
}

func (r memClaims) Update(_ context.Context, id string, p ClaimPatch) (*Claim, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.claims.rows[id]
	if !ok {
		return nil, apperr.NotFound("claim", id)
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("claims.update"); err != nil {
		return nil, err
	}
	r.m.claims.put(id, next)
	return next.clone(), nil
}

// -- documents --

type memDocuments struct{ m *MemoryStore }

func (r memDocuments) Get(_ context.Context, id string) (*Document, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	d, ok := r.m.documents.rows[id]
	if !ok {
		return nil, apperr.NotFound("document", id)
	}
	return d.clone(), nil
}

func (r memDocuments) ListByChild(_ context.Context, childID string) ([]*Document, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	items := []*Document{}
	r.m.documents.each(func(d *Document) {
		if d.ChildID == childID {
			items = append(items, d.clone())
		}
	})
	return items, nil
}

func (r memDocuments) Create(_ context.Context, d *Document) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.commit("documents.create"); err != nil {
		return err
	}
	d.ID = uuid.NewString()
	d.CreatedAt = r.m.now()
	r.m.documents.put(d.ID, d.clone())
	return nil
}

func (r memDocuments) Update(_ context.Context, id string, p DocumentPatch) (*Document, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.documents.rows[id]
	if !ok {
		return nil, apperr.NotFound("document", id)
	}
	next := cur.clone()
	p.apply(next)
	if err := r.m.commit("documents.update"); err != nil {
		return nil, err
	}
	r.m.documents.put(id, next)
	return next.clone(), nil
}

func (r memDocuments) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.documents.rows[id]; !ok {
		return apperr.NotFound("document", id)
	}
	if err := r.m.commit("documents.delete"); err != nil {
		return err
	}
	r.m.documents.remove(id)
	return nil
}
