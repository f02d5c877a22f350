package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"subscription_split_bot/internal/domain/billing"
	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/domain/reminder"
	idb "subscription_split_bot/internal/infra/database"
)

// memStore is an in-memory implementation of every repository the app layer uses.
type memStore struct {
	mu sync.Mutex

	projects   map[int64]*billing.Project
	recipients map[int64]*billing.Recipient
	members    map[int64][]int64 // project -> non-owner recipients

	cycles      map[int64]*billing.Cycle
	nextCycleID int64

	payments      map[int64]*billing.Payment
	nextPaymentID int64

	states      map[stateKey]*reminder.State
	nextStateID int64

	deliveries []*reminder.Delivery

	// beforeUpdate runs inside Update before the version check, without the lock held.
	beforeUpdate func(s *reminder.State)
	listErr      error
}

type stateKey struct{ cycleID, recipientID int64 }

func newMemStore() *memStore {
	return &memStore{
		projects:   make(map[int64]*billing.Project),
		recipients: make(map[int64]*billing.Recipient),
		members:    make(map[int64][]int64),
		cycles:     make(map[int64]*billing.Cycle),
		payments:   make(map[int64]*billing.Payment),
		states:     make(map[stateKey]*reminder.State),
	}
}

func (m *memStore) addProject(p *billing.Project, owner *billing.Recipient, members ...*billing.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.OwnerID = owner.ID
	m.projects[p.ID] = p
	m.recipients[owner.ID] = owner
	for _, r := range members {
		m.recipients[r.ID] = r
		m.members[p.ID] = append(m.members[p.ID], r.ID)
	}
}

// --- billing.ProjectRepository ---

func (m *memStore) GetByID(ctx context.Context, id int64) (*billing.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, idb.ErrProjectNotFound
	}
	c := *p
	return &c, nil
}

func (m *memStore) ListActive(ctx context.Context) ([]*billing.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*billing.Project, 0, len(m.projects))
	for _, p := range m.projects {
		if p.IsActive {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListRecipients(ctx context.Context, projectID int64) ([]*billing.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, idb.ErrProjectNotFound
	}
	owner := *m.recipients[p.OwnerID]
	owner.IsOwner = true
	out := []*billing.Recipient{&owner}
	for _, id := range m.members[projectID] {
		r := *m.recipients[id]
		r.IsOwner = false
		out = append(out, &r)
	}
	return out, nil
}

func (m *memStore) GetRecipient(ctx context.Context, id int64) (*billing.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, idb.ErrRecipientNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) GetRecipientByTelegramID(ctx context.Context, telegramID int64) (*billing.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.TelegramID.Valid && r.TelegramID.Int64 == telegramID {
			c := *r
			return &c, nil
		}
	}
	return nil, idb.ErrRecipientNotFound
}

// cycleRepo adapts memStore to billing.CycleRepository (GetByID clashes with projects).
type cycleRepo struct{ *memStore }

func (r cycleRepo) GetByID(ctx context.Context, id int64) (*billing.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[id]
	if !ok {
		return nil, idb.ErrCycleNotFound
	}
	cp := *c
	return &cp, nil
}

func (r cycleRepo) CreateIfAbsent(ctx context.Context, c *billing.Cycle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cycles {
		if existing.ProjectID == c.ProjectID && existing.DueDate.Equal(c.DueDate) {
			return false, nil
		}
	}
	r.nextCycleID++
	c.ID = r.nextCycleID
	c.CreatedAt = time.Now()
	cp := *c
	r.cycles[c.ID] = &cp
	return true, nil
}

func (r cycleRepo) ListByProject(ctx context.Context, projectID int64, includeArchived bool) ([]*billing.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*billing.Cycle, 0)
	for _, c := range r.cycles {
		if c.ProjectID == projectID && (includeArchived || !c.ArchivedAt.Valid) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (r cycleRepo) Archive(ctx context.Context, cycleID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok || c.ArchivedAt.Valid {
		return false, nil
	}
	for _, p := range r.payments {
		if p.CycleID == cycleID && p.Status == billing.PaymentStatusPending {
			return false, nil
		}
	}
	c.ArchivedAt = sql.NullTime{Time: at, Valid: true}
	return true, nil
}

func (r cycleRepo) MarkConfirmed(ctx context.Context, cycleID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cycles[cycleID]
	if !ok {
		return idb.ErrCycleNotFound
	}
	c.ConfirmedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

// paymentRepo adapts memStore to billing.PaymentRepository.
type paymentRepo struct{ *memStore }

func (r paymentRepo) Create(ctx context.Context, p *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.CycleID == p.CycleID && existing.RecipientID == p.RecipientID && existing.Status == billing.PaymentStatusPending {
			return idb.ErrDuplicatePendingPayment
		}
	}
	r.nextPaymentID++
	p.ID = r.nextPaymentID
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r paymentRepo) GetByID(ctx context.Context, id int64) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, idb.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r paymentRepo) Update(ctx context.Context, p *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return idb.ErrPaymentNotFound
	}
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r paymentRepo) ListByCycle(ctx context.Context, cycleID int64) ([]*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*billing.Payment, 0)
	for _, p := range r.payments {
		if p.CycleID == cycleID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r paymentRepo) HasPending(ctx context.Context, cycleID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.CycleID == cycleID && p.Status == billing.PaymentStatusPending {
			return true, nil
		}
	}
	return false, nil
}

// stateRepo adapts memStore to reminder.StateRepository and reminder.DeliveryRepository.
type stateRepo struct{ *memStore }

func (r stateRepo) Get(ctx context.Context, cycleID, recipientID int64) (*reminder.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[stateKey{cycleID, recipientID}]
	if !ok {
		return nil, idb.ErrStateNotFound
	}
	cp := *s
	return &cp, nil
}

func (r stateRepo) Create(ctx context.Context, s *reminder.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stateKey{s.CycleID, s.RecipientID}
	if _, ok := r.states[key]; ok {
		return idb.ErrDuplicateState
	}
	r.nextStateID++
	s.ID = r.nextStateID
	s.Version = 1
	cp := *s
	r.states[key] = &cp
	return nil
}

func (r stateRepo) Update(ctx context.Context, s *reminder.State) error {
	if hook := r.beforeUpdate; hook != nil {
		hook(s)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.states[stateKey{s.CycleID, s.RecipientID}]
	if !ok || stored.ID != s.ID || stored.Version != s.Version || s.Level < stored.Level {
		return idb.ErrConcurrentUpdate
	}
	s.Version++
	cp := *s
	r.states[stateKey{s.CycleID, s.RecipientID}] = &cp
	return nil
}

func (r stateRepo) MarkTerminal(ctx context.Context, cycleID, recipientID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := stateKey{cycleID, recipientID}
	s, ok := r.states[key]
	if !ok {
		r.nextStateID++
		s = &reminder.State{ID: r.nextStateID, CycleID: cycleID, RecipientID: recipientID}
		r.states[key] = s
	}
	s.Terminal = true
	s.Version++
	return nil
}

func (r stateRepo) ListByCycle(ctx context.Context, cycleID int64) ([]*reminder.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*reminder.State, 0)
	for k, s := range r.states {
		if k.cycleID == cycleID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (r stateRepo) Record(ctx context.Context, d *reminder.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = int64(len(r.deliveries) + 1)
	cp := *d
	r.deliveries = append(r.deliveries, &cp)
	return nil
}

func (r stateRepo) ListByState(ctx context.Context, stateID int64) ([]*reminder.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*reminder.Delivery, 0)
	for _, d := range r.deliveries {
		if d.StateID == stateID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) state(cycleID, recipientID int64) *reminder.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[stateKey{cycleID, recipientID}]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *memStore) stateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *memStore) cycleList() []*billing.Cycle {
	out, _ := cycleRepo{m}.ListByProject(context.Background(), 1, true)
	return out
}

// sentMessage is one message a fakeNotifier accepted or refused.
type sentMessage struct {
	RecipientID int64
	Msg         notifier.Message
	Err         error
}

// fakeNotifier records sends; fail decides the outcome of each call.
type fakeNotifier struct {
	mu      sync.Mutex
	channel notifier.Channel
	fail    func(r *billing.Recipient) error
	calls   []sentMessage
}

func newFakeNotifier(ch notifier.Channel) *fakeNotifier {
	return &fakeNotifier{channel: ch}
}

func (f *fakeNotifier) Channel() notifier.Channel { return f.channel }

func (f *fakeNotifier) Send(ctx context.Context, r *billing.Recipient, msg notifier.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.fail != nil {
		err = f.fail(r)
	}
	f.calls = append(f.calls, sentMessage{RecipientID: r.ID, Msg: msg, Err: err})
	return err
}

func (f *fakeNotifier) setFail(fn func(r *billing.Recipient) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// delivered returns the messages that went through.
func (f *fakeNotifier) delivered() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, 0)
	for _, c := range f.calls {
		if c.Err == nil {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeNotifier) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// staticConfig is a ConfigSource returning a fixed snapshot.
type staticConfig struct {
	mu  sync.Mutex
	cfg reminder.Config
}

func (s *staticConfig) Current() reminder.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticConfig) set(fn func(c *reminder.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

// openLocker grants every lease, leaving serialization to the state versions.
type openLocker struct{}

func (openLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
