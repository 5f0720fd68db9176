package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
)

type memStore struct {
	mu         sync.Mutex
	events     map[string]domain.Event
	offsets    map[string]uint32
	insertErr  error
	setCalls   int
	failInsert uint32
}

func newMemStore() *memStore {
	return &memStore{events: map[string]domain.Event{}, offsets: map[string]uint32{}}
}

func eventKey(device string, kind domain.Kind, seq uint32) string {
	return device + "/" + string(kind) + "/" + strconv.FormatUint(uint64(seq), 10)
}

func (m *memStore) Exists(_ context.Context, device string, kind domain.Kind, seq uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[eventKey(device, kind, seq)]
	return ok, nil
}

func (m *memStore) Insert(_ context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil && event.Head().Sequence == m.failInsert {
		return m.insertErr
	}
	m.events[eventKey(event.Head().Device, event.Kind(), event.Head().Sequence)] = event
	return nil
}

func (m *memStore) GetOffset(_ context.Context, device string, category domain.Category) (uint32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.offsets[device+"/"+category.String()]
	return seq, ok, nil
}

func (m *memStore) SetOffset(_ context.Context, device string, category domain.Category, seq uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.offsets[device+"/"+category.String()] = seq
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []domain.Notification
	err error
}

func (r *recordingNotifier) Publish(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) actions() []domain.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Action, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Action)
	}
	return out
}

func (r *recordingNotifier) last() domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

type fakeLease struct {
	mu       sync.Mutex
	held     bool
	releases int
}

func (l *fakeLease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *fakeLease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

type fakeWakeLock struct {
	lease *fakeLease
	err   error
}

func (w *fakeWakeLock) Acquire(context.Context, time.Duration) (historyout.Lease, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.lease = &fakeLease{held: true}
	return w.lease, nil
}

type fakeTransport struct {
	mu       sync.Mutex
	serial   string
	pages    [][]domain.RawFrame
	latest   uint32
	nextErr  error
	blockCh  chan struct{}
	entered  chan struct{}
	connects int
	closes   int
	plans    []domain.ReadPlan
	maxBolus []byte
}

func (f *fakeTransport) Connect(ctx context.Context) (historyout.Connection, error) {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	if f.entered != nil {
		close(f.entered)
	}
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeConn{t: f}, nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeConn struct {
	t *fakeTransport
}

func (c *fakeConn) Identify(context.Context) (domain.DeviceInfo, error) {
	return domain.DeviceInfo{Serial: c.t.serial, Firmware: "test"}, nil
}

func (c *fakeConn) ReadConfigBlock(_ context.Context, block uint16) ([]byte, error) {
	if block != domain.BlockFactoryMaxBolus || c.t.maxBolus == nil {
		return nil, errors.New("block unavailable")
	}
	return c.t.maxBolus, nil
}

func (c *fakeConn) OpenHistory(_ context.Context, plan domain.ReadPlan) (historyout.HistorySession, error) {
	c.t.mu.Lock()
	c.t.plans = append(c.t.plans, plan)
	c.t.mu.Unlock()
	return &fakeSession{t: c.t}, nil
}

func (c *fakeConn) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	c.t.closes++
	return nil
}

type fakeSession struct {
	t    *fakeTransport
	page int
}

func (s *fakeSession) Next(context.Context) ([]domain.RawFrame, bool, error) {
	if s.t.nextErr != nil {
		return nil, false, s.t.nextErr
	}
	if s.page >= len(s.t.pages) {
		return nil, false, nil
	}
	frames := s.t.pages[s.page]
	s.page++
	return frames, s.page < len(s.t.pages), nil
}

func (s *fakeSession) Close(context.Context) (uint32, error) {
	return s.t.latest, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "run-" + strconv.Itoa(s.n)
}
