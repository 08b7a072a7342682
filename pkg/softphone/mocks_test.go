package softphone_test

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/voip_client/pkg/softphone"
)

// fakeHandle управляемая сессия сигнального транспорта для тестов.
// Fire доставляет событие наблюдателю синхронно, в порядке вызовов.
type fakeHandle struct {
	mu     sync.Mutex
	remote string

	acceptErr error
	rejectErr error
	cancelErr error
	byeErr    error

	accepted int
	rejected int
	canceled int
	byed     int

	observer func(softphone.SessionEvent)
}

func newFakeHandle(remote string) *fakeHandle {
	return &fakeHandle{remote: remote}
}

func (h *fakeHandle) RemoteIdentity() string { return h.remote }

func (h *fakeHandle) Accept(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted++
	return h.acceptErr
}

func (h *fakeHandle) Reject(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected++
	return h.rejectErr
}

func (h *fakeHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled++
	return h.cancelErr
}

func (h *fakeHandle) Bye(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byed++
	return h.byeErr
}

func (h *fakeHandle) OnEvent(fn func(softphone.SessionEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = fn
}

// Fire доставляет событие зарегистрированному наблюдателю
func (h *fakeHandle) Fire(ev softphone.SessionEvent) {
	h.mu.Lock()
	fn := h.observer
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *fakeHandle) rejectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejected
}

func (h *fakeHandle) byeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byed
}

func (h *fakeHandle) cancelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// fakeRegistration управляемая регистрация для тестов
type fakeRegistration struct {
	mu           sync.Mutex
	refreshErr   error
	refreshes    int
	unregistered int
}

func (r *fakeRegistration) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	return r.refreshErr
}

func (r *fakeRegistration) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered++
	return nil
}

func (r *fakeRegistration) setRefreshErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshErr = err
}

func (r *fakeRegistration) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes
}

// fakeTransport управляемый сигнальный транспорт для тестов
type fakeTransport struct {
	mu sync.Mutex

	startErr    error
	registerErr error
	inviteErr   error

	registration *fakeRegistration
	invited      []*fakeHandle
	incoming     func(softphone.SessionHandle)
	started      int
	stopped      int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{registration: &fakeRegistration{}}
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started++
	return t.startErr
}

func (t *fakeTransport) Register(ctx context.Context) (softphone.RegistrationHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.registerErr != nil {
		return nil, t.registerErr
	}
	return t.registration, nil
}

func (t *fakeTransport) Invite(ctx context.Context, target string) (softphone.SessionHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inviteErr != nil {
		return nil, t.inviteErr
	}
	h := newFakeHandle(target)
	t.invited = append(t.invited, h)
	return h, nil
}

func (t *fakeTransport) OnIncomingInvite(fn func(softphone.SessionHandle)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.incoming = fn
}

func (t *fakeTransport) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return nil
}

// Deliver доставляет входящее приглашение движку, как это делает
// реальный транспорт
func (t *fakeTransport) Deliver(h *fakeHandle) {
	t.mu.Lock()
	fn := t.incoming
	t.mu.Unlock()
	if fn != nil {
		fn(h)
	}
}

func (t *fakeTransport) lastInvited() *fakeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.invited) == 0 {
		return nil
	}
	return t.invited[len(t.invited)-1]
}

// fakeNotifier считающий звуковой оповещатель
type fakeNotifier struct {
	mu      sync.Mutex
	playing bool
	plays   int
	stops   int
}

func (n *fakeNotifier) PlayRingtone() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playing = true
	n.plays++
}

func (n *fakeNotifier) StopRingtone() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.playing = false
	n.stops++
}

func (n *fakeNotifier) isPlaying() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.playing
}

// fakeClock управляемый источник времени для проверки длительностей
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
