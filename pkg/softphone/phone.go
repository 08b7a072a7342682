package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/voip_client/pkg/history"
	"github.com/arzzra/voip_client/pkg/state"
)

// Phone фасад телефонного движка.
//
// Собирает хранилище состояния, журнал истории, менеджер регистрации
// и менеджер вызовов вокруг одного сигнального транспорта и
// предоставляет слою представления полный набор пользовательских
// операций.
type Phone struct {
	mu sync.Mutex

	transport SignalingTransport
	notifier  AudioNotifier
	store     *state.Store
	recorder  *history.Recorder

	registration *RegistrationManager
	calls        *CallManager

	log     StructuredLogger
	metrics *Metrics
	clock   func() time.Time

	historyStore history.Store
	started      bool
	stopOnce     sync.Once
}

// PhoneOption опция конфигурации Phone
type PhoneOption func(*Phone)

// WithNotifier устанавливает звуковой оповещатель
func WithNotifier(n AudioNotifier) PhoneOption {
	return func(p *Phone) {
		if n != nil {
			p.notifier = n
		}
	}
}

// WithLogger устанавливает логгер движка
func WithLogger(log StructuredLogger) PhoneOption {
	return func(p *Phone) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics подключает сборщик метрик
func WithMetrics(m *Metrics) PhoneOption {
	return func(p *Phone) { p.metrics = m }
}

// WithHistoryStore подключает постоянное хранилище журнала вызовов
func WithHistoryStore(s history.Store) PhoneOption {
	return func(p *Phone) { p.historyStore = s }
}

// WithNow подменяет источник времени (для тестов)
func WithNow(clock func() time.Time) PhoneOption {
	return func(p *Phone) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// nopAudioNotifier используется при отсутствии оповещателя
type nopAudioNotifier struct{}

func (nopAudioNotifier) PlayRingtone() {}
func (nopAudioNotifier) StopRingtone() {}

// New создает телефонный движок поверх сигнального транспорта
func New(transport SignalingTransport, config *Config, opts ...PhoneOption) (*Phone, error) {
	if transport == nil {
		return nil, ErrInvalidConfig("transport", "сигнальный транспорт обязателен")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Phone{
		transport: transport,
		notifier:  nopAudioNotifier{},
		log:       GetDefaultLogger().WithComponent("phone"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if config.LogLevel != "" {
		p.log.SetLevel(ParseLogLevel(config.LogLevel))
	}

	p.store = state.NewStore()

	recOpts := []history.RecorderOption{
		history.WithOnAdded(p.store.AppendCall),
	}
	if p.historyStore != nil {
		recOpts = append(recOpts, history.WithStore(p.historyStore))
	}
	p.recorder = history.NewRecorder(recOpts...)

	p.registration = NewRegistrationManager(transport, p.store,
		WithRegistrationLogger(p.log.WithComponent("registration")),
		WithRegistrationMetrics(p.metrics),
		WithRefreshInterval(config.RefreshInterval),
	)
	p.calls = NewCallManager(transport, p.notifier, p.store, p.recorder,
		WithCallLogger(p.log.WithComponent("calls")),
		WithCallMetrics(p.metrics),
		WithAnswerTimeout(config.AnswerTimeout),
		WithClock(p.clock),
	)

	return p, nil
}

// Start запускает движок: загружает сохраненный журнал, подключает
// обработчик входящих приглашений и выполняет регистрацию.
//
// Ошибка загрузки журнала не препятствует запуску. Обработчик
// входящих подключается до регистрации: приглашение, пришедшее сразу
// после нее, не может быть потеряно.
func (p *Phone) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrInvalidCallState("start", "движок уже запущен")
	}

	if err := p.recorder.Load(); err != nil {
		p.log.LogError(err, "журнал вызовов не загружен, продолжаем с пустым")
	}
	p.store.ResetCalls(p.recorder.Calls())

	p.transport.OnIncomingInvite(p.calls.HandleIncomingInvite)

	if err := p.registration.Initialize(ctx); err != nil {
		return err
	}

	p.started = true
	p.log.Info("движок запущен", Int("history_records", p.recorder.Len()))
	return nil
}

// Shutdown останавливает движок. Каждый шаг освобождения выполняется
// независимо от успеха предыдущих. Повторные вызовы безвредны.
func (p *Phone) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.calls.Shutdown(ctx)
		p.registration.Shutdown(ctx)

		if err := p.transport.Stop(ctx); err != nil {
			p.log.LogError(err, "остановка транспорта не удалась")
		}
		if err := p.recorder.Close(); err != nil {
			p.log.LogError(err, "закрытие хранилища журнала не удалось")
		}
		if closer, ok := p.notifier.(interface{ Close() }); ok {
			closer.Close()
		}

		p.mu.Lock()
		p.started = false
		p.mu.Unlock()

		p.log.Info("движок остановлен")
	})
}

// PlaceCall инициирует исходящий вызов
func (p *Phone) PlaceCall(ctx context.Context, number string) error {
	return p.calls.PlaceCall(ctx, number)
}

// AcceptIncomingCall принимает ожидающее входящее приглашение
func (p *Phone) AcceptIncomingCall(ctx context.Context) error {
	return p.calls.AcceptIncomingCall(ctx)
}

// RejectIncomingCall отклоняет ожидающее входящее приглашение
func (p *Phone) RejectIncomingCall(ctx context.Context) error {
	return p.calls.RejectIncomingCall(ctx)
}

// IgnoreIncomingCall игнорирует ожидающее входящее приглашение
func (p *Phone) IgnoreIncomingCall(ctx context.Context) error {
	return p.calls.IgnoreIncomingCall(ctx)
}

// EndCall завершает текущий вызов в любом его состоянии
func (p *Phone) EndCall(ctx context.Context) {
	p.calls.EndCall(ctx)
}

// ToggleMute переключает флаг mute текущего вызова
func (p *Phone) ToggleMute() {
	p.calls.ToggleMute()
}

// ToggleHold переключает флаг hold текущего вызова
func (p *Phone) ToggleHold() {
	p.calls.ToggleHold()
}

// ClearCallHistory очищает журнал вызовов в памяти и в хранилище
func (p *Phone) ClearCallHistory() {
	p.recorder.Clear()
	p.store.ResetCalls(nil)
}

// Snapshot возвращает текущий срез состояния
func (p *Phone) Snapshot() state.Snapshot {
	return p.store.Snapshot()
}

// Subscribe подписывает наблюдателя на изменения состояния
func (p *Phone) Subscribe(fn func(state.Snapshot)) {
	p.store.Subscribe(fn)
}

// History возвращает журнал вызовов, новые записи первыми
func (p *Phone) History() []history.CallRecord {
	return p.recorder.Calls()
}

// CallDuration возвращает длительность текущего установленного
// вызова в секундах (0, если вызова нет)
func (p *Phone) CallDuration() int {
	return p.store.Snapshot().CallDuration(p.clock())
}
