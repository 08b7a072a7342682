package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/voip_client/pkg/state"
)

// Тексты статуса стадий регистрации
const (
	StatusRegistrationFailed = "Registration failed"
	StatusConnectionFailed   = "Connection failed"
)

// DefaultRefreshInterval период обновления регистрации
const DefaultRefreshInterval = 5 * time.Minute

// RegistrationManager владеет жизненным циклом регистрации на
// SIP-сервере: установление транспорта, начальная регистрация,
// периодическое обновление и снятие регистрации при остановке.
//
// Обновление продолжает выполняться по каждому тику независимо от
// исхода предыдущих попыток: временный сбой сервера не оставляет
// регистрацию протухшей навсегда.
type RegistrationManager struct {
	mu sync.Mutex

	transport SignalingTransport
	store     state.RegistrationUpdater
	log       StructuredLogger
	metrics   *Metrics

	refreshInterval time.Duration

	registration RegistrationHandle
	cancel       context.CancelFunc
	done         chan struct{}
	started      bool
}

// RegistrationOption опция конфигурации RegistrationManager
type RegistrationOption func(*RegistrationManager)

// WithRegistrationLogger устанавливает логгер менеджера регистрации
func WithRegistrationLogger(log StructuredLogger) RegistrationOption {
	return func(m *RegistrationManager) { m.log = log }
}

// WithRegistrationMetrics подключает сборщик метрик
func WithRegistrationMetrics(metrics *Metrics) RegistrationOption {
	return func(m *RegistrationManager) { m.metrics = metrics }
}

// WithRefreshInterval устанавливает период обновления регистрации
func WithRefreshInterval(d time.Duration) RegistrationOption {
	return func(m *RegistrationManager) {
		if d > 0 {
			m.refreshInterval = d
		}
	}
}

// NewRegistrationManager создает менеджер регистрации
func NewRegistrationManager(transport SignalingTransport, store state.RegistrationUpdater, opts ...RegistrationOption) *RegistrationManager {
	m := &RegistrationManager{
		transport:       transport,
		store:           store,
		log:             GetDefaultLogger().WithComponent("registration"),
		refreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize устанавливает транспорт и регистрирует идентичность.
//
// Последовательность состояний: Connecting, Connected, Registered.
// Сбой транспорта и отказ регистрации различимы и по состоянию, и по
// категории ошибки. При успехе запускается цикл периодического
// обновления.
func (m *RegistrationManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrInvalidCallState("initialize", "регистрация уже инициализирована")
	}

	m.store.ApplyRegistration(state.RegistrationUpdate{
		Registration: state.Registration(state.RegistrationConnecting),
		IsConnected:  state.Bool(false),
		IsRegistered: state.Bool(false),
	})

	if err := m.transport.Start(ctx); err != nil {
		cerr := ErrConnectionFailed(err)
		m.log.LogError(cerr, "не удалось установить транспорт")
		m.store.ApplyRegistration(state.RegistrationUpdate{
			Registration: state.Registration(state.RegistrationFailed),
			IsConnected:  state.Bool(false),
			IsRegistered: state.Bool(false),
			CallStatus:   state.String(StatusConnectionFailed),
		})
		return cerr
	}

	m.store.ApplyRegistration(state.RegistrationUpdate{
		Registration: state.Registration(state.RegistrationConnected),
		IsConnected:  state.Bool(true),
	})

	reg, err := m.transport.Register(ctx)
	m.metrics.RegistrationAttempt("initial", err)
	if err != nil {
		rerr := ErrRegistrationFailed(err)
		m.log.LogError(rerr, "сервер отверг регистрацию")
		m.store.ApplyRegistration(state.RegistrationUpdate{
			Registration: state.Registration(state.RegistrationFailed),
			IsRegistered: state.Bool(false),
			CallStatus:   state.String(StatusRegistrationFailed),
		})
		return rerr
	}

	m.registration = reg
	m.started = true
	m.log.Info("регистрация установлена",
		Duration("refresh_interval", m.refreshInterval))

	m.store.ApplyRegistration(state.RegistrationUpdate{
		Registration: state.Registration(state.RegistrationRegistered),
		IsRegistered: state.Bool(true),
		CallStatus:   state.String(state.StatusReady),
	})

	refreshCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.refreshLoop(refreshCtx, reg)

	return nil
}

// refreshLoop периодически обновляет регистрацию до остановки.
// Сбой одной попытки переводит состояние в Failed, но цикл продолжает
// работать: успешная следующая попытка возвращает Registered.
func (m *RegistrationManager) refreshLoop(ctx context.Context, reg RegistrationHandle) {
	defer close(m.done)

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := reg.Refresh(ctx)
			m.metrics.RegistrationAttempt("refresh", err)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.LogError(ErrRegistrationFailed(err), "обновление регистрации не удалось")
				m.store.ApplyRegistration(state.RegistrationUpdate{
					Registration: state.Registration(state.RegistrationFailed),
					IsRegistered: state.Bool(false),
					CallStatus:   state.String(StatusRegistrationFailed),
				})
				continue
			}
			m.log.Debug("регистрация обновлена")
			m.store.ApplyRegistration(state.RegistrationUpdate{
				Registration: state.Registration(state.RegistrationRegistered),
				IsRegistered: state.Bool(true),
			})
		}
	}
}

// IsRegistered сообщает, активна ли регистрация
func (m *RegistrationManager) IsRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Shutdown снимает регистрацию и останавливает цикл обновления.
// Ошибки отдельных шагов логируются, но не прерывают остальные:
// каждый ресурс освобождается независимо. Повторные вызовы и вызов
// без предшествующей инициализации безвредны.
func (m *RegistrationManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	m.started = false

	m.cancel()
	<-m.done

	if err := m.registration.Unregister(ctx); err != nil {
		m.log.LogError(err, "снятие регистрации не удалось")
	}
	m.registration = nil

	m.store.ApplyRegistration(state.RegistrationUpdate{
		Registration: state.Registration(state.RegistrationDisconnected),
		IsConnected:  state.Bool(false),
		IsRegistered: state.Bool(false),
	})

	m.log.Info("регистрация остановлена")
}
