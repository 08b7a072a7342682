package softphone

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/voip_client/pkg/history"
	"github.com/arzzra/voip_client/pkg/state"
)

// Тексты статуса, видимые слою представления
const (
	StatusCalling        = "Calling..."
	StatusInCall         = "In call"
	StatusCallFailed     = "Call failed"
	StatusIncomingPrefix = "Incoming call from "
)

// DefaultAnswerTimeout время ожидания ответа пользователя на входящее
// приглашение до автоматического игнорирования
const DefaultAnswerTimeout = 30 * time.Second

// CallManager владеет единственным слотом активного вызова и
// единственным слотом ожидающего входящего приглашения.
//
// Все операции и все события транспорта сериализуются одним мьютексом
// и выполняются до конца перед обработкой следующего события:
// наблюдатели никогда не видят частично примененную мутацию.
// Ограничения "не более одной активной сессии" и "не более одного
// ожидающего приглашения" обеспечиваются проверками предусловий перед
// созданием, а не блокировками слотов.
type CallManager struct {
	mu sync.Mutex

	transport SignalingTransport
	notifier  AudioNotifier
	store     state.CallUpdater
	recorder  *history.Recorder
	log       StructuredLogger
	metrics   *Metrics

	clock         func() time.Time
	answerTimeout time.Duration

	// Слоты. В любой момент существует не более одной сессии в каждом.
	session    *CallSession // активный или устанавливаемый вызов
	invitation *CallSession // входящее приглашение до решения пользователя

	answerTimer *time.Timer
	muted       bool
	onHold      bool
	closed      bool
}

// NewCallManager создает менеджер вызовов
func NewCallManager(transport SignalingTransport, notifier AudioNotifier, store state.CallUpdater, recorder *history.Recorder, opts ...CallManagerOption) *CallManager {
	m := &CallManager{
		transport:     transport,
		notifier:      notifier,
		store:         store,
		recorder:      recorder,
		log:           GetDefaultLogger().WithComponent("calls"),
		clock:         time.Now,
		answerTimeout: DefaultAnswerTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CallManagerOption опция конфигурации CallManager
type CallManagerOption func(*CallManager)

// WithCallLogger устанавливает логгер менеджера вызовов
func WithCallLogger(log StructuredLogger) CallManagerOption {
	return func(m *CallManager) { m.log = log }
}

// WithCallMetrics подключает сборщик метрик
func WithCallMetrics(metrics *Metrics) CallManagerOption {
	return func(m *CallManager) { m.metrics = metrics }
}

// WithAnswerTimeout устанавливает таймаут ответа на входящее приглашение
func WithAnswerTimeout(d time.Duration) CallManagerOption {
	return func(m *CallManager) {
		if d > 0 {
			m.answerTimeout = d
		}
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(clock func() time.Time) CallManagerOption {
	return func(m *CallManager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// PlaceCall инициирует исходящий вызов на указанный номер.
//
// Пустой номер или отсутствующий транспорт: возврат без побочных
// эффектов. Ошибка отправки приглашения возвращает состояние вызова к
// "Call failed" без создания записи журнала.
func (m *CallManager) PlaceCall(ctx context.Context, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if number == "" || m.transport == nil || m.closed {
		return nil
	}
	if m.session != nil {
		return ErrInvalidCallState("place_call", "вызов уже существует")
	}
	if m.invitation != nil {
		return ErrInvalidCallState("place_call", "есть ожидающее входящее приглашение")
	}

	m.store.ApplyCall(state.CallUpdate{
		IsCalling:    state.Bool(true),
		CallStatus:   state.String(StatusCalling),
		CallerNumber: state.String(number),
	})

	handle, err := m.transport.Invite(ctx, number)
	if err != nil {
		perr := ErrCallPlacementFailed(number, err)
		m.log.LogError(perr, "исходящий вызов не инициирован")
		m.store.ApplyCall(state.CallUpdate{
			IsCalling:  state.Bool(false),
			CallStatus: state.String(StatusCallFailed),
		})
		return perr
	}

	s := newCallSession(history.DirectionOutgoing, number, handle)
	m.session = s
	m.log.Info("исходящий вызов инициирован",
		String("session_id", s.ID()), String("target", number))
	m.metrics.CallPlaced(history.DirectionOutgoing)

	// Единственный наблюдатель жизненного цикла, регистрируется один раз
	handle.OnEvent(func(ev SessionEvent) {
		m.handleSessionEvent(s, ev)
	})
	return nil
}

// HandleIncomingInvite обрабатывает входящее приглашение от транспорта.
//
// Вызывается сигнальным транспортом, не пользователем. Если слот
// приглашения или слот вызова занят, новое приглашение отклоняется
// немедленно, состояние не меняется.
func (m *CallManager) HandleIncomingInvite(handle SessionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.invitation != nil || m.session != nil {
		// Занято: отклоняем, не трогая существующие слоты
		if err := handle.Reject(context.Background()); err != nil {
			m.log.LogError(err, "не удалось отклонить приглашение при занятой линии")
		}
		return
	}

	remote := handle.RemoteIdentity()
	s := newCallSession(history.DirectionIncoming, remote, handle)
	m.invitation = s
	m.metrics.CallPlaced(history.DirectionIncoming)

	m.log.Info("входящее приглашение",
		String("session_id", s.ID()), String("remote", s.Remote()))

	m.notifier.PlayRingtone()
	m.store.ApplyCall(state.CallUpdate{
		IsCalling:    state.Bool(true),
		CallStatus:   state.String(StatusIncomingPrefix + s.Remote()),
		CallerNumber: state.String(s.Remote()),
	})

	// Явная отложенная задача: неотвеченное приглашение игнорируется
	// автоматически с исходом missed
	m.answerTimer = time.AfterFunc(m.answerTimeout, func() {
		m.expireInvitation(s)
	})

	handle.OnEvent(func(ev SessionEvent) {
		m.handleSessionEvent(s, ev)
	})
}

// AcceptIncomingCall принимает ожидающее входящее приглашение.
//
// При успехе приглашение продвигается в активную сессию: мутируется
// тот же экземпляр, второй наблюдатель не навешивается. При ошибке
// транспорта статус сбрасывается в "Ready" без записи журнала:
// приглашение остается в слоте и будет зафиксировано собственным
// наблюдателем, когда транспорт его завершит.
func (m *CallManager) AcceptIncomingCall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invitation == nil || m.invitation.State() != SessionStateInitial {
		return ErrInvalidCallState("accept", "нет ожидающего приглашения")
	}

	s := m.invitation
	if err := s.handle.Accept(ctx); err != nil {
		m.log.LogError(err, "не удалось принять входящий вызов",
			String("session_id", s.ID()))
		m.store.ApplyCall(state.CallUpdate{
			IsCalling:  state.Bool(false),
			CallStatus: state.String(state.StatusReady),
		})
		return ErrCallTerminationFailed("accept", err)
	}

	m.promoteInvitationLocked(s)
	return nil
}

// promoteInvitationLocked продвигает приглашение в активную сессию.
// Вызывается с удерживаемым мьютексом.
func (m *CallManager) promoteInvitationLocked(s *CallSession) {
	m.stopAnswerTimerLocked()
	m.notifier.StopRingtone()

	m.session = s
	m.invitation = nil

	now := m.clock()
	if err := s.markEstablished(now); err != nil {
		m.log.LogError(err, "ошибка перехода приглашения в established",
			String("session_id", s.ID()))
	}
	m.metrics.CallEstablished()

	m.log.Info("входящий вызов принят", String("session_id", s.ID()))
	m.store.ApplyCall(state.CallUpdate{
		IsCalling:     state.Bool(false),
		IsInCall:      state.Bool(true),
		CallStatus:    state.String(StatusInCall),
		IsMuted:       state.Bool(false),
		IsOnHold:      state.Bool(false),
		CallStartTime: state.Time(now),
	})
	m.muted = false
	m.onHold = false
}

// RejectIncomingCall отклоняет ожидающее входящее приглашение.
//
// Ошибка транспорта логируется и не прерывает локальную очистку:
// рингтон остановлен, слот очищен, запись с исходом rejected создана.
func (m *CallManager) RejectIncomingCall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejectInvitationLocked(ctx, history.OutcomeRejected)
}

// IgnoreIncomingCall игнорирует ожидающее входящее приглашение.
//
// Отдельное пользовательское действие с эффектом, идентичным
// RejectIncomingCall. Известная избыточность исходного дизайна,
// сохраненная намеренно.
func (m *CallManager) IgnoreIncomingCall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejectInvitationLocked(ctx, history.OutcomeRejected)
}

// rejectInvitationLocked отклоняет приглашение с указанным исходом.
// Вызывается с удерживаемым мьютексом.
func (m *CallManager) rejectInvitationLocked(ctx context.Context, outcome history.Outcome) error {
	if m.invitation == nil || m.invitation.State() != SessionStateInitial {
		return ErrInvalidCallState("reject", "нет ожидающего приглашения")
	}

	s := m.invitation
	if err := s.handle.Reject(ctx); err != nil {
		// Очистка выполняется независимо от исхода транспортной операции
		m.log.LogError(ErrCallTerminationFailed("reject", err),
			"отклонение приглашения на транспортном уровне не удалось",
			String("session_id", s.ID()))
	}

	m.finishInvitationLocked(s, outcome)
	return nil
}

// expireInvitation срабатывает по таймеру неотвеченного приглашения
func (m *CallManager) expireInvitation(s *CallSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Приглашение могло быть принято, отклонено или отменено, пока
	// таймер ждал своей очереди на мьютексе
	if m.invitation != s || s.State() != SessionStateInitial {
		return
	}

	m.log.Info("приглашение не отвечено, автоигнорирование",
		String("session_id", s.ID()), Duration("timeout", m.answerTimeout))

	if err := s.handle.Reject(context.Background()); err != nil {
		m.log.LogError(err, "не удалось отклонить неотвеченное приглашение",
			String("session_id", s.ID()))
	}
	m.finishInvitationLocked(s, history.OutcomeMissed)
}

// finishInvitationLocked завершает приглашение: останавливает рингтон
// и таймер, фиксирует ровно одну запись журнала, очищает слот и
// возвращает статус к "Ready". Вызывается с удерживаемым мьютексом.
func (m *CallManager) finishInvitationLocked(s *CallSession, outcome history.Outcome) {
	m.stopAnswerTimerLocked()
	m.notifier.StopRingtone()

	if err := s.markTerminated(); err != nil {
		m.log.Debug("приглашение уже в терминальном состоянии",
			String("session_id", s.ID()))
	}
	m.invitation = nil

	now := m.clock()
	rec := m.recorder.Record(s.record(outcome, now))
	m.metrics.CallFinished(s.Direction(), outcome, 0)

	m.log.Info("входящее приглашение завершено",
		String("session_id", s.ID()),
		String("outcome", outcome.String()),
		String("record_id", rec.ID))

	m.store.ApplyCall(state.CallUpdate{
		IsCalling:    state.Bool(false),
		CallStatus:   state.String(state.StatusReady),
		CallerNumber: state.String(""),
	})
}

// EndCall завершает текущий вызов в любом его состоянии.
//
// Ветвление по тому, что существует: ожидающее приглашение
// отклоняется; установленная сессия завершается bye; исходящая
// неустановленная отменяется cancel; входящая неустановленная
// отклоняется. Во всех ветках после транспортной операции (успешной
// или нет) слот безусловно очищается, статус сбрасывается к "Ready",
// флаги mute/hold снимаются, и создается ровно одна запись журнала.
// Вызов без существующей сессии оставляет поля в значениях покоя и не
// создает запись.
func (m *CallManager) EndCall(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ожидающее, еще не принятое приглашение
	if m.invitation != nil && m.invitation.State() == SessionStateInitial {
		_ = m.rejectInvitationLocked(ctx, history.OutcomeRejected)
		return
	}

	if m.session == nil {
		// Идемпотентность: состояние приводится к значениям покоя
		m.resetCallStateLocked()
		return
	}

	s := m.session
	var err error
	var op string
	switch {
	case s.State() == SessionStateEstablished:
		op = "bye"
		err = s.handle.Bye(ctx)
	case s.Direction() == history.DirectionOutgoing:
		op = "cancel"
		err = s.handle.Cancel(ctx)
	default:
		op = "reject"
		err = s.handle.Reject(ctx)
	}
	if err != nil {
		// Ошибка завершения не распространяется: локальное состояние
		// не должно застрять в отражении незавершаемой операции
		m.log.LogError(ErrCallTerminationFailed(op, err),
			"завершение вызова на транспортном уровне не удалось",
			String("session_id", s.ID()))
	}

	m.finishSessionLocked(s)
}

// handleSessionEvent единая точка диспетчеризации событий транспорта.
// События одной сессии обрабатываются в порядке доставки.
func (m *CallManager) handleSessionEvent(s *CallSession, ev SessionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Сессия, уже вынутая из слотов, зафиксирована ранее: поздние
	// события игнорируются, чтобы не продублировать запись журнала
	active := s == m.session
	pending := s == m.invitation
	if !active && !pending {
		return
	}

	switch ev {
	case SessionEventEstablished:
		m.handleEstablishedLocked(s, pending)
	case SessionEventTerminated:
		if pending {
			// Удаленная сторона отменила приглашение до решения
			// пользователя: исход rejected, сессия не была установлена
			m.log.Info("приглашение отменено удаленной стороной",
				String("session_id", s.ID()))
			m.finishInvitationLocked(s, history.OutcomeRejected)
			return
		}
		m.log.Info("вызов завершен удаленной стороной",
			String("session_id", s.ID()))
		m.finishSessionLocked(s)
	}
}

// handleEstablishedLocked обрабатывает событие установления сессии
func (m *CallManager) handleEstablishedLocked(s *CallSession, pending bool) {
	if s.State() != SessionStateInitial {
		// Уже установлена локальным принятием
		return
	}

	if pending {
		// Установление без локального принятия: продвигаем приглашение
		m.promoteInvitationLocked(s)
		return
	}

	now := m.clock()
	if err := s.markEstablished(now); err != nil {
		m.log.LogError(err, "ошибка перехода сессии в established",
			String("session_id", s.ID()))
		return
	}
	m.metrics.CallEstablished()

	m.log.Info("вызов установлен", String("session_id", s.ID()))
	m.store.ApplyCall(state.CallUpdate{
		IsCalling:     state.Bool(false),
		IsInCall:      state.Bool(true),
		CallStatus:    state.String(StatusInCall),
		IsMuted:       state.Bool(false),
		IsOnHold:      state.Bool(false),
		CallStartTime: state.Time(now),
	})
	m.muted = false
	m.onHold = false
}

// finishSessionLocked фиксирует терминальный исход активной сессии:
// одна запись журнала, очистка слота, сброс состояния к "Ready".
// Вызывается с удерживаемым мьютексом.
func (m *CallManager) finishSessionLocked(s *CallSession) {
	now := m.clock()
	outcome := s.Outcome()
	duration := s.durationSeconds(now)

	if err := s.markTerminated(); err != nil {
		m.log.Debug("сессия уже в терминальном состоянии",
			String("session_id", s.ID()))
	}
	m.session = nil

	rec := m.recorder.Record(s.record(outcome, now))
	m.metrics.CallFinished(s.Direction(), outcome, duration)

	m.log.Info("вызов завершен",
		String("session_id", s.ID()),
		String("outcome", outcome.String()),
		Int("duration_sec", duration),
		String("record_id", rec.ID))

	m.resetCallStateLocked()
}

// resetCallStateLocked возвращает поля вызова к значениям покоя
func (m *CallManager) resetCallStateLocked() {
	m.muted = false
	m.onHold = false
	m.store.ApplyCall(state.CallUpdate{
		IsCalling:     state.Bool(false),
		IsInCall:      state.Bool(false),
		CallStatus:    state.String(state.StatusReady),
		IsMuted:       state.Bool(false),
		IsOnHold:      state.Bool(false),
		CallerNumber:  state.String(""),
		CallStartTime: state.Time(time.Time{}),
	})
}

// ToggleMute переключает флаг mute текущего вызова.
// Без активной сессии - no-op. Медиа-эффект делегирован транспорту.
func (m *CallManager) ToggleMute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	m.muted = !m.muted
	m.store.ApplyCall(state.CallUpdate{IsMuted: state.Bool(m.muted)})
}

// ToggleHold переключает флаг hold текущего вызова.
// Без активной сессии - no-op.
func (m *CallManager) ToggleHold() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	m.onHold = !m.onHold
	m.store.ApplyCall(state.CallUpdate{IsOnHold: state.Bool(m.onHold)})
}

// HasActiveSession сообщает, существует ли активная сессия
func (m *CallManager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// HasPendingInvitation сообщает, существует ли ожидающее приглашение
func (m *CallManager) HasPendingInvitation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invitation != nil
}

// IncomingCallerNumber возвращает номер ожидающего приглашения
// (пустая строка, если приглашения нет)
func (m *CallManager) IncomingCallerNumber() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invitation == nil {
		return ""
	}
	return m.invitation.Remote()
}

// Shutdown завершает менеджер вызовов. Безопасен в любой момент,
// включая вызов в процессе установления: каждый шаг освобождения
// выполняется независимо от успеха предыдущих. Повторные вызовы
// безвредны.
func (m *CallManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.stopAnswerTimerLocked()

	if m.invitation != nil {
		s := m.invitation
		if err := s.handle.Reject(ctx); err != nil {
			m.log.LogError(err, "отклонение приглашения при остановке не удалось",
				String("session_id", s.ID()))
		}
		m.finishInvitationLocked(s, history.OutcomeMissed)
	}

	if m.session != nil {
		s := m.session
		var err error
		if s.State() == SessionStateEstablished {
			err = s.handle.Bye(ctx)
		} else if s.Direction() == history.DirectionOutgoing {
			err = s.handle.Cancel(ctx)
		} else {
			err = s.handle.Reject(ctx)
		}
		if err != nil {
			m.log.LogError(err, "завершение вызова при остановке не удалось",
				String("session_id", s.ID()))
		}

		// Вызов, активный в момент остановки, фиксируется как in-progress
		now := m.clock()
		outcome := s.Outcome()
		if outcome == history.OutcomeCompleted {
			outcome = history.OutcomeInProgress
		}
		if terr := s.markTerminated(); terr != nil {
			m.log.Debug("сессия уже в терминальном состоянии",
				String("session_id", s.ID()))
		}
		m.session = nil
		m.recorder.Record(s.record(outcome, now))
		m.metrics.CallFinished(s.Direction(), outcome, 0)
		m.resetCallStateLocked()
	}

	m.notifier.StopRingtone()
}

// stopAnswerTimerLocked останавливает таймер ответа, если он взведен
func (m *CallManager) stopAnswerTimerLocked() {
	if m.answerTimer != nil {
		m.answerTimer.Stop()
		m.answerTimer = nil
	}
}
