package softphone

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/voip_client/pkg/history"
)

// UnknownIdentity подставляется вместо пустого идентификатора
// удаленной стороны
const UnknownIdentity = "Unknown"

// SessionState состояние жизненного цикла сессии вызова
type SessionState string

const (
	// SessionStateInitial - сессия создана, установление не завершено
	SessionStateInitial SessionState = "initial"
	// SessionStateEstablished - сессия установлена
	SessionStateEstablished SessionState = "established"
	// SessionStateTerminated - терминальное состояние, переходов из него нет
	SessionStateTerminated SessionState = "terminated"
)

// CallSession одна сессия вызова от создания до завершения.
//
// Жизненный цикл монотонный: initial -> established -> terminated,
// без регрессий. Направление неизменяемо после создания. Поле
// startedAt проставляется ровно один раз - при переходе в
// established; если сессия так и не была установлена, остается
// нулевым.
//
// У сессии всегда ровно один наблюдатель жизненного цикла,
// зарегистрированный при создании. Принятие входящего вызова мутирует
// тот же экземпляр, а не создает второй наблюдатель.
type CallSession struct {
	id        string
	direction history.Direction
	remote    string
	handle    SessionHandle

	machine   *fsm.FSM
	createdAt time.Time
	startedAt time.Time
}

// newCallSession создает сессию в состоянии initial
func newCallSession(direction history.Direction, remote string, handle SessionHandle) *CallSession {
	if remote == "" {
		remote = UnknownIdentity
	}

	s := &CallSession{
		id:        uuid.NewString(),
		direction: direction,
		remote:    remote,
		handle:    handle,
		createdAt: time.Now(),
	}

	s.machine = fsm.NewFSM(
		string(SessionStateInitial),
		fsm.Events{
			// Установление сессии
			{Name: "establish", Src: []string{string(SessionStateInitial)}, Dst: string(SessionStateEstablished)},
			// Завершение из любого нетерминального состояния
			{Name: "terminate", Src: []string{string(SessionStateInitial), string(SessionStateEstablished)}, Dst: string(SessionStateTerminated)},
		},
		fsm.Callbacks{},
	)

	return s
}

// ID возвращает идентификатор сессии
func (s *CallSession) ID() string {
	return s.id
}

// Direction возвращает направление сессии
func (s *CallSession) Direction() history.Direction {
	return s.direction
}

// Remote возвращает идентификатор удаленной стороны
func (s *CallSession) Remote() string {
	return s.remote
}

// State возвращает текущее состояние жизненного цикла
func (s *CallSession) State() SessionState {
	return SessionState(s.machine.Current())
}

// StartedAt возвращает момент установления (нулевое время, если сессия
// не была установлена)
func (s *CallSession) StartedAt() time.Time {
	return s.startedAt
}

// markEstablished переводит сессию в established и проставляет
// startedAt. Повторный вызов и вызов из terminated возвращают ошибку
// без побочных эффектов.
func (s *CallSession) markEstablished(now time.Time) error {
	if err := s.machine.Event(context.Background(), "establish"); err != nil {
		return err
	}
	s.startedAt = now
	return nil
}

// markTerminated переводит сессию в терминальное состояние
func (s *CallSession) markTerminated() error {
	return s.machine.Event(context.Background(), "terminate")
}

// Outcome классифицирует терминальный исход сессии.
//
// Единое правило для всех путей завершения: completed тогда и только
// тогда, когда сессия была установлена хотя бы раз (startedAt
// проставлен); иначе rejected.
func (s *CallSession) Outcome() history.Outcome {
	if !s.startedAt.IsZero() {
		return history.OutcomeCompleted
	}
	return history.OutcomeRejected
}

// durationSeconds возвращает длительность в целых секундах на момент now
func (s *CallSession) durationSeconds(now time.Time) int {
	if s.startedAt.IsZero() {
		return 0
	}
	return int(now.Sub(s.startedAt) / time.Second)
}

// record формирует запись журнала для указанного исхода.
// Длительность присутствует только при исходе completed.
func (s *CallSession) record(outcome history.Outcome, now time.Time) history.CallRecord {
	rec := history.CallRecord{
		Number:    s.remote,
		Direction: s.direction,
		Outcome:   outcome,
		Timestamp: now,
	}
	if outcome == history.OutcomeCompleted {
		rec.Duration = history.DurationOf(s.durationSeconds(now))
	}
	return rec
}
