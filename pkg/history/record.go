package history

import (
	"time"
)

// Direction направление вызова.
type Direction string

const (
	// DirectionIncoming - входящий вызов от удаленной стороны
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing - исходящий вызов к удаленной стороне
	DirectionOutgoing Direction = "outgoing"
)

// String возвращает строковое представление направления
func (d Direction) String() string {
	return string(d)
}

// Outcome терминальная классификация вызова для журнала истории.
type Outcome string

const (
	// OutcomeCompleted - вызов был установлен и завершен нормально
	OutcomeCompleted Outcome = "completed"
	// OutcomeMissed - входящий вызов не был отвечен за отведенное время
	OutcomeMissed Outcome = "missed"
	// OutcomeRejected - вызов завершился, так и не будучи установленным
	OutcomeRejected Outcome = "rejected"
	// OutcomeInProgress - вызов был активен в момент фиксации записи
	OutcomeInProgress Outcome = "in-progress"
)

// String возвращает строковое представление исхода
func (o Outcome) String() string {
	return string(o)
}

// CallRecord запись журнала вызовов.
//
// Запись неизменяема после создания. Поле Duration (в секундах)
// заполнено тогда и только тогда, когда Outcome == OutcomeCompleted.
type CallRecord struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Direction Direction `json:"direction"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
	Duration  *int      `json:"duration,omitempty"`
}

// HasDuration проверяет, определена ли длительность записи
func (r CallRecord) HasDuration() bool {
	return r.Duration != nil
}

// DurationSeconds возвращает длительность в секундах (0 если не определена)
func (r CallRecord) DurationSeconds() int {
	if r.Duration == nil {
		return 0
	}
	return *r.Duration
}

// DurationOf упаковывает длительность в указатель для CallRecord
func DurationOf(seconds int) *int {
	return &seconds
}
