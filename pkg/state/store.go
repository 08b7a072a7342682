// Package state содержит общее состояние приложения софтфона.
//
// Store - единственный источник истины для слоя представления:
// статус регистрации, сводка текущего вызова и журнал вызовов.
// Мутации выполняются только через узкие интерфейсы RegistrationUpdater
// (менеджер регистрации) и CallUpdater (менеджер вызовов) частичными
// обновлениями. Каждое обновление атомарно с точки зрения наблюдателей.
package state

import (
	"sync"
	"time"

	"github.com/arzzra/voip_client/pkg/history"
)

// RegistrationState состояние подключения и регистрации
type RegistrationState int

const (
	// RegistrationDisconnected - нет соединения с сервером
	RegistrationDisconnected RegistrationState = iota
	// RegistrationConnecting - транспорт устанавливается
	RegistrationConnecting
	// RegistrationConnected - транспорт установлен, регистрации нет
	RegistrationConnected
	// RegistrationRegistered - идентичность зарегистрирована
	RegistrationRegistered
	// RegistrationFailed - сервер отверг регистрацию или обновление
	RegistrationFailed
)

// String возвращает строковое представление состояния регистрации
func (s RegistrationState) String() string {
	switch s {
	case RegistrationDisconnected:
		return "Disconnected"
	case RegistrationConnecting:
		return "Connecting"
	case RegistrationConnected:
		return "Connected"
	case RegistrationRegistered:
		return "Registered"
	case RegistrationFailed:
		return "RegistrationFailed"
	default:
		return "Unknown"
	}
}

// StatusReady текст статуса в состоянии покоя
const StatusReady = "Ready"

// Snapshot неизменяемый срез состояния приложения.
//
// Слой представления читает только Snapshot и никогда не пишет в Store.
type Snapshot struct {
	Registration  RegistrationState
	IsConnected   bool
	IsRegistered  bool
	IsCalling     bool
	IsInCall      bool
	CallStatus    string
	IsMuted       bool
	IsOnHold      bool
	CallerNumber  string
	CallStartTime time.Time
	Calls         []history.CallRecord
}

// CallDuration возвращает текущую длительность активного вызова в секундах
func (s Snapshot) CallDuration(now time.Time) int {
	if !s.IsInCall || s.CallStartTime.IsZero() {
		return 0
	}
	return int(now.Sub(s.CallStartTime) / time.Second)
}

// RegistrationUpdate частичное обновление полей регистрации.
// nil-поля не изменяются.
type RegistrationUpdate struct {
	Registration *RegistrationState
	IsConnected  *bool
	IsRegistered *bool
	CallStatus   *string
}

// CallUpdate частичное обновление полей вызова. nil-поля не изменяются.
type CallUpdate struct {
	IsCalling     *bool
	IsInCall      *bool
	CallStatus    *string
	IsMuted       *bool
	IsOnHold      *bool
	CallerNumber  *string
	CallStartTime *time.Time
}

// RegistrationUpdater интерфейс записи для менеджера регистрации
type RegistrationUpdater interface {
	ApplyRegistration(u RegistrationUpdate)
}

// CallUpdater интерфейс записи для менеджера вызовов
type CallUpdater interface {
	ApplyCall(u CallUpdate)
}

// HistoryWriter интерфейс записи журнала вызовов
type HistoryWriter interface {
	AppendCall(rec history.CallRecord)
	ResetCalls(calls []history.CallRecord)
}

// Store хранилище состояния приложения.
//
// Инициализируется безопасными значениями по умолчанию: Disconnected,
// статус "Ready", пустой журнал.
type Store struct {
	mu          sync.RWMutex
	snap        Snapshot
	subscribers []func(Snapshot)
}

// NewStore создает Store с состоянием по умолчанию
func NewStore() *Store {
	return &Store{
		snap: Snapshot{
			Registration: RegistrationDisconnected,
			CallStatus:   StatusReady,
			Calls:        []history.CallRecord{},
		},
	}
}

// Snapshot возвращает копию текущего состояния
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copySnapshotLocked()
}

// Subscribe регистрирует наблюдателя изменений состояния.
// Наблюдатель получает полный Snapshot после каждого обновления.
func (s *Store) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// ApplyRegistration применяет частичное обновление полей регистрации
func (s *Store) ApplyRegistration(u RegistrationUpdate) {
	s.mu.Lock()
	if u.Registration != nil {
		s.snap.Registration = *u.Registration
	}
	if u.IsConnected != nil {
		s.snap.IsConnected = *u.IsConnected
	}
	if u.IsRegistered != nil {
		s.snap.IsRegistered = *u.IsRegistered
	}
	if u.CallStatus != nil {
		s.snap.CallStatus = *u.CallStatus
	}
	snap := s.copySnapshotLocked()
	subs := s.subscribers
	s.mu.Unlock()

	notify(subs, snap)
}

// ApplyCall применяет частичное обновление полей вызова
func (s *Store) ApplyCall(u CallUpdate) {
	s.mu.Lock()
	if u.IsCalling != nil {
		s.snap.IsCalling = *u.IsCalling
	}
	if u.IsInCall != nil {
		s.snap.IsInCall = *u.IsInCall
	}
	if u.CallStatus != nil {
		s.snap.CallStatus = *u.CallStatus
	}
	if u.IsMuted != nil {
		s.snap.IsMuted = *u.IsMuted
	}
	if u.IsOnHold != nil {
		s.snap.IsOnHold = *u.IsOnHold
	}
	if u.CallerNumber != nil {
		s.snap.CallerNumber = *u.CallerNumber
	}
	if u.CallStartTime != nil {
		s.snap.CallStartTime = *u.CallStartTime
	}
	snap := s.copySnapshotLocked()
	subs := s.subscribers
	s.mu.Unlock()

	notify(subs, snap)
}

// AppendCall добавляет запись в голову журнала состояния
func (s *Store) AppendCall(rec history.CallRecord) {
	s.mu.Lock()
	s.snap.Calls = append([]history.CallRecord{rec}, s.snap.Calls...)
	snap := s.copySnapshotLocked()
	subs := s.subscribers
	s.mu.Unlock()

	notify(subs, snap)
}

// ResetCalls заменяет журнал целиком (загрузка при старте или очистка)
func (s *Store) ResetCalls(calls []history.CallRecord) {
	s.mu.Lock()
	s.snap.Calls = make([]history.CallRecord, len(calls))
	copy(s.snap.Calls, calls)
	snap := s.copySnapshotLocked()
	subs := s.subscribers
	s.mu.Unlock()

	notify(subs, snap)
}

func (s *Store) copySnapshotLocked() Snapshot {
	snap := s.snap
	snap.Calls = make([]history.CallRecord, len(s.snap.Calls))
	copy(snap.Calls, s.snap.Calls)
	return snap
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Хелперы для построения частичных обновлений

// Bool упаковывает bool для частичного обновления
func Bool(v bool) *bool { return &v }

// String упаковывает строку для частичного обновления
func String(v string) *string { return &v }

// Time упаковывает время для частичного обновления
func Time(v time.Time) *time.Time { return &v }

// Registration упаковывает состояние регистрации для частичного обновления
func Registration(v RegistrationState) *RegistrationState { return &v }
