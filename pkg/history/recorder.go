package history

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Store долговременное хранилище журнала вызовов.
//
// Реализация обязана сохранять порядок вставки: LoadAll возвращает
// записи от самой новой к самой старой.
type Store interface {
	// Append добавляет одну запись в хранилище
	Append(rec CallRecord) error
	// LoadAll загружает весь журнал, новые записи первыми
	LoadAll() ([]CallRecord, error)
	// Clear удаляет все записи
	Clear() error
	// Close освобождает ресурсы хранилища
	Close() error
}

// Recorder ведет журнал вызовов в памяти и зеркалирует его в Store.
//
// Новые записи вставляются в голову журнала (самая свежая - первая).
// Порядок определяется моментом вставки, а не полем Timestamp, поэтому
// сдвиг часов не меняет видимый порядок. Ошибки персистентности
// логируются и не прерывают работу.
type Recorder struct {
	mu      sync.RWMutex
	calls   []CallRecord
	store   Store // nil - журнал только в памяти
	logger  *log.Logger
	onAdded func(CallRecord)
}

// RecorderOption опция конфигурации Recorder
type RecorderOption func(*Recorder)

// WithStore подключает долговременное хранилище
func WithStore(store Store) RecorderOption {
	return func(r *Recorder) { r.store = store }
}

// WithLogger устанавливает логгер для ошибок персистентности
func WithLogger(logger *log.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithOnAdded устанавливает callback, вызываемый после каждой вставки
func WithOnAdded(fn func(CallRecord)) RecorderOption {
	return func(r *Recorder) { r.onAdded = fn }
}

// NewRecorder создает новый Recorder
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		calls: make([]CallRecord, 0, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load загружает журнал из хранилища. Вызывается один раз при старте.
func (r *Recorder) Load() error {
	if r.store == nil {
		return nil
	}

	calls, err := r.store.LoadAll()
	if err != nil {
		return fmt.Errorf("ошибка загрузки журнала вызовов: %w", err)
	}

	r.mu.Lock()
	r.calls = calls
	r.mu.Unlock()
	return nil
}

// Record добавляет запись в голову журнала.
//
// Если идентификатор записи пуст, назначается монотонно различимый
// идентификатор на основе текущего времени. Возвращает запись в том
// виде, в котором она была зафиксирована.
func (r *Recorder) Record(rec CallRecord) CallRecord {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.calls = append([]CallRecord{rec}, r.calls...)
	store := r.store
	onAdded := r.onAdded
	r.mu.Unlock()

	if store != nil {
		if err := store.Append(rec); err != nil {
			r.logf("ошибка сохранения записи вызова %s: %v", rec.ID, err)
		}
	}
	if onAdded != nil {
		onAdded(rec)
	}
	return rec
}

// Calls возвращает копию журнала, новые записи первыми
func (r *Recorder) Calls() []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]CallRecord, len(r.calls))
	copy(calls, r.calls)
	return calls
}

// Len возвращает количество записей в журнале
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Clear очищает журнал полностью. Единственная операция,
// переиндексирующая журнал.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.calls = r.calls[:0]
	store := r.store
	r.mu.Unlock()

	if store != nil {
		if err := store.Clear(); err != nil {
			r.logf("ошибка очистки хранилища журнала: %v", err)
		}
	}
}

// Close закрывает подключенное хранилище
func (r *Recorder) Close() error {
	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()

	if store == nil {
		return nil
	}
	return store.Close()
}

func (r *Recorder) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
