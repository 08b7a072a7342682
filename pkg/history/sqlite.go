package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore хранилище журнала вызовов на SQLite.
//
// Порядок вставки фиксируется автоинкрементным столбцом seq,
// поэтому перезагруженный журнал сохраняет видимый порядок
// независимо от значений Timestamp.
type SQLiteStore struct {
	db *sql.DB
}

const createCallHistoryTable = `CREATE TABLE IF NOT EXISTS call_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	number TEXT NOT NULL,
	direction TEXT NOT NULL,
	outcome TEXT NOT NULL,
	timestamp_ns INTEGER NOT NULL,
	duration INTEGER
)`

// NewSQLiteStore открывает (или создает) базу журнала по указанному пути.
//
// Для тестов можно передать ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы журнала: %w", err)
	}

	if _, err := db.Exec(createCallHistoryTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы журнала: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append добавляет запись в конец таблицы
func (s *SQLiteStore) Append(rec CallRecord) error {
	var duration sql.NullInt64
	if rec.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*rec.Duration), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO call_history (id, number, direction, outcome, timestamp_ns, duration)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Number, string(rec.Direction), string(rec.Outcome),
		rec.Timestamp.UnixNano(), duration,
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки записи вызова: %w", err)
	}
	return nil
}

// LoadAll возвращает весь журнал, новые записи первыми
func (s *SQLiteStore) LoadAll() ([]CallRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, number, direction, outcome, timestamp_ns, duration
		 FROM call_history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	calls := make([]CallRecord, 0, 16)
	for rows.Next() {
		var (
			rec         CallRecord
			direction   string
			outcome     string
			timestampNs int64
			duration    sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Number, &direction, &outcome, &timestampNs, &duration); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи журнала: %w", err)
		}
		rec.Direction = Direction(direction)
		rec.Outcome = Outcome(outcome)
		rec.Timestamp = time.Unix(0, timestampNs)
		if duration.Valid {
			d := int(duration.Int64)
			rec.Duration = &d
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка обхода журнала: %w", err)
	}
	return calls, nil
}

// Clear удаляет все записи журнала
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM call_history`); err != nil {
		return fmt.Errorf("ошибка очистки журнала: %w", err)
	}
	return nil
}

// Close закрывает базу
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
