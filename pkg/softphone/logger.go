package softphone

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel уровни логирования
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLogLevel разбирает уровень логирования из строки
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Field представляет поле лога
type Field struct {
	Key   string
	Value interface{}
}

// Helpers для создания полей
func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// StructuredLogger интерфейс для структурированного логирования движка
type StructuredLogger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// LogError логирует ошибку с контекстом PhoneError
	LogError(err error, msg string, fields ...Field)

	// Контекстные логгеры
	WithComponent(component string) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level LogLevel)
	IsEnabled(level LogLevel) bool
}

// logEntry структура записи лога
type logEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
}

// DefaultLogger реализация StructuredLogger.
//
// Пишет JSON или текстовые строки в настроенный writer.
type DefaultLogger struct {
	mu         sync.RWMutex
	level      LogLevel
	output     io.Writer
	component  string
	fields     map[string]interface{}
	jsonOutput bool
}

// NewDefaultLogger создает новый логгер с настройками по умолчанию
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		level:      LogLevelInfo,
		output:     os.Stdout,
		fields:     make(map[string]interface{}),
		jsonOutput: true,
	}
}

// NewTextLogger создает логгер с текстовым выводом в указанный writer
func NewTextLogger(out io.Writer, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		output: out,
		fields: make(map[string]interface{}),
	}
}

// SetLevel устанавливает минимальный уровень логирования
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// IsEnabled проверяет, включен ли уровень логирования
func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// WithComponent создает логгер с указанным компонентом
func (l *DefaultLogger) WithComponent(component string) StructuredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &DefaultLogger{
		level:      l.level,
		output:     l.output,
		component:  component,
		fields:     copyFields(l.fields),
		jsonOutput: l.jsonOutput,
	}
}

// WithFields создает логгер с дополнительными полями
func (l *DefaultLogger) WithFields(fields ...Field) StructuredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := copyFields(l.fields)
	for _, f := range fields {
		newFields[f.Key] = f.Value
	}
	return &DefaultLogger{
		level:      l.level,
		output:     l.output,
		component:  l.component,
		fields:     newFields,
		jsonOutput: l.jsonOutput,
	}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.log(LogLevelDebug, msg, nil, fields...)
}

func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.log(LogLevelInfo, msg, nil, fields...)
}

func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.log(LogLevelWarn, msg, nil, fields...)
}

func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.log(LogLevelError, msg, nil, fields...)
}

// LogError логирует ошибку, раскрывая контекст PhoneError
func (l *DefaultLogger) LogError(err error, msg string, fields ...Field) {
	if err == nil {
		l.Error(msg, fields...)
		return
	}

	errorFields := append(fields, Err(err))
	if pe, ok := err.(*PhoneError); ok {
		errorFields = append(errorFields,
			String("error_code", pe.Code),
			String("error_category", string(pe.Category)),
			String("error_severity", string(pe.Severity)),
		)
		for k, v := range pe.Fields {
			errorFields = append(errorFields, Any(k, v))
		}
	}
	l.log(LogLevelError, msg, err, errorFields...)
}

func (l *DefaultLogger) log(level LogLevel, msg string, err error, fields ...Field) {
	if !l.IsEnabled(level) {
		return
	}

	l.mu.RLock()
	output := l.output
	component := l.component
	base := l.fields
	jsonOutput := l.jsonOutput
	l.mu.RUnlock()

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
		Component: component,
	}
	if err != nil {
		entry.Error = err.Error()
		if pe, ok := err.(*PhoneError); ok {
			entry.ErrorCode = pe.Code
		}
	}

	if len(base) > 0 || len(fields) > 0 {
		entry.Fields = copyFields(base)
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	if jsonOutput {
		data, merr := json.Marshal(entry)
		if merr != nil {
			fmt.Fprintf(output, "%s [%s] %s (marshal error: %v)\n",
				entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Message, merr)
			return
		}
		fmt.Fprintln(output, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(entry.Level)
	b.WriteString("]")
	if component != "" {
		b.WriteString(" ")
		b.WriteString(component)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(entry.Message)
	for k, v := range entry.Fields {
		b.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	fmt.Fprintln(output, b.String())
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// NopLogger логгер-заглушка
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...Field)               {}
func (NopLogger) Info(msg string, fields ...Field)                {}
func (NopLogger) Warn(msg string, fields ...Field)                {}
func (NopLogger) Error(msg string, fields ...Field)               {}
func (NopLogger) LogError(err error, msg string, fields ...Field) {}
func (NopLogger) WithComponent(component string) StructuredLogger { return NopLogger{} }
func (NopLogger) WithFields(fields ...Field) StructuredLogger     { return NopLogger{} }
func (NopLogger) SetLevel(level LogLevel)                         {}
func (NopLogger) IsEnabled(level LogLevel) bool                   { return false }

var (
	defaultLogger   StructuredLogger = NewDefaultLogger()
	defaultLoggerMu sync.RWMutex
)

// GetDefaultLogger возвращает глобальный логгер по умолчанию
func GetDefaultLogger() StructuredLogger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger заменяет глобальный логгер по умолчанию
func SetDefaultLogger(l StructuredLogger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if l != nil {
		defaultLogger = l
	}
}
