package softphone

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory категории ошибок движка для классификации
type ErrorCategory string

const (
	// Ошибки транспорта и регистрации
	ErrorCategoryConnection   ErrorCategory = "CONNECTION"
	ErrorCategoryRegistration ErrorCategory = "REGISTRATION"

	// Ошибки вызовов
	ErrorCategoryCall  ErrorCategory = "CALL"
	ErrorCategoryState ErrorCategory = "STATE"

	// Ошибки конфигурации
	ErrorCategoryConfig ErrorCategory = "CONFIG"
)

// String возвращает строковое представление категории
func (ec ErrorCategory) String() string {
	return string(ec)
}

// ErrorSeverity уровни критичности ошибок
type ErrorSeverity string

const (
	ErrorSeverityError   ErrorSeverity = "ERROR"   // Операция не может быть завершена
	ErrorSeverityWarning ErrorSeverity = "WARNING" // Операция может быть продолжена
)

// PhoneError структурированная ошибка движка с контекстом.
//
// Политика распространения: ошибка ловится на границе операции
// менеджера, локальная очистка состояния выполняется всегда,
// независимо от успеха транспортной операции.
type PhoneError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`

	SessionID string                 `json:"session_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
}

// Error реализует интерфейс error
func (e *PhoneError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *PhoneError) Unwrap() error {
	return e.Cause
}

// WithField добавляет дополнительное поле контекста
func (e *PhoneError) WithField(key string, value interface{}) *PhoneError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithCause добавляет исходную ошибку
func (e *PhoneError) WithCause(cause error) *PhoneError {
	e.Cause = cause
	return e
}

// NewPhoneError создает новую структурированную ошибку
func NewPhoneError(code, message string, category ErrorCategory, severity ErrorSeverity) *PhoneError {
	return &PhoneError{
		Code:      code,
		Message:   message,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// Предопределенные конструкторы по таксономии движка

// ErrConnectionFailed транспорт недоступен
func ErrConnectionFailed(cause error) *PhoneError {
	return NewPhoneError(
		"CONNECTION_FAILED",
		"Не удалось установить транспортное соединение",
		ErrorCategoryConnection,
		ErrorSeverityError,
	).WithCause(cause)
}

// ErrRegistrationFailed сервер отверг регистрацию
func ErrRegistrationFailed(cause error) *PhoneError {
	return NewPhoneError(
		"REGISTRATION_FAILED",
		"Сервер отверг регистрацию",
		ErrorCategoryRegistration,
		ErrorSeverityError,
	).WithCause(cause)
}

// ErrCallPlacementFailed исходящее приглашение не удалось до изменения
// состояния сессии
func ErrCallPlacementFailed(target string, cause error) *PhoneError {
	return NewPhoneError(
		"CALL_PLACEMENT_FAILED",
		fmt.Sprintf("Не удалось инициировать вызов на %s", target),
		ErrorCategoryCall,
		ErrorSeverityError,
	).WithField("target", target).WithCause(cause)
}

// ErrCallTerminationFailed bye/cancel/reject не удались на транспортном
// уровне. Локальная очистка при этом все равно выполняется.
func ErrCallTerminationFailed(op string, cause error) *PhoneError {
	return NewPhoneError(
		"CALL_TERMINATION_FAILED",
		fmt.Sprintf("Не удалось завершить вызов (%s)", op),
		ErrorCategoryCall,
		ErrorSeverityWarning,
	).WithField("operation", op).WithCause(cause)
}

// ErrInvalidCallState операция невозможна в текущем состоянии слотов
func ErrInvalidCallState(operation, reason string) *PhoneError {
	return NewPhoneError(
		"INVALID_CALL_STATE",
		fmt.Sprintf("Нельзя выполнить операцию '%s': %s", operation, reason),
		ErrorCategoryState,
		ErrorSeverityWarning,
	).WithField("operation", operation)
}

// ErrInvalidConfig неверная конфигурация
func ErrInvalidConfig(field, reason string) *PhoneError {
	return NewPhoneError(
		"INVALID_CONFIG",
		fmt.Sprintf("Неверная конфигурация поля '%s': %s", field, reason),
		ErrorCategoryConfig,
		ErrorSeverityError,
	).WithField("field", field)
}

// GetErrorCode извлекает код ошибки
func GetErrorCode(err error) string {
	var pe *PhoneError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "UNKNOWN_ERROR"
}

// GetErrorCategory извлекает категорию ошибки
func GetErrorCategory(err error) ErrorCategory {
	var pe *PhoneError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorCategoryState
}
