package softphone

import "time"

// Config конфигурация телефонного движка
type Config struct {
	// AnswerTimeout время ожидания ответа на входящее приглашение
	// до автоматического игнорирования
	AnswerTimeout time.Duration

	// RefreshInterval период обновления регистрации
	RefreshInterval time.Duration

	// LogLevel уровень логирования: DEBUG, INFO, WARN, ERROR
	LogLevel string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		AnswerTimeout:   DefaultAnswerTimeout,
		RefreshInterval: DefaultRefreshInterval,
		LogLevel:        "INFO",
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.AnswerTimeout < 0 {
		return ErrInvalidConfig("AnswerTimeout", "не может быть отрицательным")
	}
	if c.RefreshInterval < 0 {
		return ErrInvalidConfig("RefreshInterval", "не может быть отрицательным")
	}
	switch c.LogLevel {
	case "", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return ErrInvalidConfig("LogLevel", "неизвестный уровень "+c.LogLevel)
	}
	return nil
}
