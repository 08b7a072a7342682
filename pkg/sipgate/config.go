package sipgate

import (
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
)

// Config конфигурация SIP транспорта.
//
// Определяет учетные данные, адрес сервера и сетевые параметры
// клиента. Нулевые значения необязательных полей заменяются
// значениями по умолчанию при валидации.
type Config struct {
	// Username имя пользователя SIP аккаунта (user часть URI)
	Username string

	// Password пароль для digest аутентификации.
	// Пустой пароль допустим, если сервер не требует аутентификации.
	Password string

	// Domain домен SIP сервера (например, "sip.example.com")
	Domain string

	// Proxy адрес исходящего прокси в виде host:port.
	// Пустое значение означает прямую отправку на Domain.
	Proxy string

	// Protocol транспортный протокол: "udp" или "tcp"
	Protocol string

	// ListenAddr локальный адрес для прослушивания
	ListenAddr string

	// ListenPort локальный порт для прослушивания
	ListenPort int

	// RTPPort порт, анонсируемый в SDP offer
	RTPPort int

	// UserAgent строка идентификации в заголовке User-Agent
	UserAgent string

	// Expires срок действия регистрации в секундах
	Expires int

	// TxTimeout максимальное время ожидания ответа на транзакцию.
	// Соответствует Timer B/F (RFC 3261).
	TxTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Protocol:   "udp",
		ListenAddr: "0.0.0.0",
		ListenPort: 5060,
		RTPPort:    10000,
		UserAgent:  "VoipClient/1.0",
		Expires:    300,
		TxTimeout:  32 * time.Second,
	}
}

// Validate проверяет конфигурацию и устанавливает значения по умолчанию
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("username обязателен")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain обязателен")
	}
	switch c.Protocol {
	case "":
		c.Protocol = "udp"
	case "udp", "tcp":
	default:
		return fmt.Errorf("неподдерживаемый протокол: %s", c.Protocol)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 5060
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("некорректный порт: %d", c.ListenPort)
	}
	if c.RTPPort == 0 {
		c.RTPPort = 10000
	}
	if c.UserAgent == "" {
		c.UserAgent = "VoipClient/1.0"
	}
	if c.Expires <= 0 {
		c.Expires = 300
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = 32 * time.Second
	}
	return nil
}

// identityURI возвращает URI локальной идентичности
func (c *Config) identityURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   c.Username,
		Host:   c.Domain,
	}
}

// serverURI возвращает URI сервера регистрации
func (c *Config) serverURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		Host:   c.Domain,
	}
}

// listenAddress возвращает адрес прослушивания в виде host:port
func (c *Config) listenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}

// targetURI строит URI вызываемого абонента из введенного номера.
// Принимает как голый номер, так и полный SIP URI.
func (c *Config) targetURI(number string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(number, &uri); err == nil && uri.Host != "" {
		return uri, nil
	}
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", number, c.Domain), &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("некорректный номер %q: %w", number, err)
	}
	return uri, nil
}
