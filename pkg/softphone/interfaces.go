package softphone

import (
	"context"
)

// SessionEvent событие жизненного цикла сессии от сигнального транспорта.
//
// События одной сессии доставляются строго в порядке возникновения:
// Established никогда не приходит после Terminated.
type SessionEvent int

const (
	// SessionEventEstablished - сессия установлена удаленной стороной
	SessionEventEstablished SessionEvent = iota
	// SessionEventTerminated - сессия завершена (отказ, отмена или bye)
	SessionEventTerminated
)

// String возвращает строковое представление события
func (e SessionEvent) String() string {
	switch e {
	case SessionEventEstablished:
		return "Established"
	case SessionEventTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// SessionHandle дескриптор одной сигнальной сессии (вызова) у транспорта.
//
// Все операции могут завершиться ошибкой асинхронной природы; ошибка
// возвращается вызывающему и никогда не рушит состояние движка.
type SessionHandle interface {
	// RemoteIdentity возвращает идентификатор удаленной стороны
	RemoteIdentity() string

	// Accept принимает входящую сессию
	Accept(ctx context.Context) error
	// Reject отклоняет входящую сессию
	Reject(ctx context.Context) error
	// Cancel отменяет исходящую сессию до установления
	Cancel(ctx context.Context) error
	// Bye завершает установленную сессию
	Bye(ctx context.Context) error

	// OnEvent устанавливает единственного наблюдателя жизненного цикла.
	// Наблюдатель регистрируется один раз при создании сессии; события
	// доставляются по одному, в порядке возникновения.
	OnEvent(fn func(SessionEvent))
}

// RegistrationHandle дескриптор активной регистрации у транспорта
type RegistrationHandle interface {
	// Refresh повторно регистрирует идентичность
	Refresh(ctx context.Context) error
	// Unregister снимает регистрацию
	Unregister(ctx context.Context) error
}

// SignalingTransport сигнальный транспорт (внешний коллаборатор).
//
// Выполняет фактический обмен протокольными сообщениями: движок не
// разбирает и не формирует сигнальные сообщения сам.
type SignalingTransport interface {
	// Start устанавливает транспортное соединение
	Start(ctx context.Context) error
	// Register регистрирует идентичность на сервере
	Register(ctx context.Context) (RegistrationHandle, error)
	// Invite инициирует исходящий вызов на указанный номер
	Invite(ctx context.Context, target string) (SessionHandle, error)
	// OnIncomingInvite устанавливает обработчик входящих приглашений
	OnIncomingInvite(fn func(SessionHandle))
	// Stop останавливает транспорт
	Stop(ctx context.Context) error
}

// AudioNotifier уведомитель звонка (внешний коллаборатор).
// Оба метода идемпотентны.
type AudioNotifier interface {
	PlayRingtone()
	StopRingtone()
}
