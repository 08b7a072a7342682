// Package audio содержит уведомитель звонка для входящих вызовов.
//
// Уведомитель - побочный эффект вида fire-and-forget: движок вызовов
// запускает и останавливает рингтон, не ожидая результата. Оба метода
// идемпотентны и безопасны при повторных вызовах.
package audio

import (
	"io"
	"sync"
	"time"
)

// Notifier проигрывает и останавливает рингтон входящего вызова
type Notifier interface {
	PlayRingtone()
	StopRingtone()
	Close()
}

// NopNotifier уведомитель-заглушка для тестов и headless-режима
type NopNotifier struct{}

// PlayRingtone ничего не делает
func (NopNotifier) PlayRingtone() {}

// StopRingtone ничего не делает
func (NopNotifier) StopRingtone() {}

// Close ничего не делает
func (NopNotifier) Close() {}

// BellNotifier периодически пишет сигнал BEL в назначенный writer.
//
// Простейшая реализация рингтона для терминального клиента: пока
// рингтон активен, раз в интервал испускается ASCII BEL.
type BellNotifier struct {
	mu       sync.Mutex
	out      io.Writer
	interval time.Duration
	stop     chan struct{}
	playing  bool
}

// NewBellNotifier создает уведомитель с указанным writer и интервалом
func NewBellNotifier(out io.Writer, interval time.Duration) *BellNotifier {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BellNotifier{out: out, interval: interval}
}

// PlayRingtone запускает рингтон. Повторный вызов при активном
// рингтоне игнорируется.
func (n *BellNotifier) PlayRingtone() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.playing {
		return
	}
	n.playing = true
	n.stop = make(chan struct{})

	go n.ring(n.stop)
}

// StopRingtone останавливает рингтон. Вызов при неактивном рингтоне
// игнорируется.
func (n *BellNotifier) StopRingtone() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.playing {
		return
	}
	n.playing = false
	close(n.stop)
	n.stop = nil
}

// Close останавливает рингтон и освобождает ресурсы
func (n *BellNotifier) Close() {
	n.StopRingtone()
}

func (n *BellNotifier) ring(stop chan struct{}) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	// Первый сигнал сразу, дальше по таймеру
	_, _ = n.out.Write([]byte{0x07})
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = n.out.Write([]byte{0x07})
		}
	}
}
