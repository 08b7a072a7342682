package sipgate

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/voip_client/pkg/softphone"
)

// Session одна сигнальная сессия (вызов), реализует
// softphone.SessionHandle.
//
// События жизненного цикла эмитятся в буферизованный канал и
// доставляются наблюдателю выделенной горутиной: порядок доставки
// совпадает с порядком возникновения, терминальное событие
// эмитится не более одного раза.
type Session struct {
	mu sync.Mutex

	gate     *Gate
	callID   string
	remote   string
	outbound bool

	localTag  string
	remoteTag string
	cseq      uint32

	inviteReq  *sip.Request
	inviteResp *sip.Response
	inviteTx   sip.ClientTransaction
	serverTx   sip.ServerTransaction

	events       chan softphone.SessionEvent
	dispatchOnce sync.Once
	terminated   bool
	established  bool
}

func newOutboundSession(g *Gate, target sip.Uri) *Session {
	remote := target.User
	if remote == "" {
		remote = softphone.UnknownIdentity
	}
	return &Session{
		gate:     g,
		callID:   generateCallID(),
		remote:   remote,
		outbound: true,
		localTag: generateTag(),
		events:   make(chan softphone.SessionEvent, 2),
	}
}

func newInboundSession(g *Gate, req *sip.Request, tx sip.ServerTransaction) *Session {
	remote := req.From().Address.User
	if remote == "" {
		remote = softphone.UnknownIdentity
	}
	remoteTag, _ := req.From().Params.Get("tag")

	return &Session{
		gate:      g,
		callID:    req.CallID().Value(),
		remote:    remote,
		localTag:  generateTag(),
		remoteTag: remoteTag,
		inviteReq: req,
		serverTx:  tx,
		events:    make(chan softphone.SessionEvent, 2),
	}
}

// RemoteIdentity возвращает идентификатор удаленной стороны
func (s *Session) RemoteIdentity() string {
	return s.remote
}

// OnEvent устанавливает наблюдателя жизненного цикла и запускает
// горутину доставки. Повторные вызовы игнорируются.
func (s *Session) OnEvent(fn func(softphone.SessionEvent)) {
	s.dispatchOnce.Do(func() {
		go func() {
			for ev := range s.events {
				fn(ev)
			}
		}()
	})
}

// emit публикует событие. После терминального события дальнейшие
// эмиссии подавляются, канал закрывается. Отправка под мьютексом не
// блокирует: буфера канала хватает на все события одной сессии.
func (s *Session) emit(ev softphone.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return
	}
	s.events <- ev
	if ev == softphone.SessionEventTerminated {
		s.terminated = true
		close(s.events)
	}
}

// markTerminatedLocked подавляет дальнейшие события сессии,
// завершенной локальной операцией. Вызывается с удерживаемым
// мьютексом. Возвращает false, если сессия уже была завершена.
func (s *Session) markTerminatedLocked() bool {
	if s.terminated {
		return false
	}
	s.terminated = true
	close(s.events)
	return true
}

// nextCSeq возвращает следующий номер последовательности
func (s *Session) nextCSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cseq++
	return s.cseq
}

// watchInvite следит за ответами на исходящий INVITE.
// Предварительные ответы (1xx) игнорируются, 2xx подтверждается ACK
// и эмитит Established, финальный отказ эмитит Terminated.
func (s *Session) watchInvite(ctx context.Context, tx sip.ClientTransaction) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-tx.Responses():
			if !ok {
				s.gate.removeSession(s.callID)
				s.emit(softphone.SessionEventTerminated)
				return
			}
			switch {
			case res.StatusCode < 200:
				// 100 Trying, 180 Ringing: ждем финального ответа
				continue
			case res.StatusCode < 300:
				s.confirmEstablished(res)
				return
			default:
				s.gate.log.Info("исходящий вызов отклонен",
					softphone.String("call_id", s.callID),
					softphone.Int("status", int(res.StatusCode)))
				s.gate.removeSession(s.callID)
				s.emit(softphone.SessionEventTerminated)
				return
			}
		}
	}
}

// confirmEstablished подтверждает 2xx ответ ACK и эмитит Established
func (s *Session) confirmEstablished(res *sip.Response) {
	s.mu.Lock()
	s.inviteResp = res
	if tag, ok := res.To().Params.Get("tag"); ok {
		s.remoteTag = tag
	}
	s.established = true
	s.mu.Unlock()

	ack := sip.NewAckRequest(s.inviteReq, res, nil)
	if err := s.gate.client.WriteRequest(ack); err != nil {
		s.gate.log.LogError(err, "не удалось отправить ACK",
			softphone.String("call_id", s.callID))
	}

	s.emit(softphone.SessionEventEstablished)
}

// Accept принимает входящую сессию: 200 OK с SDP answer.
// Применим только к входящим сессиям.
func (s *Session) Accept(ctx context.Context) error {
	if s.outbound {
		return fmt.Errorf("accept применим только к входящей сессии")
	}

	answer, err := buildOffer(s.gate.config.ListenAddr, s.gate.config.RTPPort)
	if err != nil {
		return err
	}

	res := sip.NewResponseFromRequest(s.inviteReq, 200, "OK", answer)
	to := res.To()
	if to.Params == nil {
		to.Params = make(sip.HeaderParams)
	}
	to.Params["tag"] = s.localTag
	res.AppendHeader(&s.gate.contact)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	if err := s.serverTx.Respond(res); err != nil {
		return fmt.Errorf("ошибка отправки 200 OK: %w", err)
	}

	s.mu.Lock()
	s.established = true
	s.mu.Unlock()
	return nil
}

// Reject отклоняет входящую сессию ответом 486 Busy Here
func (s *Session) Reject(ctx context.Context) error {
	if s.outbound {
		return fmt.Errorf("reject применим только к входящей сессии")
	}

	s.gate.removeSession(s.callID)

	s.mu.Lock()
	if !s.markTerminatedLocked() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.respondInvite(486, "Busy Here")
}

// respondInvite отвечает на исходный INVITE входящей сессии
func (s *Session) respondInvite(code int, reason string) error {
	if s.serverTx == nil || s.inviteReq == nil {
		return nil
	}
	res := sip.NewResponseFromRequest(s.inviteReq, sip.StatusCode(code), reason, nil)
	to := res.To()
	if to.Params == nil {
		to.Params = make(sip.HeaderParams)
	}
	to.Params["tag"] = s.localTag
	if err := s.serverTx.Respond(res); err != nil {
		return fmt.Errorf("ошибка ответа %d на INVITE: %w", code, err)
	}
	return nil
}

// Cancel отменяет исходящую сессию до установления
func (s *Session) Cancel(ctx context.Context) error {
	if !s.outbound {
		return fmt.Errorf("cancel применим только к исходящей сессии")
	}

	s.gate.removeSession(s.callID)

	s.mu.Lock()
	if !s.markTerminatedLocked() {
		s.mu.Unlock()
		return nil
	}
	req := s.inviteReq
	s.mu.Unlock()

	if req == nil {
		return nil
	}

	// CANCEL копирует идентификаторы транзакции INVITE (RFC 3261 9.1)
	cancel := sip.NewRequest(sip.CANCEL, req.Recipient)
	cancel.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	cancel.AppendHeader(req.From())
	cancel.AppendHeader(req.To())
	cancel.AppendHeader(&sip.CSeqHeader{
		SeqNo:      req.CSeq().SeqNo,
		MethodName: sip.CANCEL,
	})
	cancel.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	if _, err := s.gate.client.Do(ctx, cancel); err != nil {
		return fmt.Errorf("ошибка отправки CANCEL: %w", err)
	}
	return nil
}

// Bye завершает установленную сессию
func (s *Session) Bye(ctx context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	if !s.established {
		s.mu.Unlock()
		return fmt.Errorf("bye применим только к установленной сессии")
	}
	s.markTerminatedLocked()
	s.mu.Unlock()

	s.gate.removeSession(s.callID)

	bye, err := s.buildBye()
	if err != nil {
		return err
	}
	if _, err := s.gate.client.Do(ctx, bye); err != nil {
		return fmt.Errorf("ошибка отправки BYE: %w", err)
	}
	return nil
}

// buildBye строит BYE в контексте установленного диалога
func (s *Session) buildBye() (*sip.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outbound {
		if s.inviteReq == nil || s.inviteResp == nil {
			return nil, fmt.Errorf("нет установленного диалога для BYE")
		}
		recipient := s.inviteReq.Recipient
		if contact := s.inviteResp.GetHeader("Contact"); contact != nil {
			var contactURI sip.Uri
			if err := sip.ParseUri(trimAngle(contact.Value()), &contactURI); err == nil {
				recipient = contactURI
			}
		}

		bye := sip.NewRequest(sip.BYE, recipient)
		bye.AppendHeader(sip.NewHeader("Call-ID", s.callID))
		bye.AppendHeader(s.inviteReq.From())
		bye.AppendHeader(s.inviteResp.To())
		bye.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseqLocked(), MethodName: sip.BYE})
		bye.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
		bye.AppendHeader(sip.NewHeader("User-Agent", s.gate.config.UserAgent))
		return bye, nil
	}

	// Входящая сессия: локальная сторона была UAS, роли в BYE
	// меняются местами
	if s.inviteReq == nil {
		return nil, fmt.Errorf("нет установленного диалога для BYE")
	}
	recipient := s.inviteReq.From().Address
	if contact := s.inviteReq.GetHeader("Contact"); contact != nil {
		var contactURI sip.Uri
		if err := sip.ParseUri(trimAngle(contact.Value()), &contactURI); err == nil {
			recipient = contactURI
		}
	}

	bye := sip.NewRequest(sip.BYE, recipient)
	bye.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	bye.AppendHeader(&sip.FromHeader{
		Address: s.gate.contact.Address,
		Params:  sip.HeaderParams{"tag": s.localTag},
	})
	bye.AppendHeader(&sip.ToHeader{
		Address: s.inviteReq.From().Address,
		Params:  sip.HeaderParams{"tag": s.remoteTag},
	})
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseqLocked(), MethodName: sip.BYE})
	bye.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	bye.AppendHeader(sip.NewHeader("User-Agent", s.gate.config.UserAgent))
	return bye, nil
}

// cseqLocked увеличивает CSeq. Вызывается с удерживаемым мьютексом.
func (s *Session) cseqLocked() uint32 {
	s.cseq++
	return s.cseq
}

// trimAngle снимает угловые скобки с адреса заголовка
func trimAngle(v string) string {
	if len(v) >= 2 && v[0] == '<' && v[len(v)-1] == '>' {
		return v[1 : len(v)-1]
	}
	return v
}
