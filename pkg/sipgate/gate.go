// Package sipgate реализует сигнальный транспорт телефонного движка
// поверх SIP (sipgo).
//
// Транспорт отвечает за обмен протокольными сообщениями: REGISTER с
// digest аутентификацией, исходящие и входящие INVITE, CANCEL и BYE.
// Решения о судьбе вызовов принимает движок, транспорт лишь доставляет
// события жизненного цикла сессий.
package sipgate

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/voip_client/pkg/softphone"
)

// Gate SIP транспорт, реализующий softphone.SignalingTransport.
//
// Сессии индексируются по Call-ID: входящие BYE и CANCEL находят
// свою сессию по заголовку запроса. Все операции thread-safe.
type Gate struct {
	mu sync.Mutex

	config  *Config
	log     softphone.StructuredLogger
	contact sip.ContactHeader

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	sessions map[string]*Session
	incoming func(softphone.SessionHandle)

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// GateOption опция конфигурации Gate
type GateOption func(*Gate)

// WithLogger устанавливает логгер транспорта
func WithLogger(log softphone.StructuredLogger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

// New создает SIP транспорт с заданной конфигурацией
func New(config *Config, opts ...GateOption) (*Gate, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация транспорта: %w", err)
	}

	g := &Gate{
		config:   config,
		log:      softphone.GetDefaultLogger().WithComponent("sipgate"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Start создает sipgo компоненты и запускает прослушивание
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil
	}

	g.ctx, g.cancel = context.WithCancel(context.Background())

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(g.config.UserAgent))
	if err != nil {
		return fmt.Errorf("ошибка создания UA: %w", err)
	}
	g.ua = ua

	g.server, err = sipgo.NewServer(ua)
	if err != nil {
		return fmt.Errorf("ошибка создания сервера: %w", err)
	}

	g.client, err = sipgo.NewClient(ua)
	if err != nil {
		return fmt.Errorf("ошибка создания клиента: %w", err)
	}

	g.contact = sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   g.config.Username,
			Host:   g.config.ListenAddr,
			Port:   g.config.ListenPort,
		},
	}

	g.setupHandlers()

	listenAddr := g.config.listenAddress()
	g.log.Info("запуск SIP транспорта",
		softphone.String("protocol", g.config.Protocol),
		softphone.String("listen", listenAddr))

	go func() {
		if err := g.server.ListenAndServe(g.ctx, g.config.Protocol, listenAddr); err != nil {
			if g.ctx.Err() == nil {
				g.log.LogError(err, "SIP сервер завершился с ошибкой")
			}
		}
	}()

	g.started = true
	return nil
}

// Register регистрирует идентичность на сервере
func (g *Gate) Register(ctx context.Context) (softphone.RegistrationHandle, error) {
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if !started {
		return nil, fmt.Errorf("транспорт не запущен")
	}

	r := newRegistration(g)
	if err := r.register(ctx, g.config.Expires); err != nil {
		return nil, err
	}
	return r, nil
}

// Invite инициирует исходящий вызов на указанный номер
func (g *Gate) Invite(ctx context.Context, target string) (softphone.SessionHandle, error) {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil, fmt.Errorf("транспорт не запущен")
	}
	g.mu.Unlock()

	targetURI, err := g.config.targetURI(target)
	if err != nil {
		return nil, err
	}

	offer, err := buildOffer(g.config.ListenAddr, g.config.RTPPort)
	if err != nil {
		return nil, err
	}

	s := newOutboundSession(g, targetURI)

	invite := sip.NewRequest(sip.INVITE, targetURI)
	invite.AppendHeader(sip.NewHeader("Call-ID", s.callID))
	invite.AppendHeader(&sip.FromHeader{
		Address: g.contact.Address,
		Params:  sip.HeaderParams{"tag": s.localTag},
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: targetURI,
		Params:  sip.HeaderParams{},
	})
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: s.nextCSeq(), MethodName: sip.INVITE})
	invite.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	invite.AppendHeader(&g.contact)
	invite.AppendHeader(sip.NewHeader("User-Agent", g.config.UserAgent))
	invite.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	invite.SetBody(offer)

	s.inviteReq = invite

	tx, err := g.client.TransactionRequest(ctx, invite)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки INVITE: %w", err)
	}
	s.inviteTx = tx

	g.addSession(s)
	go s.watchInvite(g.ctx, tx)

	g.log.Info("исходящий INVITE отправлен",
		softphone.String("call_id", s.callID),
		softphone.String("target", targetURI.String()))
	return s, nil
}

// OnIncomingInvite устанавливает обработчик входящих приглашений
func (g *Gate) OnIncomingInvite(fn func(softphone.SessionHandle)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incoming = fn
}

// Stop останавливает транспорт и освобождает ресурсы
func (g *Gate) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = false
	cancel := g.cancel
	g.sessions = make(map[string]*Session)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if g.server != nil {
		_ = g.server.Close()
	}
	if g.client != nil {
		_ = g.client.Close()
	}

	g.log.Info("SIP транспорт остановлен")
	return nil
}

func (g *Gate) addSession(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.callID] = s
}

func (g *Gate) removeSession(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, callID)
}

func (g *Gate) findSession(callID string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[callID]
	return s, ok
}

// setupHandlers регистрирует обработчики входящих SIP запросов
func (g *Gate) setupHandlers() {
	g.server.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		g.handleInvite(req, tx)
	})
	g.server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		// ACK на 2xx подтверждает установление, отдельной обработки
		// не требует
	})
	g.server.OnBye(func(req *sip.Request, tx sip.ServerTransaction) {
		g.handleBye(req, tx)
	})
	g.server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		g.handleCancel(req, tx)
	})
}

// handleInvite обрабатывает входящий INVITE
func (g *Gate) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	g.mu.Lock()
	fn := g.incoming
	g.mu.Unlock()

	if fn == nil {
		res := sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil)
		if err := tx.Respond(res); err != nil {
			g.log.LogError(err, "не удалось ответить на INVITE без обработчика")
		}
		return
	}

	s := newInboundSession(g, req, tx)
	g.addSession(s)

	// 180 Ringing с локальным тегом: удаленная сторона слышит гудки,
	// пока пользователь решает
	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	to := ringing.To()
	if to.Params == nil {
		to.Params = make(sip.HeaderParams)
	}
	to.Params["tag"] = s.localTag
	if err := tx.Respond(ringing); err != nil {
		g.log.LogError(err, "не удалось отправить 180 Ringing",
			softphone.String("call_id", s.callID))
	}

	g.log.Info("входящий INVITE",
		softphone.String("call_id", s.callID),
		softphone.String("remote", s.remote))

	fn(s)
}

// handleBye обрабатывает входящий BYE
func (g *Gate) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		g.log.LogError(err, "не удалось ответить на BYE")
	}

	callID := req.CallID().Value()
	s, ok := g.findSession(callID)
	if !ok {
		g.log.Debug("BYE для неизвестной сессии", softphone.String("call_id", callID))
		return
	}
	g.removeSession(callID)
	s.emit(softphone.SessionEventTerminated)
}

// handleCancel обрабатывает входящий CANCEL: приглашение отменено
// удаленной стороной до ответа
func (g *Gate) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		g.log.LogError(err, "не удалось ответить на CANCEL")
	}

	callID := req.CallID().Value()
	s, ok := g.findSession(callID)
	if !ok {
		return
	}
	g.removeSession(callID)

	// 487 на исходную INVITE транзакцию
	s.respondInvite(487, "Request Terminated")
	s.emit(softphone.SessionEventTerminated)
}

// generateTag создает уникальный тег диалога
func generateTag() string {
	return uuid.NewString()[:8]
}

// generateCallID создает уникальный Call-ID
func generateCallID() string {
	return uuid.NewString()
}
