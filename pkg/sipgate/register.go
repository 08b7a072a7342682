package sipgate

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/arzzra/voip_client/pkg/softphone"
)

// registration активная регистрация на SIP сервере, реализует
// softphone.RegistrationHandle.
//
// Все REGISTER одной регистрации несут один Call-ID и монотонный
// CSeq: сервер связывает обновления с исходной привязкой.
type registration struct {
	gate    *Gate
	callID  string
	fromTag string
	cseq    uint32
}

func newRegistration(g *Gate) *registration {
	return &registration{
		gate:    g,
		callID:  generateCallID(),
		fromTag: generateTag(),
	}
}

// Refresh повторно регистрирует идентичность
func (r *registration) Refresh(ctx context.Context) error {
	return r.register(ctx, r.gate.config.Expires)
}

// Unregister снимает регистрацию (Expires: 0)
func (r *registration) Unregister(ctx context.Context) error {
	return r.register(ctx, 0)
}

// register отправляет REGISTER с указанным сроком действия.
// На 401/407 выполняется одна повторная попытка с вычисленным digest.
func (r *registration) register(ctx context.Context, expires int) error {
	cfg := r.gate.config

	req := r.buildRegister(expires, "", "")
	res, err := r.gate.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки REGISTER: %w", err)
	}

	var challengeHeader, authHeader string
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == 401:
		challengeHeader = "WWW-Authenticate"
		authHeader = "Authorization"
	case res.StatusCode == 407:
		challengeHeader = "Proxy-Authenticate"
		authHeader = "Proxy-Authorization"
	default:
		return fmt.Errorf("REGISTER отклонен: %d %s", res.StatusCode, res.Reason)
	}

	if cfg.Password == "" {
		return fmt.Errorf("сервер требует аутентификацию, пароль не задан")
	}

	headerVal := res.GetHeader(challengeHeader)
	if headerVal == nil {
		return fmt.Errorf("ответ %d без заголовка %s", res.StatusCode, challengeHeader)
	}
	challenge, err := digest.ParseChallenge(headerVal.Value())
	if err != nil {
		return fmt.Errorf("ошибка разбора challenge: %w", err)
	}

	serverURI := cfg.serverURI()
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   sip.REGISTER.String(),
		URI:      serverURI.String(),
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("ошибка вычисления digest: %w", err)
	}

	// Повторная попытка с вычисленным digest
	req = r.buildRegister(expires, authHeader, cred.String())
	res, err = r.gate.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки REGISTER с digest: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("REGISTER с digest отклонен: %d %s", res.StatusCode, res.Reason)
	}

	r.gate.log.Debug("регистрация подтверждена",
		softphone.Int("expires", expires))
	return nil
}

// buildRegister строит REGISTER запрос
func (r *registration) buildRegister(expires int, authHeader, authValue string) *sip.Request {
	cfg := r.gate.config
	identity := cfg.identityURI()

	req := sip.NewRequest(sip.REGISTER, cfg.serverURI())
	req.AppendHeader(sip.NewHeader("Call-ID", r.callID))
	req.AppendHeader(&sip.FromHeader{
		Address: identity,
		Params:  sip.HeaderParams{"tag": r.fromTag},
	})
	req.AppendHeader(&sip.ToHeader{
		Address: identity,
		Params:  sip.HeaderParams{},
	})
	r.cseq++
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq, MethodName: sip.REGISTER})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(&r.gate.contact)
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", expires)))
	req.AppendHeader(sip.NewHeader("User-Agent", cfg.UserAgent))

	if authHeader != "" {
		req.AppendHeader(sip.NewHeader(authHeader, authValue))
	}
	return req
}
