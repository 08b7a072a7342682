package sipgate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// Статические полезные нагрузки G.711 (RFC 3551)
const (
	payloadPCMU = 0
	payloadPCMA = 8
)

// buildOffer строит SDP offer для аудио вызова.
//
// Анонсируется один аудио поток PCMU/PCMA. Фактическая обработка
// медиа находится вне зоны ответственности транспорта.
func buildOffer(host string, port int) ([]byte, error) {
	now := uint64(time.Now().Unix())

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "VoipClient Call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(payloadPCMU), strconv.Itoa(payloadPCMA)},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d PCMU/8000", payloadPCMU)),
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d PCMA/8000", payloadPCMA)),
			sdp.NewPropertyAttribute("sendrecv"),
		},
	}
	offer.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	raw, err := offer.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации SDP offer: %w", err)
	}
	return raw, nil
}

// parseAnswer разбирает SDP answer удаленной стороны
func parseAnswer(raw []byte) (*sdp.SessionDescription, error) {
	answer := &sdp.SessionDescription{}
	if err := answer.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора SDP answer: %w", err)
	}
	return answer, nil
}
