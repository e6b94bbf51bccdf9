package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type DirectKind string

const (
	SelectingLeader  DirectKind = "selecting_leader"
	ConfirmingLeader DirectKind = "confirming_leader"
	Description      DirectKind = "description"
	IceCandidate     DirectKind = "ice_candidate"
)

func (k DirectKind) Valid() bool {
	switch k {
	case SelectingLeader, ConfirmingLeader, Description, IceCandidate:
		return true
	}

	return false
}

// Sequenced - сообщения выборов лидера идут без номера.
func (k DirectKind) Sequenced() bool {
	return k == Description || k == IceCandidate
}

var ErrMalformedDirect = errors.New("malformed direct message")

// DirectMessage - сообщение между двумя пирами. Seq считается отдельно
// для каждой направленной пары и начинается с 0 на стороне отправителя.
type DirectMessage struct {
	Kind        DirectKind
	Seq         int64
	RandomValue int64
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

func NewSelectingLeader(value int64) DirectMessage {
	return DirectMessage{Kind: SelectingLeader, RandomValue: value}
}

func NewConfirmingLeader(value int64) DirectMessage {
	return DirectMessage{Kind: ConfirmingLeader, RandomValue: value}
}

func NewDescription(desc webrtc.SessionDescription) DirectMessage {
	return DirectMessage{Kind: Description, Description: &desc}
}

func NewIceCandidate(candidate webrtc.ICECandidateInit) DirectMessage {
	return DirectMessage{Kind: IceCandidate, Candidate: &candidate}
}

// DirectSeq используется как проекция номера для буфера переупорядочивания
func DirectSeq(m DirectMessage) int64 {
	return m.Seq
}

func (m DirectMessage) Validate() error {
	switch m.Kind {
	case Description:
		if m.Description == nil {
			return fmt.Errorf("%w: description without sdp", ErrMalformedDirect)
		}
	case IceCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: ice_candidate without candidate", ErrMalformedDirect)
		}
	case SelectingLeader, ConfirmingLeader:
	default:
		return fmt.Errorf("%w: kind %q", ErrMalformedDirect, m.Kind)
	}

	if m.Kind.Sequenced() && m.Seq < 0 {
		return fmt.Errorf("%w: negative seq %d", ErrMalformedDirect, m.Seq)
	}

	return nil
}

// NewDirectMessage упаковывает личное сообщение в конверт живого канала.
func NewDirectMessage(from, to uuid.UUID, msg DirectMessage) (Message, error) {
	ev := DirectEvent{
		From:        from,
		To:          to,
		Description: msg.Description,
		Candidate:   msg.Candidate,
	}

	if msg.Kind.Sequenced() {
		seq := msg.Seq
		ev.Seq = &seq
	} else {
		value := msg.RandomValue
		ev.RandomValue = &value
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("marshal direct event: %w", err)
	}

	return Message{Type: string(msg.Kind), Data: data}, nil
}
