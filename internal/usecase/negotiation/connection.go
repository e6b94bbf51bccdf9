package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/domain/events"
)

// Connection - часть RTCPeerConnection, которой пользуется сессия.
// *webrtc.PeerConnection реализует этот интерфейс.
type Connection interface {
	SignalingState() webrtc.SignalingState
	RemoteDescription() *webrtc.SessionDescription

	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)

	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnNegotiationNeeded(f func())
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

// ConnectionFactory создает соединение после того, как роль определена.
type ConnectionFactory interface {
	NewConnection(role Role) (Connection, error)
}

// MediaAttacher добавляет локальные треки. Вызывается только после обмена confirming_leader.
type MediaAttacher interface {
	AttachMedia(conn Connection) error
}

// Event - событие сессии для внешнего мира
type Event interface {
	event()
}

// SendMessageToRemote - сообщение, которое транспорт должен доставить пиру.
type SendMessageToRemote struct {
	Message events.DirectMessage
}

// RemoteTrack - новый удаленный трек.
type RemoteTrack struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// RemoteStream - первый трек нового удаленного потока.
type RemoteStream struct {
	StreamID string
	Track    *webrtc.TrackRemote
}

func (SendMessageToRemote) event() {}
func (RemoteTrack) event()         {}
func (RemoteStream) event()        {}
