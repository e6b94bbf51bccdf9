package constant

// Ключи атрибутов для slog
const (
	Error     = "error"
	ClientID  = "client_id"
	RemoteID  = "remote_id"
	RoomID    = "room_id"
	Seq       = "seq"
	FromSeq   = "from_seq"
	ToSeq     = "to_seq"
	Role      = "role"
	State     = "state"
	Type      = "type"
	Step      = "step"
	Pending   = "pending"
	Snapshot  = "snapshot"
	TrackID   = "track_id"
	StreamID  = "stream_id"
	Component = "component"
)
