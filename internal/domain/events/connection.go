package events

// ConnectionStatePayload is the payload of connection_state events.
type ConnectionStatePayload struct {
	State             string `json:"state"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// NewConnectionStateEvent creates a connection_state event.
func NewConnectionStateEvent(state string, reconnectAttempts int) *BaseEvent {
	return NewEvent(EventTypeConnectionState, ConnectionStatePayload{
		State:             state,
		ReconnectAttempts: reconnectAttempts,
	})
}

// PeerDropPayload is the payload of peer_drop events.
type PeerDropPayload struct {
	Dropped int `json:"dropped"`
}

// NewPeerDropEvent creates a peer_drop event.
func NewPeerDropEvent(dropped int) *BaseEvent {
	return NewEvent(EventTypePeerDrop, PeerDropPayload{Dropped: dropped})
}
