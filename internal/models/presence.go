package models

// ConnectedUser is one live entry in the presence roster.
type ConnectedUser struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	SecondaryID  string `json:"secondary_id,omitempty"`
}

// ChannelStatus describes the push channel connection state.
type ChannelStatus string

const (
	StatusConnecting   ChannelStatus = "connecting"
	StatusConnected    ChannelStatus = "connected"
	StatusDegraded     ChannelStatus = "degraded"
	StatusDisconnected ChannelStatus = "disconnected"
)
