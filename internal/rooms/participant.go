package rooms

// Conn is the per-connection handle a room routes messages through.
// ID must be stable and unique for the lifetime of the underlying session.
type Conn interface {
	ID() string
	Send(data []byte) error
}

// Participant binds a client identifier to one connection
type Participant struct {
	ClientID string
	Conn     Conn
}

// NewParticipant creates a participant for the given connection
func NewParticipant(clientID string, conn Conn) Participant {
	return Participant{ClientID: clientID, Conn: conn}
}

// SameConn reports whether the participant is attached to the session with
// the given id. The client id plays no part in identity.
func (p Participant) SameConn(connID string) bool {
	return p.Conn != nil && p.Conn.ID() == connID
}
