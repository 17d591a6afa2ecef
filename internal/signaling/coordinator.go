package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mossy-p/signal-relay/internal/metrics"
	"github.com/mossy-p/signal-relay/internal/models"
	"github.com/mossy-p/signal-relay/internal/rooms"
)

// Presence receives membership changes as they happen.
type Presence interface {
	Joined(roomID, clientID string)
	Left(roomID, clientID string)
	Evicted(roomID string)
}

type nopPresence struct{}

func (nopPresence) Joined(string, string) {}
func (nopPresence) Left(string, string)   {}
func (nopPresence) Evicted(string)        {}

// session is what the coordinator remembers about a joined connection.
type session struct {
	roomID   string
	clientID string
}

// Coordinator is the signaling protocol engine. It validates inbound
// messages, drives room membership and decides who receives what.
//
// HandleMessage must be called sequentially for a given connection; calls for
// different connections may run concurrently.
type Coordinator struct {
	registry    *rooms.Registry
	presence    Presence
	metrics     *metrics.Metrics
	log         *slog.Logger
	validate    *validator.Validate
	newClientID func() string

	sessions sync.Map // conn id -> session
}

type Option func(*Coordinator)

func WithPresence(p Presence) Option {
	return func(c *Coordinator) { c.presence = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClientIDGenerator replaces the generator used for joins without a sender.
func WithClientIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newClientID = fn }
}

func NewCoordinator(registry *rooms.Registry, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    registry,
		presence:    nopPresence{},
		log:         log,
		validate:    validator.New(),
		newClientID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect records a new connection. It stays unjoined until it sends a join.
func (c *Coordinator) Connect(conn rooms.Conn) {
	c.metrics.Inc(metrics.ConnectionsOpened)
	c.log.Debug("connection opened", "conn", conn.ID())
}

// HandleMessage processes one raw inbound frame from conn. The returned error
// has already been reported to the client; it is informational for the caller.
func (c *Coordinator) HandleMessage(conn rooms.Conn, raw []byte) error {
	var msg models.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("invalid message received", "conn", conn.ID(), "error", err)
		c.sendError(conn, "Invalid JSON message")
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := c.validate.Struct(msg); err != nil {
		c.sendError(conn, "Message requires type and roomId")
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Type {
	case models.SignalTypeJoin:
		return c.join(conn, msg)
	case models.SignalTypeSDP, models.SignalTypeICE:
		return c.forward(conn, msg, raw)
	default:
		c.sendError(conn, "Unsupported type: "+string(msg.Type))
		return fmt.Errorf("%w: %q", ErrUnsupportedType, msg.Type)
	}
}

func (c *Coordinator) join(conn rooms.Conn, msg models.SignalMessage) error {
	clientID := msg.Sender
	if v, ok := c.sessions.Load(conn.ID()); ok {
		prev := v.(session)
		if prev.roomID != msg.RoomID {
			c.sendError(conn, "Already joined room "+prev.roomID)
			return fmt.Errorf("%w: %s", ErrAlreadyJoined, prev.roomID)
		}
		clientID = prev.clientID
	}
	if clientID == "" {
		clientID = c.newClientID()
	}

	for {
		room, created := c.registry.GetOrCreate(msg.RoomID)
		if created {
			c.metrics.Inc(metrics.RoomsCreated)
			c.log.Info("created new room", "room", room.ID)
		}

		var err error
		room.Sequence(func() { err = c.admit(room, conn, clientID) })
		if errors.Is(err, rooms.ErrRoomClosed) {
			// Evicted between lookup and admission.
			continue
		}
		return err
	}
}

// admit runs inside the room's sequence.
func (c *Coordinator) admit(room *rooms.Room, conn rooms.Conn, clientID string) error {
	added, err := room.AddParticipant(rooms.NewParticipant(clientID, conn))
	if err != nil {
		return err
	}
	c.sessions.Store(conn.ID(), session{roomID: room.ID, clientID: clientID})

	size := room.Size()
	if added {
		c.metrics.Inc(metrics.Joins)
		c.presence.Joined(room.ID, clientID)
		c.log.Info("peer joined room", "room", room.ID, "client", clientID, "participants", size)
	}

	c.send(conn, models.SignalTypeJoined, room.ID, models.JoinedPayload{
		Participants: size,
		Message:      "Signaling connected for room " + room.ID,
	})

	if size == 1 {
		c.send(conn, models.SignalTypeWaiting, room.ID, models.NoticePayload{
			Message: "Waiting for someone else to join...",
		})
		return nil
	}

	c.notifyReady(room)
	return nil
}

// notifyReady tells every member that negotiation can start. Only the
// earliest member is flagged as initiator so that a single offer is produced.
func (c *Coordinator) notifyReady(room *rooms.Room) {
	initiator, ok := room.FirstParticipant()
	for _, p := range room.List() {
		isInitiator := ok && p.SameConn(initiator.Conn.ID())
		c.send(p.Conn, models.SignalTypeReady, room.ID, models.ReadyPayload{Initiator: isInitiator})
	}
}

func (c *Coordinator) forward(conn rooms.Conn, msg models.SignalMessage, raw []byte) error {
	v, joined := c.sessions.Load(conn.ID())
	room, found := c.registry.Find(msg.RoomID)
	if !joined || v.(session).roomID != msg.RoomID || !found {
		c.sendError(conn, "You must join the room before signaling")
		return fmt.Errorf("%w: %s", ErrNotJoined, msg.RoomID)
	}

	var err error
	room.Sequence(func() {
		if !room.Contains(conn.ID()) {
			err = fmt.Errorf("%w: %s", ErrNotJoined, msg.RoomID)
			return
		}
		for _, p := range room.List() {
			if p.SameConn(conn.ID()) {
				continue
			}
			if sendErr := p.Conn.Send(raw); sendErr != nil {
				c.metrics.Inc(metrics.DeliveriesSkipped)
				c.log.Debug("skipping unreachable peer", "room", room.ID, "client", p.ClientID, "error", sendErr)
				continue
			}
			c.metrics.Inc(metrics.MessagesForwarded)
		}
	})
	if err != nil {
		c.sendError(conn, "You must join the room before signaling")
	}
	return err
}

// Disconnect removes conn from its room, notifies the remaining members and
// evicts the room once it is empty. Unjoined connections are ignored.
func (c *Coordinator) Disconnect(conn rooms.Conn) {
	c.metrics.Inc(metrics.ConnectionsClosed)

	v, ok := c.sessions.LoadAndDelete(conn.ID())
	if !ok {
		return
	}
	sess := v.(session)

	room, ok := c.registry.Find(sess.roomID)
	if !ok {
		return
	}

	room.Sequence(func() {
		if _, removed := room.RemoveParticipant(conn.ID()); !removed {
			return
		}
		c.presence.Left(room.ID, sess.clientID)
		c.log.Info("peer left room", "room", room.ID, "client", sess.clientID, "participants", room.Size())

		for _, p := range room.List() {
			c.send(p.Conn, models.SignalTypePeerLeft, room.ID, models.NoticePayload{
				Message: "A participant left the room",
			})
		}
	})

	if c.registry.RemoveIfEmpty(sess.roomID) {
		c.metrics.Inc(metrics.RoomsEvicted)
		c.presence.Evicted(sess.roomID)
		c.log.Info("removed empty room", "room", sess.roomID)
	}
}

func (c *Coordinator) sendError(conn rooms.Conn, message string) {
	c.metrics.Inc(metrics.ProtocolErrors)
	c.send(conn, models.SignalTypeError, "", models.NoticePayload{Message: message})
}

func (c *Coordinator) send(conn rooms.Conn, t models.SignalType, roomID string, payload any) {
	msg, err := models.NewServerMessage(t, roomID, payload)
	if err != nil {
		c.log.Error("failed to encode payload", "type", t, "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", "type", t, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		c.metrics.Inc(metrics.DeliveriesSkipped)
		c.log.Debug("failed to send message", "conn", conn.ID(), "type", t, "error", err)
	}
}

// RoomInfo describes a live room.
func (c *Coordinator) RoomInfo(roomID string) (models.RoomInfo, bool) {
	room, ok := c.registry.Find(roomID)
	if !ok {
		return models.RoomInfo{}, false
	}
	return roomInfo(room), true
}

// Rooms describes every live room ordered by id.
func (c *Coordinator) Rooms() []models.RoomInfo {
	live := c.registry.Rooms()
	out := make([]models.RoomInfo, 0, len(live))
	for _, room := range live {
		out = append(out, roomInfo(room))
	}
	return out
}

func roomInfo(room *rooms.Room) models.RoomInfo {
	ids := room.ClientIDs()
	return models.RoomInfo{ID: room.ID, Participants: len(ids), ClientIDs: ids}
}
