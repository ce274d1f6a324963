package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"dialog-service/utils"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrRoomAbsent = errors.New("room does not exist")
)

// room is the live connection set of one dialog. Once closed it never
// accepts members again; a new room replaces it.
type room struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

// Registry tracks rooms of live connections keyed by dialog id. Member
// operations lock only their room; the registry lock guards the map.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*room
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		now:     time.Now,
		log:     log,
		metrics: metrics,
	}
}

func (r *Registry) lookup(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// CreateRoom starts an empty room. It fails if a live room already exists.
func (r *Registry) CreateRoom(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rooms[roomID]; ok {
		existing.mu.Lock()
		closed := existing.closed
		existing.mu.Unlock()
		if !closed {
			return ErrRoomExists
		}
	}
	r.rooms[roomID] = &room{clients: make(map[*Client]struct{})}
	r.metrics.RoomsActive.Inc()
	r.log.Debug("room created", "room_id", roomID)
	return nil
}

// Connect adds c to an existing room.
func (r *Registry) Connect(c *Client, roomID string) error {
	rm := r.lookup(roomID)
	if rm == nil {
		return ErrRoomAbsent
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return ErrRoomAbsent
	}
	if _, ok := rm.clients[c]; !ok {
		rm.clients[c] = struct{}{}
		r.metrics.ConnectionsActive.Inc()
	}
	return nil
}

// Join connects c, creating the room first if needed. A teardown racing
// the join makes Connect fail with ErrRoomAbsent, so it retries.
func (r *Registry) Join(c *Client, roomID string) error {
	for {
		if !r.IsActive(roomID) {
			if err := r.CreateRoom(roomID); err != nil && !errors.Is(err, ErrRoomExists) {
				return err
			}
		}
		err := r.Connect(c, roomID)
		if !errors.Is(err, ErrRoomAbsent) {
			return err
		}
	}
}

// Disconnect removes c from the room and closes its transport if still
// open. The last member leaving destroys the room.
func (r *Registry) Disconnect(c *Client, roomID string) {
	r.remove(c, roomID)
	c.Close(websocket.CloseNormalClosure, "")
}

func (r *Registry) remove(c *Client, roomID string) {
	rm := r.lookup(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	_, member := rm.clients[c]
	if member {
		delete(rm.clients, c)
		r.metrics.ConnectionsActive.Dec()
	}
	emptied := member && len(rm.clients) == 0 && !rm.closed
	if emptied {
		rm.closed = true
		r.metrics.RoomsActive.Dec()
	}
	rm.mu.Unlock()

	if !emptied {
		return
	}
	r.mu.Lock()
	if r.rooms[roomID] == rm {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	r.log.Debug("room destroyed", "room_id", roomID)
}

// Broadcast delivers payload to a snapshot of the room. Clients whose
// access token has expired are closed with the access-denied code instead
// and dropped from the room.
func (r *Registry) Broadcast(roomID string, payload []byte) error {
	rm := r.lookup(roomID)
	if rm == nil {
		return ErrRoomAbsent
	}

	rm.mu.Lock()
	snapshot := make([]*Client, 0, len(rm.clients))
	for c := range rm.clients {
		snapshot = append(snapshot, c)
	}
	rm.mu.Unlock()

	now := r.now()
	for _, c := range snapshot {
		if !now.Before(c.AccessExp) {
			denied := utils.AsAppError(utils.AccessDenied())
			r.metrics.BroadcastDenied.Inc()
			r.log.Info("closing connection with expired access token",
				"room_id", roomID,
				"user_id", c.UserID)
			r.remove(c, roomID)
			c.Close(denied.CloseCode(), denied.Message)
			continue
		}
		if err := c.Send(payload); err != nil {
			r.log.Debug("send failed, dropping connection",
				"room_id", roomID,
				"user_id", c.UserID,
				"err", err)
			r.Disconnect(c, roomID)
		}
	}
	return nil
}

// IsActive reports whether the room has at least one live member.
func (r *Registry) IsActive(roomID string) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return !rm.closed && len(rm.clients) > 0
}

// Members returns the number of live connections in the room.
func (r *Registry) Members(roomID string) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.clients)
}

// Shutdown closes every connection with going-away and empties the
// registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*room)
	r.mu.Unlock()

	for roomID, rm := range rooms {
		rm.mu.Lock()
		clients := rm.clients
		rm.clients = make(map[*Client]struct{})
		if !rm.closed {
			rm.closed = true
			r.metrics.RoomsActive.Dec()
		}
		rm.mu.Unlock()

		for c := range clients {
			r.metrics.ConnectionsActive.Dec()
			c.Close(websocket.CloseGoingAway, "Server shutting down")
		}
		r.log.Debug("room closed on shutdown", "room_id", roomID)
	}
}

// RegistryStats is a point-in-time view of the registry.
type RegistryStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	var stats RegistryStats
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed {
			stats.Rooms++
			stats.Connections += len(rm.clients)
		}
		rm.mu.Unlock()
	}
	return stats
}
