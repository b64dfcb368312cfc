package server

import (
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/planningdeck/planningdeck/internal/poker/storage"
)

const peerSendBuffer = 32

// wsEvent is the frame shape shared by both directions of the socket.
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// peer owns the write side of one websocket connection. All outbound frames
// go through a buffered queue drained by a single writer goroutine, so a
// stalled reader cannot block a room broadcast.
type peer struct {
	conn *websocket.Conn

	send chan wsEvent
	done chan struct{}
	once sync.Once
}

func newPeer(conn *websocket.Conn) *peer {
	p := &peer{
		conn: conn,
		send: make(chan wsEvent, peerSendBuffer),
		done: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peer) writeLoop() {
	encoder := json.NewEncoder(p.conn)
	for {
		select {
		case <-p.done:
			return
		case event := <-p.send:
			if err := encoder.Encode(event); err != nil {
				p.close()
				return
			}
		}
	}
}

// enqueue queues a frame for the writer goroutine. A peer whose queue is
// full is disconnected rather than allowed to stall the sender.
func (p *peer) enqueue(event wsEvent) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.send <- event:
	case <-p.done:
	default:
		log.Printf("poker: dropping stalled peer")
		p.close()
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// closeWithCode sends a close frame with a distinguished status before
// tearing the connection down.
func (p *peer) closeWithCode(code int) {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteClose(code)
		_ = p.conn.Close()
	})
}

type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*sessionRoom
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]*sessionRoom)}
}

func (h *roomHub) room(sessionID string) *sessionRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if ok {
		return room
	}

	room = newSessionRoom(sessionID)
	h.rooms[sessionID] = room
	return room
}

func (h *roomHub) drop(sessionID string) {
	h.mu.Lock()
	delete(h.rooms, sessionID)
	h.mu.Unlock()
}

// sessionRoom tracks the live connections for one estimation session.
type sessionRoom struct {
	mu        sync.Mutex
	sessionID string
	peers     map[*peer]storage.Participant
}

func newSessionRoom(sessionID string) *sessionRoom {
	return &sessionRoom{
		sessionID: sessionID,
		peers:     make(map[*peer]storage.Participant),
	}
}

func (r *sessionRoom) join(p *peer, participant storage.Participant) {
	r.mu.Lock()
	r.peers[p] = participant
	r.mu.Unlock()
}

func (r *sessionRoom) leave(p *peer) bool {
	r.mu.Lock()
	delete(r.peers, p)
	empty := len(r.peers) == 0
	r.mu.Unlock()
	return empty
}

func (r *sessionRoom) snapshot() []*peer {
	r.mu.Lock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()
	return peers
}

// broadcast fans a frame out to every connected peer. The subscriber set is
// snapshotted under the lock; writes happen outside it.
func (r *sessionRoom) broadcast(event wsEvent) {
	for _, p := range r.snapshot() {
		p.enqueue(event)
	}
}

// closeAll disconnects every peer with the given close code.
func (r *sessionRoom) closeAll(code int) {
	for _, p := range r.snapshot() {
		p.closeWithCode(code)
	}
}
