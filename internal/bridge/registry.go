package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pair couples one client-facing socket with its backend-facing socket.
// Lifetime runs from handshake success to either side's close or error.
type pair struct {
	ID       string
	Client   *websocket.Conn
	Backend  *websocket.Conn
	OpenedAt time.Time
}

func (p *pair) close() {
	_ = p.Client.Close()
	_ = p.Backend.Close()
}

// Registry tracks live socket pairs so they can be counted and force-closed
// on shutdown. Entries are removed on close to avoid leaks.
type Registry struct {
	mu    sync.Mutex
	pairs map[string]*pair
}

func NewRegistry() *Registry {
	return &Registry{pairs: make(map[string]*pair)}
}

func (r *Registry) add(client, backend *websocket.Conn) *pair {
	p := &pair{
		ID:       uuid.NewString(),
		Client:   client,
		Backend:  backend,
		OpenedAt: time.Now(),
	}
	r.mu.Lock()
	r.pairs[p.ID] = p
	r.mu.Unlock()
	return p
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.pairs, id)
	r.mu.Unlock()
}

// Len reports the number of live bridged connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// CloseAll force-closes every live pair, for wrapper shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	pairs := make([]*pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		pairs = append(pairs, p)
	}
	r.pairs = make(map[string]*pair)
	r.mu.Unlock()
	for _, p := range pairs {
		p.close()
	}
}
