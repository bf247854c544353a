// Package discord maintains a minimal gateway connection whose only job is
// knowing which guilds the bot currently serves.
package discord

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"herald/internal/announce"
)

const (
	defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"
	reconnectDelay    = 15 * time.Second

	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11

	intentGuilds = 1 << 0
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s"`
	T  string          `json:"t"`
}

type outbound struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type guildRef struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// Gateway tracks guild membership over a websocket gateway connection.
type Gateway struct {
	// URL may be overridden before Connect (tests point it at a local
	// server).
	URL   string
	token string

	mu     sync.RWMutex
	guilds map[string]struct{}

	writeMu sync.Mutex
	seq     int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a gateway client for the given bot token.
func New(token string) *Gateway {
	return &Gateway{
		URL:    defaultGatewayURL,
		token:  token,
		guilds: make(map[string]struct{}),
		stopCh: make(chan struct{}),
	}
}

// Connect dials the gateway, identifies, and starts tracking guilds in the
// background, redialing on failure until Close.
func (g *Gateway) Connect(ctx context.Context) error {
	conn, interval, err := g.dial(ctx)
	if err != nil {
		return err
	}
	g.wg.Add(1)
	go g.run(conn, interval)
	return nil
}

// Close stops the background connection and waits for it to finish.
func (g *Gateway) Close() {
	close(g.stopCh)
	g.wg.Wait()
}

// Guilds snapshots the currently known guild set.
func (g *Gateway) Guilds(ctx context.Context) ([]announce.GuildID, error) {
	g.mu.RLock()
	out := make([]announce.GuildID, 0, len(g.guilds))
	for id := range g.guilds {
		out = append(out, announce.GuildID(id))
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, time.Duration, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.URL, nil)
	if err != nil {
		return nil, 0, err
	}

	var hello payload
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, 0, err
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		conn.Close()
		return nil, 0, err
	}

	identify := outbound{Op: opIdentify, D: map[string]any{
		"token":   g.token,
		"intents": intentGuilds,
		"properties": map[string]string{
			"os":      runtime.GOOS,
			"browser": "herald",
			"device":  "herald",
		},
	}}
	if err := g.write(conn, identify); err != nil {
		conn.Close()
		return nil, 0, err
	}

	return conn, time.Duration(helloData.HeartbeatInterval) * time.Millisecond, nil
}

// run serves one connection at a time, redialing after failures.
func (g *Gateway) run(conn *websocket.Conn, interval time.Duration) {
	defer g.wg.Done()
	for {
		g.serve(conn, interval)
		conn.Close()

		select {
		case <-g.stopCh:
			return
		case <-time.After(reconnectDelay):
		}

		var err error
		conn, interval, err = g.dial(context.Background())
		if err != nil {
			log.Printf("discord: gateway redial: %v", err)
			conn = nil
			// Keep retrying on the same cadence.
			for conn == nil {
				select {
				case <-g.stopCh:
					return
				case <-time.After(reconnectDelay):
				}
				conn, interval, err = g.dial(context.Background())
				if err != nil {
					log.Printf("discord: gateway redial: %v", err)
					conn = nil
				}
			}
		}
	}
}

// serve reads the connection until it fails or the server asks for a fresh
// session.
func (g *Gateway) serve(conn *websocket.Conn, interval time.Duration) {
	done := make(chan struct{})
	defer close(done)
	if interval > 0 {
		go g.heartbeatLoop(conn, interval, done)
	}

	for {
		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			select {
			case <-g.stopCh:
			default:
				log.Printf("discord: gateway read: %v", err)
			}
			return
		}
		if !g.handle(conn, p) {
			return
		}
	}
}

// handle processes one payload; false means the session must be rebuilt.
func (g *Gateway) handle(conn *websocket.Conn, p payload) bool {
	switch p.Op {
	case opHeartbeat:
		g.sendHeartbeat(conn)
	case opReconnect, opInvalidSession:
		log.Printf("discord: gateway requested reconnect (op %d)", p.Op)
		return false
	case opDispatch:
		g.writeMu.Lock()
		g.seq = p.S
		g.writeMu.Unlock()
		g.dispatch(p)
	}
	return true
}

func (g *Gateway) dispatch(p payload) {
	switch p.T {
	case "READY":
		var d struct {
			Guilds []guildRef `json:"guilds"`
		}
		if err := json.Unmarshal(p.D, &d); err != nil {
			log.Printf("discord: decode READY: %v", err)
			return
		}
		g.mu.Lock()
		for _, ref := range d.Guilds {
			g.guilds[ref.ID] = struct{}{}
		}
		g.mu.Unlock()
	case "GUILD_CREATE":
		var ref guildRef
		if err := json.Unmarshal(p.D, &ref); err != nil {
			return
		}
		g.mu.Lock()
		g.guilds[ref.ID] = struct{}{}
		g.mu.Unlock()
	case "GUILD_DELETE":
		var ref guildRef
		if err := json.Unmarshal(p.D, &ref); err != nil {
			return
		}
		// Unavailable means an outage, not removal from the guild.
		if ref.Unavailable {
			return
		}
		g.mu.Lock()
		delete(g.guilds, ref.ID)
		g.mu.Unlock()
	}
}

func (g *Gateway) heartbeatLoop(conn *websocket.Conn, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sendHeartbeat(conn)
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) {
	g.writeMu.Lock()
	seq := g.seq
	g.writeMu.Unlock()

	var d any
	if seq > 0 {
		d = seq
	}
	if err := g.write(conn, outbound{Op: opHeartbeat, D: d}); err != nil {
		log.Printf("discord: heartbeat: %v", err)
	}
}

func (g *Gateway) write(conn *websocket.Conn, v any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(v)
}
