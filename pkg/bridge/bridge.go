package bridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/logger"
	"github.com/teleprompt/teleprompt/pkg/payload"
	"github.com/teleprompt/teleprompt/pkg/registry"
	"github.com/teleprompt/teleprompt/pkg/sites"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

// Uploader pushes a captured payload to the relay server on behalf of a
// connected tab.
type Uploader interface {
	Upload(ctx context.Context, p payload.Payload) error
}

// Bridge is the local WebSocket endpoint browser tabs connect to. A single
// connection may own several tabs (the extension background multiplexes all
// of its tabs over one socket). Subscribe/unsubscribe commands mutate the
// registry; payload broadcasts from the coordinator are delivered to the
// connection owning the target tab.
type Bridge struct {
	cfg      config.BridgeConfig
	reg      *registry.Registry
	matcher  *sites.Matcher
	uploader Uploader
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
	tabOwner map[int]string // tabID -> session ID
}

type session struct {
	id   string
	ws   *websocket.Conn
	send chan Event
	done chan struct{}
	tabs map[int]struct{} // guarded by the bridge mutex
}

func New(cfg config.BridgeConfig, reg *registry.Registry, matcher *sites.Matcher, uploader Uploader) *Bridge {
	return &Bridge{
		cfg:      cfg,
		reg:      reg,
		matcher:  matcher,
		uploader: uploader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge binds to loopback; the extension connects without
			// an Origin the upgrader would recognize.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: map[string]*session{},
		tabOwner: map[int]string{},
	}
}

func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", b.handleWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})
	return r
}

// ListenAndServe runs the bridge until ctx is cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(b.cfg.Host, fmt.Sprintf("%d", b.cfg.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: b.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("bridge", "Bridge listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("bridge", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
		tabs: map[int]struct{}{},
	}

	b.mu.Lock()
	b.sessions[sess.id] = sess
	b.mu.Unlock()

	logger.InfoCF("bridge", "Browser connected", map[string]interface{}{
		"session": sess.id,
	})

	go b.writeLoop(sess)
	b.readLoop(r.Context(), sess)
}

func (b *Bridge) readLoop(ctx context.Context, sess *session) {
	defer b.dropSession(sess)

	for {
		var cmd Command
		if err := sess.ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("bridge", "Read failed", map[string]interface{}{
					"session": sess.id,
					"error":   err.Error(),
				})
			}
			return
		}
		b.handleCommand(ctx, sess, cmd)
	}
}

func (b *Bridge) writeLoop(sess *session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			_ = sess.ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case ev := <-sess.send:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sess.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, sess *session, cmd Command) {
	switch cmd.Type {
	case CmdSubscribe:
		b.handleSubscribe(sess, cmd)
	case CmdUnsubscribe:
		b.handleUnsubscribe(sess, cmd)
	case CmdUpload:
		b.handleUpload(ctx, sess, cmd)
	default:
		sess.push(resultErr(cmd.Seq, fmt.Sprintf("unknown command %q", cmd.Type)))
	}
}

func (b *Bridge) handleSubscribe(sess *session, cmd Command) {
	if cmd.Tab == nil {
		sess.push(resultErr(cmd.Seq, "missing tab metadata"))
		return
	}
	// Unsupported pages are rejected before the registry is touched.
	if !b.matcher.Supported(cmd.Tab.URL) {
		sess.push(resultErr(cmd.Seq, "unsupported page for receiver"))
		return
	}

	if err := b.reg.Subscribe(cmd.TabID, *cmd.Tab); err != nil {
		sess.push(resultErr(cmd.Seq, err.Error()))
		return
	}

	b.mu.Lock()
	sess.tabs[cmd.TabID] = struct{}{}
	b.tabOwner[cmd.TabID] = sess.id
	b.mu.Unlock()

	logger.InfoCF("bridge", "Tab subscribed", map[string]interface{}{
		"tab": cmd.TabID,
		"url": cmd.Tab.URL,
	})
	sess.push(resultOK(cmd.Seq))
}

func (b *Bridge) handleUnsubscribe(sess *session, cmd Command) {
	if err := b.reg.Unsubscribe(cmd.TabID); err != nil {
		sess.push(resultErr(cmd.Seq, err.Error()))
		return
	}

	b.mu.Lock()
	delete(sess.tabs, cmd.TabID)
	if b.tabOwner[cmd.TabID] == sess.id {
		delete(b.tabOwner, cmd.TabID)
	}
	b.mu.Unlock()

	logger.InfoCF("bridge", "Tab unsubscribed", map[string]interface{}{
		"tab": cmd.TabID,
	})
	sess.push(resultOK(cmd.Seq))
}

func (b *Bridge) handleUpload(ctx context.Context, sess *session, cmd Command) {
	if cmd.Payload == nil {
		sess.push(resultErr(cmd.Seq, "missing payload"))
		return
	}
	if err := b.uploader.Upload(ctx, *cmd.Payload); err != nil {
		logger.WarnCF("bridge", "Upload failed", map[string]interface{}{
			"error": err.Error(),
		})
		sess.push(resultErr(cmd.Seq, err.Error()))
		return
	}
	sess.push(resultOK(cmd.Seq))
}

// Deliver implements the coordinator's Broadcaster: it routes a drained
// payload to the connection owning tabID. A tab whose connection went away
// is an individual delivery failure; the coordinator logs it and moves on.
func (b *Bridge) Deliver(ctx context.Context, tabID int, p payload.Payload) error {
	b.mu.RLock()
	sessID, ok := b.tabOwner[tabID]
	sess := b.sessions[sessID]
	b.mu.RUnlock()

	if !ok || sess == nil {
		return fmt.Errorf("tab %d is not connected", tabID)
	}

	ev := Event{Type: EventPayload, TabID: tabID, OK: true, Payload: &p}
	select {
	case sess.send <- ev:
		return nil
	case <-sess.done:
		return fmt.Errorf("tab %d disconnected during delivery", tabID)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(writeWait):
		return fmt.Errorf("tab %d send buffer full", tabID)
	}
}

// dropSession closes a connection and unsubscribes every tab it owned, the
// bridge's analog of the browser's tab-closed cleanup.
func (b *Bridge) dropSession(sess *session) {
	b.mu.Lock()
	delete(b.sessions, sess.id)
	tabIDs := make([]int, 0, len(sess.tabs))
	for id := range sess.tabs {
		tabIDs = append(tabIDs, id)
		if b.tabOwner[id] == sess.id {
			delete(b.tabOwner, id)
		}
	}
	b.mu.Unlock()

	close(sess.done)
	_ = sess.ws.Close()

	for _, id := range tabIDs {
		if err := b.reg.Unsubscribe(id); err != nil {
			logger.WarnCF("bridge", "Failed to remove closed tab", map[string]interface{}{
				"tab":   id,
				"error": err.Error(),
			})
		}
	}

	logger.InfoCF("bridge", "Browser disconnected", map[string]interface{}{
		"session": sess.id,
		"tabs":    len(tabIDs),
	})
}

// push enqueues an event, dropping it if the session is gone or wedged.
func (s *session) push(ev Event) {
	select {
	case s.send <- ev:
	case <-s.done:
	default:
	}
}
