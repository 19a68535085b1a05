package rpc

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tolelom/cipherforge/events"
)

const (
	streamBuffer     = 256
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
)

// hub fans committed events out to websocket subscribers. A subscriber that
// falls streamBuffer events behind is disconnected rather than blocking the
// sequencer.
type hub struct {
	log zerolog.Logger

	mu   sync.Mutex
	subs map[chan events.Event]struct{}
}

func newHub(emitter *events.Emitter, logger zerolog.Logger) *hub {
	h := &hub{log: logger, subs: make(map[chan events.Event]struct{})}
	emitter.SubscribeAll(h.publish)
	return h
}

func (h *hub) publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
			h.log.Warn().Msg("dropping slow event subscriber")
		}
	}
}

func (h *hub) subscribe() chan events.Event {
	ch := make(chan events.Event, streamBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS streams every event as one JSON text message. Clients only read;
// anything they send is discarded. The subscription starts before the
// handshake completes, so a client sees every event emitted after Dial
// returns.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
