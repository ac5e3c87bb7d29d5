package livestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// ListenerConfig contains configuration attributes of a Listener.
type ListenerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
}

// DefaultListenerConfig returns the default listener configuration.
func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		PingInterval:   time.Second * 30,
		ReadTimeout:    time.Second * 120,
		ReconnectDelay: time.Millisecond * 500,
	}
}

// ListenerOption modifies a listener configuration attribute.
type ListenerOption func(*ListenerConfig) error

// WithReconnectDelay overrides the sleep before re-dialing a dropped
// websocket connection.
func WithReconnectDelay(d time.Duration) ListenerOption {
	return func(c *ListenerConfig) error {
		if d <= 0 {
			return fmt.Errorf("reconnect delay %v must be positive", d)
		}
		c.ReconnectDelay = d
		return nil
	}
}

// WithPingInterval overrides the keepalive ping period.
func WithPingInterval(d time.Duration) ListenerOption {
	return func(c *ListenerConfig) error {
		if d <= 0 {
			return fmt.Errorf("ping interval %v must be positive", d)
		}
		c.PingInterval = d
		return nil
	}
}

type subscription struct {
	contractAddress string
	topic           string
}

// Listener maintains a websocket connection to the node, seats one
// eth_subscribe logs subscription per registered contract, and fans raw
// notifications into the processing stage.
//
// Node-assigned subscription ids only live as long as a connection, so every
// log is re-tagged with a stable internal id before leaving the listener.
type Listener struct {
	log    zerolog.Logger
	wssURI string
	config *ListenerConfig

	subscriptions []subscription
	reconnects    *atomic.Int64
}

// NewListener returns a listener that will dial the node's websocket
// endpoint at wssURI.
func NewListener(wssURI string, opts ...ListenerOption) (*Listener, error) {
	config := DefaultListenerConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}
	return &Listener{
		log:        logger.With().Str("component", "listener").Logger(),
		wssURI:     wssURI,
		config:     config,
		reconnects: atomic.NewInt64(0),
	}, nil
}

// AddSubscription registers a logs subscription for the contract and
// topics[0] pair and returns its internal id. Must be called before
// ListenForever.
func (l *Listener) AddSubscription(contractAddress, topic string) int {
	l.subscriptions = append(l.subscriptions, subscription{
		contractAddress: contractAddress,
		topic:           topic,
	})
	return len(l.subscriptions) - 1
}

// Reconnects returns how many times the websocket connection was re-dialed.
func (l *Listener) Reconnects() int64 {
	return l.reconnects.Load()
}

// ListenForever dials the node, seats all registered subscriptions, and
// pushes every notification into out until ctx is canceled. Dropped
// connections are re-dialed and re-seated transparently; protocol-level
// failures are returned.
func (l *Listener) ListenForever(ctx context.Context, out chan<- ListenerOutput) error {
	if len(l.subscriptions) == 0 {
		return fmt.Errorf("no subscriptions registered")
	}
	for {
		if err := l.listen(ctx, out); err != nil {
			return fmt.Errorf("listening for event logs: %s", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		l.reconnects.Inc()
		l.log.Warn().Msg("websocket connection dropped, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.config.ReconnectDelay):
		}
	}
}

// wsMessage is the union of subscription responses and log notifications.
type wsMessage struct {
	ID     *int                `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       RawLog `json:"result"`
	} `json:"params"`
}

// listen runs a single connection to completion. A nil return means the
// connection was lost (or ctx canceled) and the caller may re-dial; a
// non-nil return is fatal.
func (l *Listener) listen(ctx context.Context, out chan<- ListenerOutput) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wssURI, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn().Err(err).Msg("dialing websocket endpoint failed")
		return nil
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read loop when the daemon shuts down.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	_ = conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
	})
	go l.keepAlive(connCtx, conn, &writeMu)

	for id, sub := range l.subscriptions {
		req := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      id,
			"method":  "eth_subscribe",
			"params": []interface{}{
				"logs",
				map[string]interface{}{
					"address": sub.contractAddress,
					"topics":  []string{sub.topic},
				},
			},
		}
		writeMu.Lock()
		err := conn.WriteJSON(req)
		writeMu.Unlock()
		if err != nil {
			return nil
		}
	}

	// Node-assigned subscription id to internal id, rebuilt per connection.
	idmap := map[string]int{}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn().Err(err).Msg("reading websocket message failed")
			return nil
		}

		var msg wsMessage
		if err := jsoniter.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding websocket message: %s", err)
		}
		switch {
		case msg.ID != nil:
			if msg.Error != nil {
				return fmt.Errorf("subscription %d rejected: %s", *msg.ID, msg.Error.Message)
			}
			var nodeSubID string
			if err := jsoniter.Unmarshal(msg.Result, &nodeSubID); err != nil {
				return fmt.Errorf("decoding subscription id: %s", err)
			}
			if *msg.ID < 0 || *msg.ID >= len(l.subscriptions) {
				return fmt.Errorf("subscription response for unknown request id %d", *msg.ID)
			}
			idmap[nodeSubID] = *msg.ID
			l.log.Info().
				Int("subscription_id", *msg.ID).
				Str("node_subscription_id", nodeSubID).
				Msg("subscription seated")
		case msg.Method == "eth_subscription" && msg.Params != nil:
			internalID, ok := idmap[msg.Params.Subscription]
			if !ok {
				return fmt.Errorf("notification for unknown subscription %s", msg.Params.Subscription)
			}
			select {
			case <-ctx.Done():
				return nil
			case out <- ListenerOutput{SubscriptionID: internalID, Log: msg.Params.Result}:
			}
		default:
			l.log.Warn().Str("payload", string(payload)).Msg("ignoring unexpected websocket message")
		}
	}
}

func (l *Listener) keepAlive(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second*10))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
