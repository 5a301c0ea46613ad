// Package listener turns postgres NOTIFY events into in-process work.
package listener

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	channelName          = "institution_connection_added"
	reconnectInterval    = 5 * time.Second
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// ConnectionAdded is the payload of the institution_connection_added trigger
type ConnectionAdded struct {
	ID       int64  `json:"id"`
	Provider string `json:"provider"`
}

// Handler receives every new institution connection
type Handler func(ctx context.Context, ev ConnectionAdded)

// ConnectionListener listens for new institution connections so that poll-only
// providers get their first sync without waiting for the next scheduled run.
type ConnectionListener struct {
	connStr    string
	handler    Handler
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewConnectionListener creates a listener on a dedicated connection
func NewConnectionListener(connStr string, handler Handler) *ConnectionListener {
	return &ConnectionListener{
		connStr:    connStr,
		handler:    handler,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *ConnectionListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Connection listener started")
}

// Stop gracefully shuts down the listener
func (l *ConnectionListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Connection listener stopped")
}

func (l *ConnectionListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for notifications...")
		}
	}
}

func (l *ConnectionListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", channelName, err)
		return
	}
	log.Printf("Listening on channel: %s", channelName)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost; pq re-establishes it and we may have missed events
				continue
			}
			l.dispatch(notification)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *ConnectionListener) dispatch(notification *pq.Notification) {
	ev, err := parsePayload(notification.Extra)
	if err != nil {
		log.Printf("Failed to parse %s payload: %v", notification.Channel, err)
		return
	}
	// Detached from the listener context so shutdown does not cut a handler short
	go l.handler(context.Background(), ev)
}

func parsePayload(extra string) (ConnectionAdded, error) {
	var ev ConnectionAdded
	err := json.Unmarshal([]byte(extra), &ev)
	return ev, err
}
