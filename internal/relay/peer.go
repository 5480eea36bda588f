package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livesync/pkg/types"
)

// peer is one participant's socket on the relay. All writes go through a
// single goroutine; gorilla connections allow only one concurrent writer.
type peer struct {
	id        string
	sessionID string
	identity  types.UserIdentity

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

func newPeer(conn *websocket.Conn, sessionID string, identity types.UserIdentity, writeTimeout time.Duration) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:           uuid.NewString(),
		sessionID:    sessionID,
		identity:     identity,
		conn:         conn,
		writeCh:      make(chan []byte, 100),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go p.writeLoop()
	return p
}

func (p *peer) writeLoop() {
	for {
		select {
		case data := <-p.writeCh:
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
				p.Close()
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.Close()
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (p *peer) WriteJSON(v any) error {
	select {
	case <-p.ctx.Done():
		return ErrPeerClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(p.writeTimeout)
	defer timer.Stop()
	select {
	case p.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-p.ctx.Done():
		return ErrPeerClosed
	}
}

// Close is safe to call more than once.
func (p *peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.conn.Close()
	})
	return err
}

func (p *peer) Done() <-chan struct{} { return p.ctx.Done() }
