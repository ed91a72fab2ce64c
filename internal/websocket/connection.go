package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	xlog "playsession/internal/log"
)

// ConnectionConfig tunes one subscriber connection.
type ConnectionConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// DefaultConnectionConfig mirrors the websocket section defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{SendBuffer: 100, WriteTimeout: 10 * time.Second}
}

// Connection implements the interfaces.Connection interface.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer, so
// every frame goes through writeCh and the single writeLoop goroutine. A nil
// frame on writeCh ends the stream with a close frame.
type Connection struct {
	id            string
	conn          *websocket.Conn
	writeCh       chan []byte
	writeTimeout  time.Duration
	userID        string
	role          string
	sessionID     string
	authenticated bool
	closeReason   string
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	done          chan struct{}
	mu            sync.RWMutex
	logger        zerolog.Logger

	// While held, TrySend parks frames in pending until Release.
	holdMu  sync.Mutex
	held    bool
	pending []interface{}
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, cfg ConnectionConfig) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConnectionConfig().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, cfg.SendBuffer),
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		logger:       xlog.WithComponent("websocket"),
	}
	c.logger = c.logger.With().Str("connection_id", c.id).Logger()

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer close(c.done)

	for {
		select {
		case data := <-c.writeCh:
			if data == nil {
				c.mu.RLock()
				reason := c.closeReason
				c.mu.RUnlock()
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
				_ = c.Close()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log().Debug().Err(err).Msg("websocket write failed")
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v, waiting up to the write timeout for buffer space.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := c.encode(v)
	if err != nil {
		return err
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// TrySend queues v without blocking. A full buffer drops the frame.
func (c *Connection) TrySend(v interface{}) error {
	c.holdMu.Lock()
	if c.held {
		defer c.holdMu.Unlock()
		select {
		case <-c.ctx.Done():
			return ErrConnectionClosed
		default:
		}
		if len(c.pending) >= cap(c.writeCh) {
			return ErrSendBufferFull
		}
		c.pending = append(c.pending, v)
		return nil
	}
	c.holdMu.Unlock()

	data, err := c.encode(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Hold parks every TrySend frame until Release, so a subscriber can be
// registered before its snapshot is built.
func (c *Connection) Hold() {
	c.holdMu.Lock()
	c.held = true
	c.holdMu.Unlock()
}

// Release queues first, then every held frame that keep accepts, and resumes
// direct delivery. A nil keep accepts everything.
func (c *Connection) Release(first interface{}, keep func(interface{}) bool) error {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	pending := c.pending
	c.pending, c.held = nil, false

	if err := c.WriteJSON(first); err != nil {
		return err
	}
	for _, v := range pending {
		if keep != nil && !keep(v) {
			continue
		}
		if err := c.WriteJSON(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) encode(v interface{}) ([]byte, error) {
	select {
	case <-c.ctx.Done():
		return nil, ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, ErrInvalidJSON
	}
	return data, nil
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Shutdown ends the stream after the frames already queued. A connection
// whose buffer is full is closed at once.
func (c *Connection) Shutdown(reason string) {
	c.mu.Lock()
	c.closeReason = reason
	c.mu.Unlock()

	select {
	case c.writeCh <- nil:
	case <-c.ctx.Done():
	default:
		_ = c.Close()
	}
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID uniquely identifies this connection within the process.
func (c *Connection) ID() string {
	return c.id
}

// SetCredentials records the subscriber identity after authorization.
func (c *Connection) SetCredentials(userID, role, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true
	c.logger = xlog.WithSession("websocket", sessionID).With().
		Str("connection_id", c.id).
		Str("role", role).
		Logger()

	return nil
}

func (c *Connection) log() *zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.logger
	return &l
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
