package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	replyBuffer    = 16
)

// ChatEngine is the part of the chat server a connection drives.
type ChatEngine interface {
	Subscribe(s *server.Session, topic string) error
	Unsubscribe(s *server.Session, topic string)
	Disconnect(s *server.Session)
	SendMessage(roomId, userId int, content string, mt types.MessageType) (types.Message, error)
	SetTyping(roomId, userId int, typing bool) error
	MarkRead(messageId, userId int) (bool, error)
}

// Client pumps one session over a websocket connection. Events come from
// the session queue; replies to the client's own frames go through a
// separate small queue so they never count against event backpressure.
type Client struct {
	conn    *websocket.Conn
	engine  ChatEngine
	session *server.Session
	log     *log.Logger
	replies chan *ServerMessage
	stop    chan struct{}
	once    sync.Once
}

func NewClient(session *server.Session, conn *websocket.Conn, engine ChatEngine, l *log.Logger) *Client {
	return &Client{
		conn:    conn,
		engine:  engine,
		session: session,
		log:     l,
		replies: make(chan *ServerMessage, replyBuffer),
		stop:    make(chan struct{}),
	}
}

// Start runs the read and write pumps until the connection ends.
func (c *Client) Start() {
	go c.Write()
	go c.Read()
}

func closeCode(reason server.CloseReason) int {
	switch reason {
	case server.CloseOverflow:
		return websocket.CloseTryAgainLater
	case server.CloseShutdown:
		return websocket.CloseGoingAway
	}
	return websocket.CloseNormalClosure
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.session.Outbound():
			if env = c.session.Resolve(env); env == nil {
				continue
			}
			if !c.writeJson(NewEvent(env)) {
				return
			}
		case msg := <-c.replies:
			if !c.writeJson(msg) {
				return
			}
		case <-c.session.Done():
			reason := c.session.CloseReason()
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode(reason), reason.String()))
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.engine.Disconnect(c.session)
		c.once.Do(func() { close(c.stop) })
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueReply(ErrInvalidMessage(-1))
			continue
		}

		c.queueReply(c.handle(&msg))
	}
}

func (c *Client) handle(msg *ClientMessage) *ServerMessage {
	userId := c.session.User.Id

	switch {
	case msg.Subscribe != nil:
		if err := c.engine.Subscribe(c.session, msg.Subscribe.Topic); err != nil {
			return ErrFromEngine(msg.Id, err)
		}
		return NoErrOK(msg.Id, nil)
	case msg.Unsubscribe != nil:
		c.engine.Unsubscribe(c.session, msg.Unsubscribe.Topic)
		return NoErrOK(msg.Id, nil)
	case msg.Publish != nil:
		m, err := c.engine.SendMessage(msg.Publish.RoomId, userId, msg.Publish.Content, msg.Publish.Type)
		if err != nil {
			return ErrFromEngine(msg.Id, err)
		}
		return NoErrOK(msg.Id, map[string]any{"message": m})
	case msg.Typing != nil:
		if err := c.engine.SetTyping(msg.Typing.RoomId, userId, msg.Typing.Typing); err != nil {
			return ErrFromEngine(msg.Id, err)
		}
		return NoErrAccepted(msg.Id)
	case msg.Read != nil:
		changed, err := c.engine.MarkRead(msg.Read.MessageId, userId)
		if err != nil {
			return ErrFromEngine(msg.Id, err)
		}
		return NoErrOK(msg.Id, map[string]any{"changed": changed})
	}

	return ErrInvalidMessage(msg.Id)
}

func (c *Client) queueReply(msg *ServerMessage) bool {
	select {
	case c.replies <- msg:
	default:
		c.log.Printf("reply queue full for %q, dropping response", c.session.User.Username)
		return false
	}

	return true
}

func (c *Client) writeJson(msg *ServerMessage) bool {
	bytes, err := json.Marshal(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}
