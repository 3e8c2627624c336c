package logclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"GoCmdLogServer/internal/iolog"
	"GoCmdLogServer/internal/protocol"
)

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// CommitHandler 提交点处理器，服务端每落盘一条记录回调一次
type CommitHandler func(elapsed iolog.TimeSpec)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 客户端配置
type ClientConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	EnableCompression bool
	UserAgent         string
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectTries: 10,
		EnableCompression: false,
		UserAgent:         "GoCmdLogServer/1.0",
	}
}

// Client 日志提交客户端。连接断开后以指数退避重连，
// 并在最后一次服务端确认的提交点上发起续录。
type Client struct {
	config *ClientConfig
	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  atomic.Int32

	onCommit      CommitHandler
	onStateChange StateChangeHandler

	// 同步控制
	mu       sync.RWMutex
	writeMu  sync.Mutex // 专用于WebSocket写入同步
	stopChan chan struct{}
	stopOnce sync.Once

	// 续录状态：会话标识与最后确认的提交点
	logID      string
	lastCommit iolog.TimeSpec

	exited     atomic.Bool // 已发送退出消息，服务端关连接属正常收尾
	reconnects atomic.Int32
}

// New 创建日志提交客户端
func New(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	dialer.EnableCompression = config.EnableCompression

	c := &Client{
		config:   config,
		dialer:   &dialer,
		stopChan: make(chan struct{}),
	}
	c.setState(StateDisconnected)
	return c
}

// SetCommitHandler 设置提交点处理器
func (c *Client) SetCommitHandler(handler CommitHandler) {
	c.onCommit = handler
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// StartSession 连接服务器并开始一次新会话，返回服务端下发的会话标识
func (c *Client) StartSession(ctx context.Context, exec *protocol.ExecMessage) (string, error) {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return "", errors.New("client is not in disconnected state")
	}

	if err := c.doConnect(ctx, protocol.OpExec, exec); err != nil {
		c.setState(StateDisconnected)
		return "", err
	}

	c.setState(StateConnected)
	go c.readLoop()

	return c.LogID(), nil
}

// doConnect 建立连接并完成开场握手（EXEC 或 RESTART + LOG_ID 应答）
func (c *Client) doConnect(ctx context.Context, opcode uint16, msg any) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	frame, err := protocol.EncodeMessage(opcode, msg)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		conn.Close()
		return fmt.Errorf("send %s failed: %w", protocol.OpcodeToString(opcode), err)
	}

	// 等待会话标识应答
	conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read handshake response failed: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	respOp, body, err := protocol.DecodeFrame(raw)
	if err != nil {
		conn.Close()
		return err
	}
	if respOp == protocol.OpError {
		var errMsg protocol.ErrorMessage
		_ = protocol.DecodeBody(respOp, body, &errMsg)
		conn.Close()
		return fmt.Errorf("server rejected session: %s", errMsg.Message)
	}
	if respOp != protocol.OpLogID {
		conn.Close()
		return fmt.Errorf("unexpected opcode for handshake response: %s",
			protocol.OpcodeToString(respOp))
	}

	var logID protocol.LogIDMessage
	if err := protocol.DecodeBody(respOp, body, &logID); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.logID = logID.LogID
	c.mu.Unlock()

	return nil
}

// readLoop 处理服务端应答：提交点推进续录状态，错误应答视为会话终止
func (c *Client) readLoop() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}
			if c.exited.Load() {
				c.setState(StateDisconnected)
				return
			}
			if c.getState() == StateConnected {
				go c.reconnect()
			}
			return
		}

		opcode, body, err := protocol.DecodeFrame(raw)
		if err != nil {
			log.Printf("bad frame from server: %v", err)
			continue
		}

		switch opcode {
		case protocol.OpCommitPoint:
			var msg protocol.CommitPointMessage
			if err := protocol.DecodeBody(opcode, body, &msg); err != nil {
				log.Printf("bad commit point: %v", err)
				continue
			}
			c.mu.Lock()
			c.lastCommit = msg.Elapsed
			c.mu.Unlock()
			if c.onCommit != nil {
				c.onCommit(msg.Elapsed)
			}
		case protocol.OpError:
			var msg protocol.ErrorMessage
			_ = protocol.DecodeBody(opcode, body, &msg)
			log.Printf("server error: %s", msg.Message)
			c.setState(StateDisconnected)
			return
		default:
			log.Printf("unexpected opcode from server: %s", protocol.OpcodeToString(opcode))
		}
	}
}

// reconnect 指数退避重连，并在最后确认的提交点上续录
func (c *Client) reconnect() {
	if !c.compareAndSwapState(StateConnected, StateReconnecting) {
		return
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	restart := protocol.RestartMessage{
		LogID:       c.logID,
		ResumePoint: c.lastCommit,
	}
	c.mu.Unlock()

	log.Printf("connection lost, resuming %s at %s", restart.LogID, restart.ResumePoint)

	// 指数退避
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxElapsedTime = time.Duration(c.config.MaxReconnectTries) * c.config.ReconnectInterval

	ctx := context.Background()
	err := backoff.Retry(func() error {
		select {
		case <-c.stopChan:
			return backoff.Permanent(errors.New("client closed"))
		default:
		}
		return c.doConnect(ctx, protocol.OpRestart, restart)
	}, backOff)

	if err != nil {
		log.Printf("resume failed: %v", err)
		c.setState(StateDisconnected)
		return
	}

	log.Printf("resumed successfully at %s", restart.ResumePoint)
	c.reconnects.Add(1)
	c.setState(StateConnected)
	go c.readLoop()
}

// StoreData 发送一段捕获数据
func (c *Client) StoreData(kind iolog.StreamKind, data []byte, delay iolog.TimeSpec) error {
	return c.sendMessage(protocol.OpIoBuffer, protocol.IoBufferMessage{
		Stream: int(kind),
		Delay:  delay,
		Data:   data,
	})
}

// StoreSuspend 发送一条挂起事件
func (c *Client) StoreSuspend(signal string, delay iolog.TimeSpec) error {
	return c.sendMessage(protocol.OpSuspend, protocol.SuspendMessage{
		Signal: signal,
		Delay:  delay,
	})
}

// StoreWinsize 发送一条窗口变更事件
func (c *Client) StoreWinsize(rows, cols int, delay iolog.TimeSpec) error {
	return c.sendMessage(protocol.OpWinsize, protocol.WinsizeMessage{
		Rows:  rows,
		Cols:  cols,
		Delay: delay,
	})
}

// Exit 通知服务端会话结束，此后服务端关闭连接不再触发重连
func (c *Client) Exit(exitStatus int) error {
	if err := c.sendMessage(protocol.OpExit, protocol.ExitMessage{ExitStatus: exitStatus}); err != nil {
		return err
	}
	c.exited.Store(true)
	return nil
}

// sendMessage 序列化并发送一帧
func (c *Client) sendMessage(opcode uint16, msg any) error {
	if c.getState() != StateConnected {
		return fmt.Errorf("client is not connected (state=%s)", c.getState())
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return errors.New("connection is nil")
	}

	frame, err := protocol.EncodeMessage(opcode, msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// LogID 服务端下发的会话标识
func (c *Client) LogID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logID
}

// LastCommit 最后确认的提交点
func (c *Client) LastCommit() iolog.TimeSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCommit
}

// Reconnects 成功重连次数
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// State 当前连接状态
func (c *Client) State() ClientState {
	return c.getState()
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.setState(StateClosed)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

func (c *Client) compareAndSwapState(oldState, newState ClientState) bool {
	ok := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if ok && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return ok
}
