package logsrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"GoCmdLogServer/internal/catalog"
	"GoCmdLogServer/internal/config"
	"GoCmdLogServer/internal/iolog"
	"GoCmdLogServer/internal/logger"
	"GoCmdLogServer/internal/protocol"
)

// ServerConfig 日志接收端配置
type ServerConfig struct {
	Addr              string
	Path              string
	IoLogDir          string
	MaxConnections    int
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr, ioLogDir string) *ServerConfig {
	return &ServerConfig{
		Addr:              addr,
		Path:              "/log",
		IoLogDir:          ioLogDir,
		MaxConnections:    1024,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: false,
	}
}

// FromConfig 从统一配置构造服务器配置
func FromConfig(cfg *config.ServerConfig) *ServerConfig {
	return &ServerConfig{
		Addr:              cfg.Listen.Addr,
		Path:              cfg.WebSocket.Path,
		IoLogDir:          cfg.IoLog.Dir,
		MaxConnections:    cfg.WebSocket.MaxConnections,
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		EnableCompression: cfg.WebSocket.EnableCompression,
	}
}

// closure 一条连接的会话状态。所有消息在该连接的读循环内串行处理，
// 录制器与续录引擎不会在同一会话上并发执行。
type closure struct {
	id      string
	conn    *websocket.Conn
	session *iolog.Session // 收到 EXEC/RESTART 之前为 nil

	writeMu   sync.Mutex // 专用于WebSocket写入同步
	stopChan  chan struct{}
	closeOnce sync.Once
}

// safeClose 安全关闭连接的stopChan
func (c *closure) safeClose() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
}

// Server 命令I/O日志服务器，接收客户端的录制与续录消息
type Server struct {
	config   *ServerConfig
	manager  *iolog.Manager
	catalog  *catalog.Catalog // 可选，nil 表示未启用
	server   *http.Server
	upgrader websocket.Upgrader

	// 连接管理
	connections sync.Map // map[string]*closure
	connCount   atomic.Int32
	connWg      sync.WaitGroup

	// 统计信息
	totalConnections atomic.Uint64
	totalSessions    atomic.Uint64
	totalResumes     atomic.Uint64
	totalRecords     atomic.Uint64
	startTime        time.Time

	isRunning atomic.Bool
}

// New 创建日志服务器
func New(cfg *ServerConfig, cat *catalog.Catalog) *Server {
	s := &Server{
		config:  cfg,
		manager: iolog.NewManager(cfg.IoLogDir),
		catalog: cat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true // 客户端不是浏览器，不做来源限制
			},
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return s
}

// Start 启动服务器。监听同步完成，绑定失败立即返回错误。
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	logger.LogInfo("logsrv", fmt.Sprintf("日志服务器监听 %s%s，存储目录 %s",
		s.config.Addr, s.config.Path, s.config.IoLogDir))

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.LogError("logsrv", fmt.Sprintf("服务器退出: %v", err))
		}
	}()

	return nil
}

// Shutdown 关闭服务器，等待所有连接收尾
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	logger.LogInfo("logsrv", "日志服务器关闭中...")

	s.connections.Range(func(key, value interface{}) bool {
		c := value.(*closure)
		s.closeConnection(c, "server shutdown")
		return true
	})
	s.connWg.Wait()

	return s.server.Shutdown(ctx)
}

// DropConnections 强制断开当前所有连接，不停服。会话按异常断线收尾，
// 客户端可在提交点上续录。
func (s *Server) DropConnections(reason string) {
	s.connections.Range(func(key, value interface{}) bool {
		s.closeConnection(value.(*closure), reason)
		return true
	})
}

// handleWebSocket 处理WebSocket连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.LogError("logsrv", fmt.Sprintf("WebSocket升级失败: %v", err))
		return
	}

	c := &closure{
		id:       fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), s.totalConnections.Add(1)),
		conn:     wsConn,
		stopChan: make(chan struct{}),
	}

	s.connections.Store(c.id, c)
	s.connCount.Add(1)
	s.connWg.Add(1)

	logger.LogInfo("logsrv", fmt.Sprintf("新连接 %s 来自 %s", c.id, r.RemoteAddr))

	go s.handleConnection(c)
}

// handleConnection 单条连接的读循环。消息严格按到达顺序处理，
// 连接结束时会话句柄恰好释放一次。
func (s *Server) handleConnection(c *closure) {
	// 会话句柄只由本goroutine释放：外部关闭(Shutdown/DropConnections)
	// 只收底层连接，读循环随之退出后才收会话，保证不与进行中的写入竞争
	defer func() {
		s.closeConnection(c, "connection ended")
		if c.session != nil {
			c.session.Close()
		}
		s.connWg.Done()
	}()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		messageType, rawData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.LogWarning("logsrv", fmt.Sprintf("连接 %s 异常断开: %v", c.id, err))
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			s.sendError(c, "binary frames expected")
			return
		}

		opcode, body, err := protocol.DecodeFrame(rawData)
		if err != nil {
			s.sendError(c, fmt.Sprintf("bad frame: %v", err))
			return
		}

		done, err := s.handleMessage(c, opcode, body)
		if err != nil {
			logger.LogError("logsrv", fmt.Sprintf("连接 %s 处理 %s 失败: %v",
				c.id, protocol.OpcodeToString(opcode), err))
			s.sendError(c, err.Error())
			return
		}
		if done {
			return
		}
	}
}

// handleMessage 分发一条消息，返回 done=true 表示会话正常收尾
func (s *Server) handleMessage(c *closure, opcode uint16, body []byte) (bool, error) {
	switch opcode {
	case protocol.OpExec:
		return false, s.handleExec(c, body)
	case protocol.OpRestart:
		return false, s.handleRestart(c, body)
	case protocol.OpIoBuffer:
		return false, s.handleIoBuffer(c, body)
	case protocol.OpSuspend:
		return false, s.handleSuspend(c, body)
	case protocol.OpWinsize:
		return false, s.handleWinsize(c, body)
	case protocol.OpExit:
		return true, s.handleExit(c, body)
	default:
		return false, fmt.Errorf("unexpected opcode %s", protocol.OpcodeToString(opcode))
	}
}

// handleExec 开始一次新会话：解析元数据、建目录、回发会话标识
func (s *Server) handleExec(c *closure, body []byte) error {
	if c.session != nil {
		return errors.New("session already started on this connection")
	}

	var msg protocol.ExecMessage
	if err := protocol.DecodeBody(protocol.OpExec, body, &msg); err != nil {
		return err
	}

	details, warnings, err := iolog.FillDetails(msg.StartTime, msg.Info)
	for _, w := range warnings {
		logger.LogWarning("logsrv", fmt.Sprintf("连接 %s: %s", c.id, w))
	}
	if err != nil {
		return err
	}

	session, err := s.manager.Create(details)
	if err != nil {
		return err
	}
	c.session = session
	s.totalSessions.Add(1)

	// 目录库是旁路索引，失败只记日志
	if s.catalog != nil {
		if err := s.catalog.RecordStart(context.Background(), session.LogID, details); err != nil {
			logger.LogWarning("logsrv", fmt.Sprintf("目录库登记失败: %v", err))
		}
	}

	logger.LogInfo("logsrv", fmt.Sprintf("会话开始 %s (%s@%s: %s)",
		session.LogID, details.SubmitUser, details.SubmitHost, details.Command))

	return s.sendMessage(c, protocol.OpLogID, protocol.LogIDMessage{LogID: session.LogID})
}

// handleRestart 续录已有会话：重放定时日志定位到续录点
func (s *Server) handleRestart(c *closure, body []byte) error {
	if c.session != nil {
		return errors.New("session already started on this connection")
	}

	var msg protocol.RestartMessage
	if err := protocol.DecodeBody(protocol.OpRestart, body, &msg); err != nil {
		return err
	}
	if msg.ResumePoint.IsNegative() {
		return fmt.Errorf("%w: negative resume point", iolog.ErrValidation)
	}

	session, err := s.manager.Reopen(msg.LogID, msg.ResumePoint)
	if err != nil {
		return err
	}
	c.session = session
	s.totalResumes.Add(1)

	if s.catalog != nil {
		if err := s.catalog.MarkResumed(context.Background(), session.LogID); err != nil {
			logger.LogWarning("logsrv", fmt.Sprintf("目录库更新失败: %v", err))
		}
	}

	logger.LogInfo("logsrv", fmt.Sprintf("会话续录 %s @ %s", session.LogID, msg.ResumePoint))

	return s.sendMessage(c, protocol.OpLogID, protocol.LogIDMessage{LogID: session.LogID})
}

// handleIoBuffer 存一段数据并确认提交点
func (s *Server) handleIoBuffer(c *closure, body []byte) error {
	if c.session == nil {
		return errors.New("no session on this connection")
	}

	var msg protocol.IoBufferMessage
	if err := protocol.DecodeBody(protocol.OpIoBuffer, body, &msg); err != nil {
		return err
	}

	kind := iolog.StreamKind(msg.Stream)
	if err := c.session.StoreIoBuffer(kind, msg.Data, msg.Delay); err != nil {
		return err
	}
	s.totalRecords.Add(1)

	return s.sendCommitPoint(c)
}

// handleSuspend 存一条挂起事件
func (s *Server) handleSuspend(c *closure, body []byte) error {
	if c.session == nil {
		return errors.New("no session on this connection")
	}

	var msg protocol.SuspendMessage
	if err := protocol.DecodeBody(protocol.OpSuspend, body, &msg); err != nil {
		return err
	}
	if err := c.session.StoreSuspend(msg.Signal, msg.Delay); err != nil {
		return err
	}
	s.totalRecords.Add(1)

	return s.sendCommitPoint(c)
}

// handleWinsize 存一条窗口变更事件
func (s *Server) handleWinsize(c *closure, body []byte) error {
	if c.session == nil {
		return errors.New("no session on this connection")
	}

	var msg protocol.WinsizeMessage
	if err := protocol.DecodeBody(protocol.OpWinsize, body, &msg); err != nil {
		return err
	}
	if err := c.session.StoreWinsize(msg.Rows, msg.Cols, msg.Delay); err != nil {
		return err
	}
	s.totalRecords.Add(1)

	return s.sendCommitPoint(c)
}

// handleExit 会话正常收尾
func (s *Server) handleExit(c *closure, body []byte) error {
	if c.session == nil {
		return errors.New("no session on this connection")
	}

	var msg protocol.ExitMessage
	if err := protocol.DecodeBody(protocol.OpExit, body, &msg); err != nil {
		return err
	}

	logID := c.session.LogID
	if err := s.sendCommitPoint(c); err != nil {
		return err
	}

	if s.catalog != nil {
		if err := s.catalog.MarkFinished(context.Background(), logID); err != nil {
			logger.LogWarning("logsrv", fmt.Sprintf("目录库更新失败: %v", err))
		}
	}

	logger.LogInfo("logsrv", fmt.Sprintf("会话结束 %s (exit=%d)", logID, msg.ExitStatus))
	return nil
}

// sendCommitPoint 回发当前已落盘的累计时长
func (s *Server) sendCommitPoint(c *closure) error {
	return s.sendMessage(c, protocol.OpCommitPoint,
		protocol.CommitPointMessage{Elapsed: c.session.Elapsed()})
}

// sendMessage 序列化并发送一帧
func (s *Server) sendMessage(c *closure, opcode uint16, msg any) error {
	frame, err := protocol.EncodeMessage(opcode, msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// sendError 尽力回发错误应答，连接随后关闭
func (s *Server) sendError(c *closure, message string) {
	_ = s.sendMessage(c, protocol.OpError, protocol.ErrorMessage{Message: message})
}

// closeConnection 把连接摘出注册表并关闭底层连接。会话句柄不在这里
// 释放：读循环退出时由属主goroutine收尾，见handleConnection。
func (s *Server) closeConnection(c *closure, reason string) {
	c.safeClose()

	if _, loaded := s.connections.LoadAndDelete(c.id); !loaded {
		return
	}
	s.connCount.Add(-1)

	c.conn.Close()

	logger.LogInfo("logsrv", fmt.Sprintf("连接 %s 关闭: %s", c.id, reason))
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds":     time.Since(s.startTime).Seconds(),
		"active_connections": s.connCount.Load(),
		"total_connections":  s.totalConnections.Load(),
		"total_sessions":     s.totalSessions.Load(),
		"total_resumes":      s.totalResumes.Load(),
		"total_records":      s.totalRecords.Load(),
	}
}
