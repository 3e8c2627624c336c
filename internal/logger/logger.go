package logger

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogMessage 日志消息结构
type LogMessage struct {
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster 把服务器日志同时写入标准日志并广播给管理端WebSocket订阅者
type Broadcaster struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan LogMessage
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewBroadcaster 创建日志广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan LogMessage, 256),
		stopChan:  make(chan struct{}),
	}
}

// Run 广播主循环，通常在独立goroutine中运行
func (b *Broadcaster) Run() {
	for {
		select {
		case msg := <-b.broadcast:
			b.mu.Lock()
			for client := range b.clients {
				client.SetWriteDeadline(time.Now().Add(time.Second))
				if err := client.WriteJSON(msg); err != nil {
					delete(b.clients, client)
					client.Close()
				}
			}
			b.mu.Unlock()
		case <-b.stopChan:
			b.mu.Lock()
			for client := range b.clients {
				client.Close()
				delete(b.clients, client)
			}
			b.mu.Unlock()
			return
		}
	}
}

// Stop 停止广播并断开所有订阅者
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 管理端口不做来源限制
	},
}

// HandleWebSocket 处理管理端日志流订阅
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("日志流升级失败: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	b.mu.Unlock()

	// 订阅者只读；读循环仅用于感知断开
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// emit 写标准日志并尽力广播，通道满时丢弃避免阻塞调用方
func (b *Broadcaster) emit(level, module, message string) {
	log.Printf("[%s] %s: %s", level, module, message)
	if b == nil {
		return
	}
	select {
	case b.broadcast <- LogMessage{Level: level, Module: module, Message: message, Timestamp: time.Now()}:
	default:
	}
}

// 全局日志器实例
var (
	global   *Broadcaster
	initOnce sync.Once
)

// Init 初始化全局日志器
func Init() *Broadcaster {
	initOnce.Do(func() {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		global = NewBroadcaster()
		go global.Run()
	})
	return global
}

// Global 获取全局日志器，可能为nil（未Init时仅写标准日志）
func Global() *Broadcaster {
	return global
}

// 便捷函数

func LogInfo(module, message string) {
	global.emit("INFO", module, message)
}

func LogWarning(module, message string) {
	global.emit("WARNING", module, message)
}

func LogError(module, message string) {
	global.emit("ERROR", module, message)
}
