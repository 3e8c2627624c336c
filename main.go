package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"GoCmdLogServer/internal/catalog"
	"GoCmdLogServer/internal/config"
	"GoCmdLogServer/internal/iolog"
	"GoCmdLogServer/internal/logclient"
	"GoCmdLogServer/internal/logger"
	"GoCmdLogServer/internal/logsrv"
	"GoCmdLogServer/internal/protocol"
)

func main() {
	var (
		mode     = flag.String("mode", "demo", "运行模式: demo, server, client")
		url      = flag.String("url", "ws://localhost:30344/log", "WebSocket连接URL")
		command  = flag.String("command", "/bin/ls", "被记录的命令路径")
		args     = flag.String("args", "ls -l", "命令参数(空格分隔)")
		user     = flag.String("user", "operator", "提交用户")
		host     = flag.String("host", "localhost", "提交主机")
		duration = flag.Duration("duration", 10*time.Second, "客户端运行时长")
	)
	flag.Parse()

	switch *mode {
	case "demo":
		runDemo()
	case "server":
		runServer()
	case "client":
		runClient(*url, *command, *args, *user, *host, *duration)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("🚀 GoCmdLogServer - 特权命令会话日志服务器")
	fmt.Println("==========================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ 会话I/O日志落盘(timing/stdin/stdout/stderr/ttyin/ttyout)")
	fmt.Println("  ✅ WebSocket二进制帧传输 + 提交点确认")
	fmt.Println("  ✅ 断线续录：重放timing日志精确定位续录点")
	fmt.Println("  ✅ PostgreSQL会话目录(可选)")
	fmt.Println("  ✅ 管理API(/healthz /stats /sessions)")
	fmt.Println("  ✅ 配置热更新(viper + fsnotify)")
	fmt.Println()

	fmt.Println("🔧 快速开始:")
	fmt.Println("  # 启动日志服务器")
	fmt.Println("  go run main.go -mode=server")
	fmt.Println()
	fmt.Println("  # 运行演示客户端(提交一个模拟会话)")
	fmt.Println("  go run main.go -mode=client -command=/bin/ls -args='ls -l'")
	fmt.Println()
	fmt.Println("  # 运行所有测试")
	fmt.Println("  go test ./...")
	fmt.Println()

	fmt.Println("📚 配置:")
	fmt.Println("  configs/logsrv.yaml 或环境变量 LOGSRV_*")
}

// runServer 运行日志服务器
func runServer() {
	cfg, v, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	config.Watch(v, func(newCfg *config.ServerConfig) {
		log.Printf("配置文件已更新，部分变更需重启生效")
	})

	logger.Init()

	fmt.Printf("🖥️  启动日志服务器 %s\n", cfg.Listen.Addr)

	// 可选的会话目录
	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		cat, err = catalog.Connect(context.Background(), &catalog.Config{
			Host:     cfg.Catalog.Host,
			Port:     cfg.Catalog.Port,
			User:     cfg.Catalog.User,
			Password: cfg.Catalog.Password,
			DBName:   cfg.Catalog.DBName,
			SSLMode:  cfg.Catalog.SSLMode,
		})
		if err != nil {
			log.Fatalf("连接会话目录失败: %v", err)
		}
		defer cat.Close()
		fmt.Printf("🗄️  会话目录已启用: %s:%d/%s\n", cfg.Catalog.Host, cfg.Catalog.Port, cfg.Catalog.DBName)
	}

	server := logsrv.New(logsrv.FromConfig(cfg), cat)
	if err := server.Start(); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}

	admin := logsrv.NewAdminServer(cfg.Listen.AdminAddr, server, logger.Global())
	admin.Start()

	fmt.Printf("✅ 服务器已启动\n")
	fmt.Printf("📁 日志目录: %s\n", cfg.IoLog.Dir)
	fmt.Printf("🔌 WebSocket端点: ws://localhost%s%s\n", cfg.Listen.Addr, cfg.WebSocket.Path)
	fmt.Printf("📊 统计信息: http://localhost%s/stats\n", cfg.Listen.AdminAddr)

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	fmt.Println("\n🔄 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := admin.Shutdown(ctx); err != nil {
		log.Printf("管理服务器关闭错误: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭错误: %v", err)
	}

	fmt.Println("✅ 服务器已关闭")
}

// runClient 运行演示客户端，提交一个模拟会话
func runClient(url, command, args, user, host string, duration time.Duration) {
	fmt.Printf("🔥 提交模拟会话\n")
	fmt.Printf("   连接URL: %s\n", url)
	fmt.Printf("   命令: %s %s\n", command, args)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), duration+10*time.Second)
	defer cancel()

	client := logclient.New(logclient.DefaultClientConfig(url))

	client.SetCommitHandler(func(elapsed iolog.TimeSpec) {
		fmt.Printf("📌 提交点: %s\n", elapsed)
	})
	client.SetStateChangeHandler(func(oldState, newState logclient.ClientState) {
		fmt.Printf("🔄 状态: %s -> %s\n", oldState, newState)
	})

	exec := &protocol.ExecMessage{
		StartTime: time.Now().Unix(),
		Info: []iolog.InfoItem{
			{Key: "command", Str: &command},
			{Key: "submituser", Str: &user},
			{Key: "submithost", Str: &host},
			{Key: "runargv", StrList: strings.Fields(args)},
		},
	}

	logID, err := client.StartSession(ctx, exec)
	if err != nil {
		log.Fatalf("开始会话失败: %v", err)
	}
	fmt.Printf("✅ 会话已创建: %s\n", logID)

	// 周期性输出，直到超时
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(duration)
	seq := 0

	for done := false; !done; {
		select {
		case <-deadline:
			done = true
		case <-ticker.C:
			seq++
			line := fmt.Sprintf("output line %d\r\n", seq)
			delay := iolog.TimeSpec{Nsec: 500 * 1000 * 1000}
			if err := client.StoreData(iolog.StreamStdout, []byte(line), delay); err != nil {
				log.Printf("发送数据失败: %v", err)
			}
		}
	}

	if err := client.Exit(0); err != nil {
		log.Printf("发送退出消息失败: %v", err)
	}

	// 等待最后的提交点确认
	time.Sleep(500 * time.Millisecond)

	fmt.Println()
	fmt.Printf("📊 会话结束: logID=%s lastCommit=%s reconnects=%d\n",
		client.LogID(), client.LastCommit(), client.Reconnects())

	client.Close()
	fmt.Println("✅ 客户端已关闭")
}
