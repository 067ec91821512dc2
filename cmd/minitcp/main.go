// =============================================================================
// 文件: cmd/minitcp/main.go
// 描述: 主程序入口 - 可靠传输回显服务/客户端, 集成 Prometheus 指标
// =============================================================================
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrcgq/minitcp/internal/channel"
	"github.com/mrcgq/minitcp/internal/config"
	"github.com/mrcgq/minitcp/internal/metrics"
	"github.com/mrcgq/minitcp/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("listen", "", "覆盖监听地址 (被动侧)")
	connect := flag.String("connect", "", "对端地址 (主动侧, 设置后以客户端模式运行)")
	wsURL := flag.String("ws", "", "WebSocket 地址 (主动侧, 替代 UDP 通道)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("minitcp %s (built %s)\n", Version, BuildTime)
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics 服务器
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		if err := metricsServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	// 建立通道与连接
	conn, err := setup(ctx, cfg, *connect, *wsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if metricsServer != nil {
		metricsServer.MustRegisterCollector(metrics.NewConnCollector("main", conn))
	}

	printBanner(cfg, *connect, *wsURL)

	// 信号触发优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n正在关闭...")
		cancel()
		conn.Close()
	}()

	if *connect != "" || *wsURL != "" {
		err = runClient(conn)
	} else {
		err = runEcho(conn)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
	}

	conn.Close()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsServer.Stop(shutdownCtx)
		shutdownCancel()
	}
}

// loadConfig 加载配置文件, 文件不存在时回退到默认配置
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// setup 建立数据报通道并完成握手。
// connect/wsURL 非空为主动侧, 否则在 cfg.Listen 上被动等待。
func setup(ctx context.Context, cfg *config.Config, connect, wsURL string) (*transport.Conn, error) {
	connCfg := cfg.Transport.ConnConfig(cfg.LogLevel)

	switch {
	case wsURL != "":
		ch, err := channel.DialWS(ctx, wsURL)
		if err != nil {
			return nil, err
		}
		conn := transport.New(ch, connCfg)
		if err := conn.Connect(ctx, ch.RemoteAddr()); err != nil {
			ch.Close()
			return nil, fmt.Errorf("握手失败: %w", err)
		}
		return conn, nil

	case connect != "":
		ch, err := channel.ListenUDP(":0")
		if err != nil {
			return nil, fmt.Errorf("绑定 UDP 套接字失败: %w", err)
		}
		raddr, err := channel.ResolveUDP(connect)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("解析对端地址失败: %w", err)
		}
		conn := transport.New(ch, connCfg)
		if err := conn.Connect(ctx, raddr); err != nil {
			ch.Close()
			return nil, fmt.Errorf("握手失败: %w", err)
		}
		return conn, nil

	default:
		ch, err := channel.ListenUDP(cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("绑定监听地址失败: %w", err)
		}
		fmt.Printf("[INFO] 正在 %s 上等待连接...\n", cfg.Listen)
		conn := transport.New(ch, connCfg)
		if err := conn.Accept(ctx); err != nil {
			ch.Close()
			return nil, fmt.Errorf("接受连接失败: %w", err)
		}
		return conn, nil
	}
}

// runEcho 被动侧: 收到什么回什么
func runEcho(conn *transport.Conn) error {
	for {
		data, err := conn.Recv(65536)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil // 对端关闭
		}
		if err := conn.Send(data); err != nil {
			return err
		}
	}
}

// runClient 主动侧: 逐行发送标准输入, 打印回显
func runClient(conn *transport.Conn) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			data, err := conn.Recv(65536)
			if err != nil || len(data) == 0 {
				return
			}
			fmt.Printf("<< %s\n", data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := conn.Send(line); err != nil {
			return err
		}
	}

	conn.Close()
	<-done
	return scanner.Err()
}

func printBanner(cfg *config.Config, connect, wsURL string) {
	mode := "echo 服务 (UDP " + cfg.Listen + ")"
	if wsURL != "" {
		mode = "客户端 (WebSocket " + wsURL + ")"
	} else if connect != "" {
		mode = "客户端 (UDP " + connect + ")"
	}

	fmt.Println("=============================================")
	fmt.Printf("  minitcp %s\n", Version)
	fmt.Printf("  模式: %s\n", mode)
	if cfg.Metrics.Enabled {
		fmt.Printf("  指标: http://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("=============================================")
}
