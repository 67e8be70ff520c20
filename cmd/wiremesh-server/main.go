package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuda/wiremesh/echo"
	"github.com/gosuda/wiremesh/wiremesh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wiremesh-server",
	Short: "A framed, optionally encrypted TCP server with session resumption and pooled broadcast",
	RunE:  runServer,
}

var (
	listenTCP     string
	listenAdmin   string
	flagEncrypt   bool
	sessionTTL    time.Duration
	keepAliveTTL  time.Duration
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&listenTCP, "listen-tcp", ":7070", "TCP listen address")
	flags.StringVar(&listenAdmin, "listen-admin", ":8080", "admin HTTP API (healthz/sessions/metrics)")
	flags.BoolVar(&flagEncrypt, "encrypt", true, "require the AES-256-GCM handshake")
	flags.DurationVar(&sessionTTL, "session-ttl", 5*time.Minute, "session lifespan before lazy eviction")
	flags.DurationVar(&keepAliveTTL, "keepalive-timeout", 30*time.Second, "keep-alive watchdog timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := wiremesh.NewSessionRegistry[*echo.Session]()
	pools := wiremesh.NewPools()
	handlers := wiremesh.NewHandlerRegistry[*echo.Packet, *echo.Session](wiremesh.DefaultError)

	registerEchoHandler(handlers)
	registerPoolHandlers(handlers, pools)

	reg := prometheus.NewRegistry()
	metrics := wiremesh.NewMetrics(reg, "wiremesh_server")

	ln, err := wiremesh.Listen[*echo.Packet, *echo.Session](listenTCP, wiremesh.ListenerConfig[*echo.Packet, *echo.Session]{
		Socket:     wiremesh.DefaultSocketConfig(),
		Encryption: wiremesh.EncryptionConfig{Enabled: flagEncrypt},
		KeepAlive: wiremesh.KeepAliveConfig{
			Enabled:  true,
			Interval: keepAliveTTL / 2,
			Timeout:  keepAliveTTL,
		},
		Sessions:  sessions,
		Pools:     pools,
		NewPacket: echo.New,
		NewSession: func(id string) *echo.Session {
			return echo.NewSession(id, sessionTTL)
		},
		Handlers: handlers,
		Metrics:  metrics,
		OnError: func(sessionID string, err error) {
			log.Printf("session %s ended with error: %v", sessionID, err)
		},
	})
	if err != nil {
		return err
	}

	admin := &http.Server{Addr: listenAdmin, Handler: wiremesh.NewAdminRouter[*echo.Session](sessions, pools, reg)}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Println("admin api:", err)
			cancel()
		}
	}()

	go func() {
		if err := ln.Serve(ctx); err != nil {
			log.Println("tcp listener:", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	cancel()
	_ = admin.Close()
	_ = ln.Close()
	time.Sleep(300 * time.Millisecond)
	return nil
}

func registerEchoHandler(h *wiremesh.HandlerRegistry[*echo.Packet, *echo.Session]) {
	_ = h.Register("ECHO", func(ctx context.Context, sock *wiremesh.Socket[*echo.Packet], sess *echo.Session, pkt *echo.Packet) *echo.Packet {
		return pkt.WithOK()
	})
}

func registerPoolHandlers(h *wiremesh.HandlerRegistry[*echo.Packet, *echo.Session], pools *wiremesh.Pools) {
	_ = h.Register("POOL_JOIN", func(ctx context.Context, sock *wiremesh.Socket[*echo.Packet], sess *echo.Session, pkt *echo.Packet) *echo.Packet {
		if body := pkt.Body(); body.Payload != nil {
			pools.Add(*body.Payload, sess.ID())
		}
		return pkt.WithOK()
	})
	_ = h.Register("POOL_LEAVE", func(ctx context.Context, sock *wiremesh.Socket[*echo.Packet], sess *echo.Session, pkt *echo.Packet) *echo.Packet {
		if body := pkt.Body(); body.Payload != nil {
			pools.Remove(*body.Payload, sess.ID())
		}
		return pkt.WithOK()
	})
}
