package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/streamkit/sockets/config"
	"github.com/streamkit/sockets/log"
	"github.com/streamkit/sockets/socket"
)

// sockserve is a line-echo daemon: every splitter-terminated frame a client
// sends comes straight back. It exists to exercise the library end to end
// and as a loopback peer for manual testing with sockcat.
func main() {
	configPath := flag.String("config", "", "yaml config file")
	port := flag.Int("port", 0, "tcp listen port (overrides config)")
	host := flag.String("host", "", "tcp listen host (overrides config)")
	unixPath := flag.String("unix", "", "unix socket path (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.Listen.Port = *port
	}
	if *host != "" {
		cfg.Listen.Host = *host
	}
	if *unixPath != "" {
		cfg.Listen.Path = *unixPath
	}
	log.InitLogger(cfg.LogLevel)

	var srv *socket.Server
	if cfg.Listen.Path != "" {
		srv = socket.ListenUnix(cfg.Listen.Path, cfg.Listen.NonBlocking)
	} else {
		srv = socket.Listen(cfg.Listen.Port, cfg.Listen.Host, cfg.Listen.NonBlocking)
	}
	if !srv.Connected() {
		log.Logger.Error("could not bind", zap.String("err", srv.LastError()))
		os.Exit(1)
	}
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		log.Logger.Info("shutting down")
		srv.Close()
		os.Exit(0)
	}()

	log.Logger.Info("listening",
		zap.Int("port", srv.Port()), zap.String("path", cfg.Listen.Path))

	for srv.Connected() {
		conn := srv.Accept(false)
		if !conn.Live() {
			continue
		}
		go serve(conn)
	}
}

// serve echoes framed lines back until the peer goes away. One goroutine
// drives one handle; the library itself is not goroutine-safe.
func serve(conn *socket.Connection) {
	defer conn.Close()
	for conn.Live() {
		if !conn.Spool() {
			if !conn.Connected() {
				break
			}
			continue
		}
		buf := conn.Received()
		for {
			n := buf.BytesToSplit()
			if n == 0 {
				break
			}
			line, ok := buf.Remove(n)
			if !ok {
				break
			}
			conn.SendNow(line)
		}
	}
	log.Logger.Info("connection finished", zap.String("stats", conn.Stats("echo")))
}
