package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/streamkit/sockets/log"
	"github.com/streamkit/sockets/socket"
)

const histFile = ".sockcat_history"

// sockcat is a netcat-style line client over the socket library: it dials a
// TCP, Unix-domain or TLS endpoint, sends whole lines with SendNow and
// prints whatever spools back. On a terminal it offers line editing and
// history; on a pipe it streams stdin through.
func main() {
	host := flag.String("h", "127.0.0.1", "server hostname")
	port := flag.Int("p", 4242, "server port")
	unixPath := flag.String("s", "", "server unix socket (overrides hostname and port)")
	useTLS := flag.Bool("tls", false, "wrap the connection in TLS")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	level := flag.String("loglevel", "warn", "log level")
	flag.Parse()

	log.InitLogger(*level)

	var conn *socket.Connection
	switch {
	case *unixPath != "":
		conn = socket.DialUnix(*unixPath, false)
	case *useTLS:
		conn = socket.DialTLS(*host, *port, false, &tls.Config{InsecureSkipVerify: *insecure})
	default:
		conn = socket.Dial(*host, *port, false)
	}
	if !conn.Live() {
		fmt.Fprintf(os.Stderr, "could not connect: %s\n", conn.LastError())
		os.Exit(1)
	}
	defer conn.Close()

	// Replies are drained opportunistically between sends.
	conn.SetBlocking(false)

	if isatty.IsTerminal(os.Stdin.Fd()) {
		runInteractive(conn)
	} else {
		runPiped(conn)
	}
	fmt.Fprint(os.Stderr, conn.Stats("sockcat"))
}

func runInteractive(conn *socket.Connection) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(os.Getenv("HOME"), histFile)
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for conn.Live() {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			return
		}
		if input != "" {
			line.AppendHistory(input)
		}
		conn.SendNow(input + "\n")
		drain(conn)
	}
}

func runPiped(conn *socket.Connection) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() && conn.Live() {
		conn.SendNow(scanner.Text() + "\n")
		drain(conn)
	}
	// Give the last replies a moment to arrive.
	time.Sleep(100 * time.Millisecond)
	drain(conn)
}

// drain prints every complete frame currently pending on the connection.
func drain(conn *socket.Connection) {
	for conn.Spool() {
	}
	buf := conn.Received()
	for {
		n := buf.BytesToSplit()
		if n == 0 {
			return
		}
		frame, ok := buf.Remove(n)
		if !ok {
			return
		}
		os.Stdout.WriteString(frame)
	}
}
