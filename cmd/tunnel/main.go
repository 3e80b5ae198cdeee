package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/malcolmseyd/dhtunnel/tunnel"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := newConfig()
	setupLogging(cfg.LogLevel)

	tcfg, err := cfg.tunnelConfig()
	if err != nil {
		Fatalln("Error configuring tunnel:", err)
	}

	m := tunnel.NewMachine()
	err = m.Connect(tcfg)
	if err != nil {
		Fatalln("Error connecting:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, m, cfg.Poll)
	stop()
	os.Exit(code)
}

func setupLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// run shuttles stdin lines into the tunnel and prints whatever arrives until
// stdin ends, the tunnel drops, or ctx is cancelled. It returns the exit code.
func run(ctx context.Context, m *tunnel.Machine, poll time.Duration) int {
	defer m.Close()

	lines := make(chan string)
	go readLines(lines)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// lines typed before the handshake finishes
	var backlog []string
	wasConnected := false

	for {
		select {
		case <-ctx.Done():
			return 0

		case line, ok := <-lines:
			if !ok {
				return 0
			}
			backlog = queueLine(m, backlog, wasConnected, line)

		case <-ticker.C:
			switch m.Poll() {
			case tunnel.Connected:
				if !wasConnected {
					wasConnected = true
					backlog = flush(m, backlog)
				}
				for {
					msg, ok := m.Receive()
					if !ok {
						break
					}
					fmt.Println(string(msg))
				}
			case tunnel.Disconnected:
				if wasConnected {
					Eprintln("Connection closed")
				} else {
					Eprintln("Could not establish the tunnel")
				}
				return 1
			}
		}
	}
}

// queueLine sends line, or holds it until the backlog has been flushed so
// input keeps its order.
func queueLine(m sender, backlog []string, flushed bool, line string) []string {
	if !flushed {
		return append(backlog, line)
	}
	send(m, line)
	return backlog
}

func flush(m sender, backlog []string) []string {
	for _, line := range backlog {
		send(m, line)
	}
	return nil
}

type sender interface {
	Send(plaintext []byte) error
}

func send(m sender, line string) {
	err := m.Send([]byte(line))
	if err != nil {
		Eprintln("Error sending message:", err)
	}
}

func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
