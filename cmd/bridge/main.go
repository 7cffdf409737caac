// Command bridge relays newline-delimited JSON-RPC between stdin/stdout and
// a remote MCP endpoint, for clients that only speak the stdio transport.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zane-analytics/meta-ads-mcp/internal/bridge"
)

func main() {
	_ = godotenv.Load()

	remote := flag.String("remote", envOr("MCP_REMOTE_URL", "http://localhost:8080/"), "remote MCP endpoint URL")
	token := flag.String("token", os.Getenv("MCP_TOKEN"), "bearer token forwarded to the remote endpoint")
	timeout := flag.Duration("timeout", 30*time.Second, "remote round-trip timeout")
	flag.Parse()

	if *remote == "" {
		log.Fatal("remote MCP endpoint is required (-remote or MCP_REMOTE_URL)")
	}

	// Logs go to stderr; stdout carries only response lines.
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(bridge.Config{
		RemoteURL: *remote,
		Token:     *token,
		Timeout:   *timeout,
	}, os.Stdin, os.Stdout)

	if err := b.Run(ctx); err != nil {
		log.Fatalf("bridge failed: %v", err)
	}
}

func envOr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
