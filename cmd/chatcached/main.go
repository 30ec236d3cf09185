package main

import (
	"flag"

	"github.com/offlinekit/chatcache/internal/cachedir"
	"github.com/offlinekit/chatcache/internal/daemon"
	"github.com/offlinekit/chatcache/internal/outbox"
	"go.uber.org/fx"
)

func main() {
	dirFlag := flag.String("data-dir", "", "cache directory (default $CHATCACHE_DIR or ~/.chatcache)")
	selfFlag := flag.String("self-id", "", "local user id; own messages never count as unread")
	flag.Parse()

	dataDir := cachedir.Resolve(*dirFlag)

	// The standalone daemon has no real network layer; the loopback
	// transport confirms every send so the queue lifecycle still runs.
	// Production clients embed daemon.Module with their own transport.
	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:   dataDir,
			SelfID:    *selfFlag,
			Transport: outbox.Loopback{},
		}),
	)

	app.Run()
}
