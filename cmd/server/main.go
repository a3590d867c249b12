package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/stellarlinkco/docarena/api"
	"github.com/stellarlinkco/docarena/internal/config"
	"github.com/stellarlinkco/docarena/internal/leaderboard"
	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/pipeline"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/store"
)

var (
	osExit                 = os.Exit
	stderrWriter io.Writer = os.Stderr

	loadConfig  = config.Load
	newRegistry = llm.NewRegistryFromConfig
	newServer   = api.NewServer
	runServer   = (*api.Server).Run

	openRunStore = func(path string) (store.Store, error) {
		return store.NewSQLiteStore(path)
	}
	leaderboardNewStore = leaderboard.NewStore
)

func main() {
	osExit(runMain(os.Args[1:]))
}

func runMain(args []string) int {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(stderrWriter)

	var addr string
	var configPath string
	fs.StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config, then :8080)")
	fs.StringVar(&configPath, "config", config.DefaultPath, "path to config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}
	if strings.TrimSpace(addr) == "" {
		addr = cfg.Server.Addr
	}

	logger := slog.New(slog.NewTextHandler(stderrWriter, nil))

	st, err := openRunStore(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}
	defer func() { _ = st.Close() }()

	board, err := leaderboardNewStore(cfg.Storage.LeaderboardPath)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}
	defer func() { _ = board.Close() }()

	registry, err := newRegistry(cfg)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}

	bc := stats.NewBroadcaster(st, 0, logger)
	bc.Start()
	defer bc.Close()

	orch, err := pipeline.New(registry, st, bc, board, logger)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}

	srv, err := newServer(cfg, st, orch, bc, board)
	if err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}
	if err := runServer(srv, addr); err != nil {
		fmt.Fprintln(stderrWriter, err)
		return 1
	}

	return 0
}
