// cmd/ddlockd is the daemon entrypoint: one process per node, one
// Coordinator per configured database, speaking the interlock protocol
// over a Postgres logical replication connection and exposing an admin
// HTTP surface for operators and session proxies.
//
// Example:
//
//	./ddlockd --sysid 7821934650198273441 --dbid 16384 \
//	          --postgres-dsn "postgres://repl@db1/app?replication=database" \
//	          --peers "7821934650198273442/1/16384=db2:5432" \
//	          --listen-addr :8080
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"distributed-ddlock/internal/api"
	"distributed-ddlock/internal/config"
	"distributed-ddlock/internal/coordinator"
	"distributed-ddlock/internal/journal"
	"distributed-ddlock/internal/lock"
	"distributed-ddlock/internal/peers"
	"distributed-ddlock/internal/transport"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("component", "ddlockd").Logger()

	fs := pflag.NewFlagSet("ddlockd", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("parsing flags")
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	self := lock.NodeID{SysID: cfg.SysID, Timeline: cfg.Timeline, DBID: cfg.DBID}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, tp, closeConns := mustStorageAndTransport(ctx, cfg, self, log)
	defer closeConns()

	peerList, err := parsePeers(cfg.Peers)
	if err != nil {
		log.Fatal().Err(err).Msg("parsing peer list")
	}
	pr := peers.NewRegistry(peerList)

	ccfg := coordinator.DefaultConfig()
	ccfg.PermitDDLLocking = cfg.PermitDDLLocking
	ccfg.DDLGraceTimeout = cfg.GraceTimeout()
	ccfg.MaxDatabases = cfg.MaxDatabases

	coord := coordinator.New(ccfg, self, j, pr, nil, log.With().Str("component", "coordinator").Logger())
	if _, err := coord.RegisterDatabase(cfg.DBID, tp); err != nil {
		log.Fatal().Err(err).Msg("registering database")
	}

	go func() {
		if err := tp.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("transport run loop exited")
		}
	}()

	if err := coord.Startup(ctx, cfg.DBID); err != nil {
		log.Fatal().Err(err).Msg("recovering lock state from journal")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))
	api.NewHandler(coord, pr, self).Register(router)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("node", self.String()).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown")
	}
}

// mustStorageAndTransport wires the journal and transport implementations.
// An empty postgres-dsn is treated as a local single-process smoke test and
// falls back to the in-memory stand-ins; any real deployment sets it.
func mustStorageAndTransport(ctx context.Context, cfg config.Config, self lock.NodeID, log zerolog.Logger) (journal.Journal, transport.Transport, func()) {
	if cfg.PostgresDSN == "" {
		log.Warn().Msg("no postgres-dsn configured, running with in-memory journal and transport")
		bus := transport.NewBus()
		return journal.NewMemory(), transport.NewMemory(bus, self), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting journal pool")
	}
	j := journal.NewPostgres(pool, log.With().Str("component", "journal").Logger())
	if err := j.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensuring journal schema")
	}

	replDSN := cfg.PostgresDSN
	if !strings.Contains(replDSN, "replication=") {
		sep := "?"
		if strings.Contains(replDSN, "?") {
			sep = "&"
		}
		replDSN += sep + "replication=database"
	}

	send, err := pgconn.Connect(ctx, replDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("opening replication send connection")
	}
	recv, err := pgconn.Connect(ctx, replDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("opening replication receive connection")
	}

	tp := transport.NewPostgres(send, recv, self, cfg.SlotName, cfg.Publication, log.With().Str("component", "transport").Logger())

	closeAll := func() {
		_ = send.Close(context.Background())
		_ = recv.Close(context.Background())
		pool.Close()
	}
	return j, tp, closeAll
}

// parsePeers turns "sysid/timeline/dbid=host:port" entries into peers.Peer.
func parsePeers(entries []string) ([]peers.Peer, error) {
	out := make([]peers.Peer, 0, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer entry %q: expected sysid/timeline/dbid=host:port", entry)
		}
		idParts := strings.Split(parts[0], "/")
		if len(idParts) != 3 {
			return nil, fmt.Errorf("invalid peer identity %q: expected sysid/timeline/dbid", parts[0])
		}
		sysid, err := strconv.ParseUint(idParts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sysid in %q: %w", entry, err)
		}
		timeline, err := strconv.ParseUint(idParts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid timeline in %q: %w", entry, err)
		}
		dbid, err := strconv.ParseUint(idParts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid dbid in %q: %w", entry, err)
		}
		out = append(out, peers.Peer{
			ID:      lock.NodeID{SysID: sysid, Timeline: uint32(timeline), DBID: uint32(dbid)},
			Address: parts[1],
		})
	}
	return out, nil
}
