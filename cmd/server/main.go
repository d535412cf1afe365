package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/mushcore/pkg/boltstore"
	"github.com/crystal-mush/mushcore/pkg/gamedb"
	"github.com/crystal-mush/mushcore/pkg/ledger"
	"github.com/crystal-mush/mushcore/pkg/server"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUSH_CONF", ""), "Path to game config file (env: MUSH_CONF)")
	port := flag.Int("port", 0, "TCP port to listen on, overrides config")
	godPass := flag.String("godpass", envDefault("MUSH_GODPASS", ""), "Set God's password and exit (env: MUSH_GODPASS)")
	debug := flag.Bool("debug", os.Getenv("MUSH_DEBUG") == "true", "Development logging at debug level (env: MUSH_DEBUG)")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *confFile, *port, *godPass); err != nil {
		logger.Fatal("startup: failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(log *zap.Logger, confFile string, port int, godPass string) error {
	log.Info("startup: " + server.VersionString())

	gc, err := server.LoadGameConf(confFile)
	if err != nil {
		return err
	}
	if port != 0 {
		gc.Port = port
	}

	var opts []server.Option
	opts = append(opts, server.WithLogger(log))

	db := gamedb.NewDatabase()
	if gc.BoltDatabase != "" {
		store, err := boltstore.Open(gc.BoltDatabase, log)
		if err != nil {
			return err
		}
		if store.Empty() {
			seedWorld(store.DB(), gc)
			if err := store.ImportFromDatabase(store.DB()); err != nil {
				store.Close()
				return err
			}
			log.Info("startup: seeded empty store", zap.String("path", store.Path()))
		} else if err := store.LoadAll(); err != nil {
			store.Close()
			return err
		}
		db = store.DB()
		opts = append(opts, server.WithStore(store))
	} else {
		seedWorld(db, gc)
		log.Warn("startup: no bolt_database configured, world will not be saved")
	}

	if gc.LedgerDatabase != "" {
		l, err := ledger.OpenSQL(gc.LedgerDatabase, gc.StartingMoney, log)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithLedger(l))
	}
	if gc.MetricsEnabled {
		opts = append(opts, server.WithMetrics(server.NewMetrics(time.Now())))
	}

	g := server.NewGame(db, gc, opts...)
	defer func() {
		if err := g.Close(); err != nil {
			log.Error("shutdown: close", zap.Error(err))
		}
	}()

	if godPass != "" {
		if err := g.SetPassword(db.God, godPass); err != nil {
			return err
		}
		log.Info("God password set", zap.Int("god", int(db.God)))
		return nil
	}

	if _, err := g.LoadAccess(); err != nil {
		log.Warn("startup: access file", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.WatchAccessFile(ctx); err != nil {
		log.Warn("startup: access watcher", zap.Error(err))
	}

	g.Startup()
	queueDone := g.StartQueueProcessor(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", gc.Port)
	srv := server.NewServer(g, cfg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx); err != nil {
			errs <- fmt.Errorf("line server: %w", err)
			stop()
		}
	}()

	if gc.WebEnabled {
		if gc.JWTSecret == "" {
			gc.JWTSecret = server.GenerateJWTSecret()
			log.Warn("startup: jwt_secret not set, tokens will not survive a restart")
		}
		web := server.NewWebServer(g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := web.ListenAndServe(ctx); err != nil {
				errs <- fmt.Errorf("web server: %w", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutdown: signal received")
	wg.Wait()
	<-queueDone
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

// seedWorld creates the minimal world a fresh game needs: a starting
// room, God, and the master room.
func seedWorld(db *gamedb.Database, gc *server.GameConf) {
	limbo := db.Create("Limbo", gamedb.TypeRoom, gamedb.Nothing, gamedb.Nothing)
	limbo.Owner = gamedb.DBRef(gc.GodDBRef)

	god := db.Create("Wizard", gamedb.TypePlayer, gamedb.Nothing, limbo.DBRef)
	db.SetFlag(god.DBRef, "WIZARD", true)
	db.God = god.DBRef

	master := db.Create("Master Room", gamedb.TypeRoom, god.DBRef, gamedb.Nothing)
	gc.GodDBRef = int(god.DBRef)
	gc.MasterRoom = int(master.DBRef)
	gc.PlayerStartingRoom = int(limbo.DBRef)
}
