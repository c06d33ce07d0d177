// Command ndt-mapping runs the NDT LiDAR localizer: scans and motion
// samples arrive over MQTT, poses and map updates are published back, and
// the map and per-cycle diagnostics are persisted to SQLite.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/ndt-mapping/internal/config"
	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/ndt"
	"github.com/banshee-data/ndt-mapping/internal/lidar/network"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pipeline"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
	"github.com/banshee-data/ndt-mapping/internal/lidar/storage/sqlite"
	"github.com/banshee-data/ndt-mapping/internal/timeutil"
	"github.com/banshee-data/ndt-mapping/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a JSON or YAML localizer config (defaults are used when empty)")
	dbFile     = flag.String("db", "", "Path to the SQLite database (overrides database_path)")
	resume     = flag.Bool("resume", false, "Continue from the latest persisted map snapshot")
	notes      = flag.String("notes", "", "Free-text notes stored with the session")
	logOps     = flag.String("log-ops", "stderr", "Ops log destination: stderr, stdout, a file path, or empty to disable")
	logDiag    = flag.String("log-diag", "", "Diagnostics log destination")
	logTrace   = flag.String("log-trace", "", "Per-iteration trace log destination")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// NDT_DEBUG_LOG applies only when no log flag was given.
	ops, diag, trace, legacy := *logOps, *logDiag, *logTrace, ""
	if !logFlagsSet(flag.CommandLine) {
		if legacy = os.Getenv("NDT_DEBUG_LOG"); legacy != "" {
			ops, diag, trace = "", "", ""
		}
	}
	closeLogs, err := setupLogging(ops, diag, trace, legacy)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closeLogs()

	cfg := config.DefaultConfig()
	if *configFile != "" {
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg.ApplyEnv(os.Getenv)
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
	}
	if *dbFile != "" {
		cfg.DatabasePath = dbFile
	}

	log.Printf("Starting %s", version.String())
	if err := run(ctx, cfg); err != nil {
		log.Fatalf("ndt-mapping: %v", err)
	}
}

// run wires the localizer and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.LocalizerConfig) error {
	loc, predictor, err := newLocalizer(cfg, timeutil.RealClock{})
	if err != nil {
		return err
	}

	var persist pipeline.MapPersister
	var store *sqlite.Store
	if path := cfg.GetDatabasePath(); path != "" {
		if store, err = openStore(path, cfg, loc, *resume, *notes); err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("Failed to close database: %v", err)
			}
		}()
		persist = store
	}

	runner := pipeline.NewRunner(loc, cfg.RunnerConfig(), persist, nil)

	netCfg := cfg.NetworkConfig()
	if netCfg.Broker != "" {
		sub := network.NewSubscriber(netCfg, runner, predictor)
		client, err := network.NewClient(netCfg, sub.OnConnect)
		if err != nil {
			return err
		}
		if err := network.Connect(ctx, client); err != nil {
			return err
		}
		defer network.Disconnect(client)
		if err := loc.AddSink(network.NewPublisher(client, netCfg)); err != nil {
			return err
		}
		log.Printf("Connected to MQTT broker %s, scans on %q", netCfg.Broker, netCfg.PointsTopic)
	} else {
		log.Printf("No MQTT broker configured; the localizer will idle until shutdown")
	}

	runErr := runner.Run(ctx)
	log.Printf("Localizer stopped: %+v", runner.Stats())

	if keep := cfg.GetKeepSnapshots(); store != nil && keep > 0 {
		if n, err := store.PruneMapSnapshots(keep); err != nil {
			log.Printf("Failed to prune map snapshots: %v", err)
		} else if n > 0 {
			log.Printf("Pruned %d old map snapshots", n)
		}
	}
	return runErr
}

// newLocalizer builds the scan-to-map cycle from cfg.
func newLocalizer(cfg *config.LocalizerConfig, clock timeutil.Clock) (*pipeline.Localizer, *motion.Predictor, error) {
	method, err := cfg.NDTMethod()
	if err != nil {
		return nil, nil, err
	}
	matcher, err := ndt.New(method, cfg.NDTParams())
	if err != nil {
		return nil, nil, fmt.Errorf("matcher %s: %w", method, err)
	}
	predictor := motion.NewPredictor(cfg.MotionConfig(), clock)
	loc, err := pipeline.NewLocalizer(
		cfg.PipelineConfig(),
		scan.NewPreprocessor(cfg.PreprocessConfig()),
		predictor,
		ndt.NewAdapter(matcher, cfg.AdapterConfig()),
		localmap.New(cfg.MapConfig()),
	)
	if err != nil {
		return nil, nil, err
	}
	return loc, predictor, nil
}

// openStore opens the database, optionally resumes from the latest map
// snapshot, starts a session and registers the store as a diagnostics sink.
func openStore(path string, cfg *config.LocalizerConfig, loc *pipeline.Localizer, resume bool, notes string) (*sqlite.Store, error) {
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*sqlite.Store, error) {
		_ = store.Close()
		return nil, err
	}

	if resume {
		snap, err := store.LatestMapSnapshot()
		if err != nil {
			return fail(err)
		}
		if snap == nil {
			log.Printf("No map snapshot in %s; starting a fresh map", path)
		} else {
			st, err := snap.State()
			if err != nil {
				return fail(err)
			}
			if err := loc.Resume(st); err != nil {
				return fail(err)
			}
			log.Printf("Resumed map snapshot %d (%d points, %d fused scans)", snap.SnapshotID, snap.PointCount, snap.FusedCount)
		}
	}

	// Credentials stay out of the session record.
	redacted := *cfg
	redacted.MQTT.Password = ""
	raw, err := json.Marshal(&redacted)
	if err != nil {
		return fail(fmt.Errorf("encode config: %w", err))
	}
	sess, err := store.StartSession(cfg.GetMethod(), raw, notes)
	if err != nil {
		return fail(err)
	}
	if err := loc.AddSink(store); err != nil {
		return fail(err)
	}
	log.Printf("Recording session %s to %s", sess.SessionID, path)
	return store, nil
}

// setupLogging routes each package's ops, diag and trace streams. When no
// stream is configured, legacy names a single destination for all three.
func setupLogging(ops, diag, trace, legacy string) (func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	open := func(dest string) (io.Writer, error) {
		w, c, err := logWriter(dest)
		if c != nil {
			closers = append(closers, c)
		}
		return w, err
	}

	if ops == "" && diag == "" && trace == "" && legacy != "" {
		w, err := open(legacy)
		if err != nil {
			return closeAll, err
		}
		pipeline.SetLegacyLogger(w)
		ndt.SetLogWriters(w, w, w)
		localmap.SetLogWriters(w, w, w)
		network.SetLogWriters(w, w, w)
		sqlite.SetLogWriters(w, w)
		return closeAll, nil
	}

	var ws [3]io.Writer
	for i, dest := range []string{ops, diag, trace} {
		w, err := open(dest)
		if err != nil {
			closeAll()
			return func() {}, err
		}
		ws[i] = w
	}
	pipeline.SetLogWriters(ws[0], ws[1], ws[2])
	ndt.SetLogWriters(ws[0], ws[1], ws[2])
	localmap.SetLogWriters(ws[0], ws[1], ws[2])
	network.SetLogWriters(ws[0], ws[1], ws[2])
	sqlite.SetLogWriters(ws[0], ws[1])
	return closeAll, nil
}

// logFlagsSet reports whether any -log-* flag was set explicitly on fs.
func logFlagsSet(fs *flag.FlagSet) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-ops", "log-diag", "log-trace":
			set = true
		}
	})
	return set
}

// logWriter resolves a destination name. A nil writer disables the stream.
func logWriter(dest string) (io.Writer, io.Closer, error) {
	switch dest {
	case "":
		return nil, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log %s: %w", dest, err)
	}
	return f, f, nil
}
