package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/bufferpool"
	"github.com/Blackdeer1524/enginecore/src/cfg"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/utils"
	"github.com/Blackdeer1524/enginecore/src/purge"
	"github.com/Blackdeer1524/enginecore/src/srv"
	"github.com/Blackdeer1524/enginecore/src/storage/disk"
	"github.com/Blackdeer1524/enginecore/src/telemetry"
)

const CloseTimeout = 15 * time.Second

type EngineEntrypoint struct {
	ConfigPath string

	cfg cfg.EngineConfig
	env envVars
	log src.Logger

	lock    *flock.Flock
	logFile *disk.LogFile
	server  *srv.Server
	metrics *http.Server
	gauges  metric.Registration
}

func (e *EngineEntrypoint) Init(ctx context.Context) error {
	config, err := cfg.LoadConfig(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e.cfg = config

	e.env, err = loadEnv()
	if err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	var log src.Logger
	if e.cfg.Environment == cfg.EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		log = utils.Must(zap.NewProduction()).Sugar()
	}

	e.log = log

	fs := afero.NewOsFs()
	if err = fs.MkdirAll(e.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	e.lock = flock.New(filepath.Join(e.cfg.DataDir, e.env.LockFile))

	locked, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		e.lock = nil
		return fmt.Errorf("data dir %s is used by another process", e.cfg.DataDir)
	}

	e.logFile, err = disk.OpenLogFile(fs, e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open redo log: %w", err)
	}

	start, err := e.startLSN()
	if err != nil {
		return err
	}

	bp, err := bufferpool.New(
		uint64(e.cfg.BufferPoolSize),
		bufferpool.NewLRUReplacer(),
		disk.New(e.cfg.DataDir, fs),
		nil,
	)
	if err != nil {
		return fmt.Errorf("create buffer pool: %w", err)
	}

	e.server, err = srv.New(srv.ConfigFrom(e.cfg), srv.Deps{
		Storage:     e.logFile,
		Checkpoints: e.logFile,
		BufferPool:  bp,
		Versions:    purge.DiscardStore{},
		Logger:      log,
		Start:       start,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	bp.SetWAL(e.server.Redo())

	if err = e.server.Init(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	return e.initTelemetry()
}

// startLSN continues the redo stream after whatever the log file already
// holds.
func (e *EngineEntrypoint) startLSN() (common.LSN, error) {
	checkpoint, err := e.logFile.LoadCheckpoint()
	if err != nil {
		return common.NilLSN, fmt.Errorf("load checkpoint: %w", err)
	}

	size, err := e.logFile.Size()
	if err != nil {
		return common.NilLSN, fmt.Errorf("stat redo log: %w", err)
	}

	return max(checkpoint, common.LSN(size)), nil
}

func (e *EngineEntrypoint) initTelemetry() error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		telemetry.NewCollector(e.server),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gauges, err := telemetry.RegisterGauges(otel.Meter("enginecore"), e.server)
	if err != nil {
		return fmt.Errorf("register gauges: %w", err)
	}

	e.gauges = gauges

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	e.metrics = &http.Server{
		Addr:              e.env.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return nil
}

// Run serves metrics until ctx is done or a background thread fails.
func (e *EngineEntrypoint) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		e.log.Infow("serving metrics", "addr", e.env.MetricsAddr)

		err := e.metrics.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-e.server.Fatal():
			return fmt.Errorf("engine failure: %w", err)
		}
	})

	return eg.Wait()
}

func (e *EngineEntrypoint) Close() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout+e.cfg.ShutdownGrace)
	defer cancel()

	if e.metrics != nil {
		err = multierr.Append(err, e.metrics.Shutdown(ctx))
	}

	if e.gauges != nil {
		err = multierr.Append(err, e.gauges.Unregister())
	}

	if e.server != nil {
		err = multierr.Append(err, e.server.Shutdown(ctx))
	}

	if e.logFile != nil {
		err = multierr.Append(err, e.logFile.Close())
	}

	if e.lock != nil {
		err = multierr.Append(err, e.lock.Unlock())
	}

	if e.log != nil {
		if err != nil {
			e.log.Errorw("failed to close engine", "error", err)
		}

		logErr := e.log.Sync()
		if logErr != nil && err != nil {
			err = fmt.Errorf("%w, %w", err, logErr)
		} else if logErr != nil {
			err = logErr
		}
	}

	return
}
