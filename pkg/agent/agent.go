package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/neuroplastio/sensr-agent/internal/configsvc"
	"github.com/neuroplastio/sensr-agent/internal/dispatchsvc"
	"github.com/neuroplastio/sensr-agent/internal/recordsvc"
	"github.com/neuroplastio/sensr-agent/samples"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownExample = errors.New("unknown example")

type Agent struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	db        *badger.DB
	recordSvc *recordsvc.Service
}

type Option func(*Agent)

// WithLogger replaces the development logger built by NewAgent.
func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) {
		a.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

func NewAgent(config Config, opts ...Option) (*Agent, error) {
	a := &Agent{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		loggerConfig := zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := loggerConfig.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		a.log = logger
	}

	dbDir := filepath.Join(config.DataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbOptions := badger.DefaultOptions(dbDir)
	dbOptions.Logger = &badgerLogger{l: a.log.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	recordSvc, err := recordsvc.New(db, a.log.Named("records"), a.now)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.db = db
	a.recordSvc = recordSvc
	return a, nil
}

func (a *Agent) Close() error {
	err := a.recordSvc.Close()
	if dbErr := a.db.Close(); dbErr != nil && err == nil {
		err = dbErr
	}
	_ = a.log.Sync()
	return err
}

func (a *Agent) Records() *recordsvc.Service {
	return a.recordSvc
}

func (a *Agent) Examples() []string {
	return samples.NewRegistry(samples.Env{}).Names()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

type RunOptions struct {
	Example string
	Out     io.Writer
	ErrOut  io.Writer
	// Realtime overrides the settings file when set.
	Realtime *bool
}

// Run replays the recorded messages to the chosen sample listener and returns when the
// replay ends, unless the settings ask for a reconnect, in which case the replay starts
// over after a backoff until ctx is cancelled.
func (a *Agent) Run(ctx context.Context, opts RunOptions) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configSvc, err := configsvc.New(a.log.Named("config"))
	if err != nil {
		return err
	}
	dispatchSvc := dispatchsvc.New(a.log.Named("dispatch"))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return dispatchSvc.Start(groupCtx)
	})
	group.Go(func() error {
		defer cancel()
		select {
		case <-groupCtx.Done():
			return nil
		case <-configSvc.Ready():
		}
		select {
		case <-groupCtx.Done():
			return nil
		case <-dispatchSvc.Ready():
		}
		return a.replay(groupCtx, configSvc, dispatchSvc, opts)
	})

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) replay(ctx context.Context, configSvc *configsvc.Service, dispatchSvc *dispatchsvc.Service, opts RunOptions) error {
	bank := atomic.NewPointer[samples.Bank](nil)
	current := atomic.NewPointer[Settings](nil)
	settings, err := configsvc.Register(configSvc, a.config.SettingsFile, DefaultSettings(), func(s Settings, err error) {
		if err != nil {
			a.log.Error("Failed to reload settings", zap.Error(err))
			return
		}
		a.log.Info("Settings reloaded")
		current.Store(&s)
		if b := bank.Load(); b != nil {
			b.SetZones(s.Bank.Zones)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	current.Store(&settings)

	reconnect := atomic.NewBool(false)
	registry := samples.NewRegistry(samples.Env{
		Log:    a.log.Named("sample." + opts.Example),
		Out:    opts.Out,
		ErrOut: opts.ErrOut,
		Now:    a.now,
		Reconnect: func(reason string) {
			reconnect.Store(true)
		},
	})
	if !registry.Has(opts.Example) {
		return fmt.Errorf("%w: %s", ErrUnknownExample, opts.Example)
	}
	bankConfig, err := json.Marshal(settings.Bank)
	if err != nil {
		return fmt.Errorf("failed to marshal bank settings: %w", err)
	}
	l, err := registry.New(opts.Example, bankConfig)
	if err != nil {
		return fmt.Errorf("failed to create listener %s: %w", opts.Example, err)
	}
	if b, ok := l.(*samples.Bank); ok {
		bank.Store(b)
	}
	if err := dispatchSvc.Register(ctx, opts.Example, l); err != nil {
		return err
	}

	for {
		s := current.Load()
		realtime := s.Realtime
		if opts.Realtime != nil {
			realtime = *opts.Realtime
		}
		reconnect.Store(false)
		err := a.recordSvc.Replay(ctx, dispatchSvc, recordsvc.ReplayOptions{Realtime: realtime})
		if err != nil {
			return err
		}
		if ctx.Err() != nil || !reconnect.Load() || !current.Load().Reconnect {
			return nil
		}
		backoff := time.Duration(current.Load().ReconnectBackoffSeconds * float64(time.Second))
		a.log.Info("Reconnecting", zap.Duration("backoff", backoff))
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
