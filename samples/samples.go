// Package samples contains ready-made listeners that print what a SENSR engine reports.
package samples

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/pkg/registry"
	"go.uber.org/zap"
)

// Env is handed to every sample listener on creation.
type Env struct {
	Log    *zap.Logger
	Out    io.Writer
	ErrOut io.Writer
	Now    func() time.Time
	// Reconnect is called after a connection error has been reported. May be nil.
	Reconnect func(reason string)
}

type Registry = registry.Registry[listener.Listener, Env]

func NewRegistry(env Env) *Registry {
	r := registry.NewRegistry[listener.Listener, Env](env)
	Register(r)
	return r
}

func Register(r *Registry) {
	r.Register("zone", func(_ json.RawMessage, env Env) (listener.Listener, error) {
		return NewZoneEventListener(env), nil
	})
	r.Register("point", func(_ json.RawMessage, env Env) (listener.Listener, error) {
		return NewPointResultListener(env), nil
	})
	r.Register("object", func(_ json.RawMessage, env Env) (listener.Listener, error) {
		return NewObjectListener(env), nil
	})
	r.Register("health", func(_ json.RawMessage, env Env) (listener.Listener, error) {
		return NewHealthListener(env), nil
	})
	r.Register("time", func(_ json.RawMessage, env Env) (listener.Listener, error) {
		return NewTimeChecker(env), nil
	})
	r.Register("bank", func(config json.RawMessage, env Env) (listener.Listener, error) {
		cfg := DefaultBankConfig()
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, fmt.Errorf("invalid bank config: %w", err)
			}
		}
		return NewBank(env, cfg), nil
	})
}

// base gives every sample the same error handling: report, then ask for a reconnect.
type base struct {
	listener.MessageListener
	env Env
}

func newBase(t listener.ListeningType, env Env) base {
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	if env.Out == nil {
		env.Out = io.Discard
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	var opts []listener.Option
	if env.ErrOut != nil {
		opts = append(opts, listener.WithErrorOutput(env.ErrOut))
	}
	return base{
		MessageListener: listener.New(t, opts...),
		env:             env,
	}
}

func (b base) OnError(kind listener.Error, reason string) {
	b.MessageListener.OnError(kind, reason)
	if kind == listener.ErrorConnection && b.env.Reconnect != nil {
		b.env.Reconnect(reason)
	}
}

func (b base) printf(format string, args ...any) {
	fmt.Fprintf(b.env.Out, format+"\n", args...)
}
