package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/micaelbergeron/delegate"
	"github.com/micaelbergeron/delegate/transport"
)

type config struct {
	NATSURL string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	Name    string `envconfig:"SERVICE_NAME" default:"delegate-demo"`
	Debug   bool   `envconfig:"DEBUG" default:"false"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	if !cfg.Debug {
		logger = logger.Level(zerolog.InfoLevel)
	}

	opts := []delegate.OptionFunc{
		delegate.SetError(func(format string, args ...interface{}) { logger.Error().Msgf(format, args...) }),
		delegate.SetInfo(func(format string, args ...interface{}) { logger.Info().Msgf(format, args...) }),
		delegate.SetDebug(func(format string, args ...interface{}) { logger.Debug().Msgf(format, args...) }),
	}

	t := transport.NewNATS(cfg.Name, cfg.NATSURL)
	if err := t.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("transport init failed")
	}
	defer t.Shutdown()

	pool := delegate.NewPool(t, append(opts, delegate.SetCallTimeout(10*time.Second))...)
	if err := pool.Start(); err != nil {
		logger.Fatal().Err(err).Msg("pool start failed")
	}
	defer pool.Shutdown()

	registry := delegate.NewRegistry(t, opts...)
	if err := registry.Start(); err != nil {
		logger.Fatal().Err(err).Msg("registry start failed")
	}
	defer registry.Dispose()

	doubleID, _ := registry.Register(func(_ context.Context, args []json.RawMessage) ([]json.RawMessage, error) {
		var x float64
		if err := json.Unmarshal(args[0], &x); err != nil {
			return nil, err
		}
		out, _ := json.Marshal(2 * x)
		return []json.RawMessage{out}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ack, err := registry.Announce(doubleID)
	if err != nil {
		logger.Fatal().Err(err).Msg("announce failed")
	}
	if _, err := ack.Await(ctx); err != nil {
		logger.Fatal().Err(err).Msg("registration was never acknowledged")
	}

	// The pool learns about the function from the same ack, on its own
	// subscription; give it a moment to catch up.
	for !pool.Callable(doubleID) {
		select {
		case <-ctx.Done():
			logger.Fatal().Msg("function never became callable")
		case <-time.After(10 * time.Millisecond):
		}
	}

	arg, _ := json.Marshal(21)
	results, err := pool.Invoke(ctx, doubleID, []json.RawMessage{arg})
	if err != nil {
		logger.Fatal().Err(err).Msg("call failed")
	}

	logger.Info().RawJSON("results", results[0]).Msg("double(21) resolved")
}
