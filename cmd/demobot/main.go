// Demobot is a minimal bot wired through the full stack: env config, file
// store, builtin plugin, one sample plugin and the Discord gateway. It is
// the reference for embedding botkit in a real binary.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/keshon/botkit"
	"github.com/keshon/botkit/builtin"
	"github.com/keshon/botkit/discord"
	"github.com/keshon/botkit/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demobot:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := botkit.ConfigFromEnv()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := store.Open(cfg.StoragePath)
	if err != nil {
		return err
	}

	// The engine owns the store from here; Stop closes it.
	engine := botkit.New(cfg,
		botkit.WithLogger(log),
		botkit.WithStore(st),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Plugins().Load(ctx, builtin.New(engine)); err != nil {
		return fmt.Errorf("load core plugin: %w", err)
	}
	if err := engine.Plugins().Load(ctx, newDicePlugin(log)); err != nil {
		return fmt.Errorf("load dice plugin: %w", err)
	}

	gateway, err := discord.NewGateway(engine)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := gateway.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway failed")
		}
		cancel()
	}

	return engine.Stop()
}

// newLogger builds a console logger, teeing into a rotating file when
// LOG_FILE is set. Unknown levels fall back to info.
func newLogger(cfg botkit.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     28,
		})
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
