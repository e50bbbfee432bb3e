package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/harshabose/simple_webrtc_comm/firecall"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
)

const usage = `usage: firecall [flags] <command>

commands:
  create        start a call and print its session id
  join <id>     answer the call with the given session id
  hangup <id>   remove what a call left in the store
  loopback      run both sides in this process over an in-memory store

flags:
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	flags := pflag.NewFlagSet("firecall", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	firecall.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	config, err := firecall.LoadConfig(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", config.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if err := run(ctx, config, flags.Args()); err != nil {
		if errors.Is(err, errUsage) {
			flags.Usage()
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("firecall failed")
	}
}

var errUsage = errors.New("bad usage")

func run(ctx context.Context, config firecall.Config, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	if args[0] == "loopback" && len(args) == 1 {
		return runLoopback(ctx, config)
	}
	if n, ok := map[string]int{"create": 1, "join": 2, "hangup": 2}[args[0]]; !ok || len(args) != n {
		return errUsage
	}

	s, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	switch args[0] {
	case "create":
		return runCreate(ctx, config, s)
	case "join":
		return runJoin(ctx, config, s, args[1])
	default:
		return firecall.NewTeardown(s, config.Collection, log.Logger).Run(ctx, args[1], nil)
	}
}

func openStore(ctx context.Context, config firecall.Config) (store.Store, error) {
	if config.Store == firecall.StoreMemory {
		log.Warn().Msg("memory store only reaches peers in this process; use loopback or the firestore store")
		return store.NewMemory(), nil
	}

	credentials, err := config.Firebase.ClientOption()
	if err != nil {
		return nil, err
	}
	return store.NewFirebaseStore(ctx, log.Logger, credentials)
}
