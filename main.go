package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/escrow"
	"github.com/dmitrorezn/escrow-pay/internal/ledger"
	"github.com/dmitrorezn/escrow-pay/internal/outbox"
	"github.com/dmitrorezn/escrow-pay/internal/token"
)

type Config struct {
	ledger.Cfg
	GenesisCfg
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	TokenQueryBase string        `env:"TOKEN_QUERY_BASE" envDefault:"http://localhost:1317/tokens"`
	FlushInterval  time.Duration `env:"OUTBOX_FLUSH_INTERVAL" envDefault:"5s"`
}

// GenesisCfg seeds the contract configuration on first start; it is
// ignored once a configuration is persisted.
type GenesisCfg struct {
	Admin               string `env:"GENESIS_ADMIN"`
	Fee                 uint64 `env:"GENESIS_FEE" envDefault:"1000000"`
	Treasury            string `env:"GENESIS_TREASURY"`
	FeeTokenAddress     string `env:"FEE_TOKEN_ADDRESS"`
	FeeTokenHash        string `env:"FEE_TOKEN_HASH"`
	ViewKeyTokenAddress string `env:"VIEWKEY_TOKEN_ADDRESS"`
	ViewKeyTokenHash    string `env:"VIEWKEY_TOKEN_HASH"`
	EndTimeLimit        uint64 `env:"END_TIME_LIMIT" envDefault:"4102444800"`
}

func (g GenesisCfg) contractConfig() escrow.Config {
	return escrow.Config{
		Admin: domain.Addr(g.Admin),
		Fee:   g.Fee,
		FeeToken: domain.TokenContract{
			Address:  domain.Addr(g.FeeTokenAddress),
			CodeHash: g.FeeTokenHash,
		},
		ViewKeyToken: domain.TokenContract{
			Address:  domain.Addr(g.ViewKeyTokenAddress),
			CodeHash: g.ViewKeyTokenHash,
		},
		Treasury:     domain.Addr(g.Treasury),
		EndTimeLimit: g.EndTimeLimit,
	}
}

func init() {
	if len(os.Args) > 1 {
		_ = godotenv.Load(os.Args[1])
	}
}

// logSink stands in for the host runtime boundary: instructions are
// logged instead of executed.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) Dispatch(_ context.Context, ins ...escrow.Instruction) error {
	for _, in := range ins {
		s.logger.Info().
			Str("id", in.ID).
			Uint8("kind", uint8(in.Kind)).
			Str("token", string(in.Token.Address)).
			Str("recipient", string(in.Recipient)).
			Uint64("amount", in.Amount).
			Msg("instruction")
	}

	return nil
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	if err := env.Parse(&cfg.Cfg); err != nil {
		log.Fatal(err)
	}
	if err := env.Parse(&cfg.GenesisCfg); err != nil {
		log.Fatal(err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	cancel = sync.OnceFunc(cancel)
	defer cancel()

	store, err := ledger.Open(cfg.Cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open ledger")
	}
	defer store.Close()

	svc := escrow.NewService(store, token.NewHTTPClient(cfg.TokenQueryBase), logger)
	box := outbox.New(ctx, logSink{logger: logger}, cfg.FlushInterval, logger)
	defer box.Close()

	resp, err := svc.InstallGenesis(cfg.GenesisCfg.contractConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("install genesis")
	}
	if err = box.Add(ctx, resp.Instructions...); err != nil {
		logger.Fatal().Err(err).Msg("queue genesis instructions")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/receive", receive(svc, box))
	mux.HandleFunc("/handle", handle(svc, box))
	mux.HandleFunc("/txs", txs(svc))
	mux.HandleFunc("/config", configQuery(svc))

	wg := sync.WaitGroup{}
	defer wg.Wait()

	server := http.Server{
		Handler: mux,
		Addr:    cfg.HTTPAddr,
	}
	defer server.Shutdown(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, c := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer c()
		<-ctx.Done()

		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("ListenAndServe")
		}
	}()
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("started")

	<-ctx.Done()
}
