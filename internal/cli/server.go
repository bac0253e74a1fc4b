package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-quiz-service/internal/app"
	"escrow-quiz-service/internal/config"
	"escrow-quiz-service/internal/infra/chain"
	"escrow-quiz-service/internal/infra/memory"
	"escrow-quiz-service/internal/infra/postgres"
	redisinfra "escrow-quiz-service/internal/infra/redis"
	"escrow-quiz-service/internal/ops"
	"escrow-quiz-service/internal/settle"
	transport "escrow-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Chain.RelayURL == "" && !cfg.Chain.UnsettledMode {
		return fmt.Errorf("chain.relay_url not configured; set chain.unsettled_mode explicitly to run without settlement")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// stores: Postgres when configured, in-memory otherwise
	memStore := memory.NewQuizStore()
	var quizStore app.QuizStore = memStore
	var quizLoader memory.QuizLoader = memStore
	var attemptStore app.AttemptStore = memory.NewAttemptStore()
	if pool != nil {
		pgStore := postgres.NewStore(pool)
		quizStore = pgStore
		quizLoader = pgStore
		attemptStore = pgStore
	}

	cacheTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizCache(redisClient, quizLoader, cacheTTL)
		if pool == nil {
			// with redis but no postgres, attempt records live in redis
			attemptStore = redisinfra.NewAttemptStore(redisClient, 0)
		}
	} else {
		quizRepo = memory.NewQuizRepository(quizLoader, cacheTTL)
	}

	var chainClient app.ChainClient
	var wallets app.WalletResolver
	if cfg.Chain.RelayURL != "" {
		relay := chain.NewRelayClient(cfg.Chain.RelayURL, nil)
		chainClient = relay
		wallets = relay
	}

	sources := make([]settle.ReceiptSource, 0, len(cfg.Chain.ReceiptSources))
	for _, src := range cfg.Chain.ReceiptSources {
		sources = append(sources, chain.NewRPCReceiptSource(src.Name, src.Endpoint, src.Method, nil))
	}
	resolver := settle.NewResolver(sources, settle.Config{
		MaxRetries:     cfg.Chain.MaxRetries,
		RetryDelay:     config.TTLDuration(cfg.Chain.RetryDelay, 2500*time.Millisecond),
		FactoryAddress: cfg.Chain.FactoryAddress,
		EventTopic:     cfg.Chain.EventTopic,
	}, logger)

	maxQueue := cfg.Scheduler.MaxQueue
	if maxQueue <= 0 {
		maxQueue = 64
	}
	sched := ops.New(maxQueue, logger)
	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	go sched.Run(schedCtx)

	lifecycle := app.NewLifecycle(
		sched,
		memory.NewDraftStore(),
		quizStore,
		chainClient,
		wallets,
		memory.NewStaticGenerator(cfg.Quiz.QuestionCount),
		resolver,
		app.LifecycleConfig{
			DraftTTL:        config.TTLDuration(cfg.Quiz.DraftTTL, 15*time.Minute),
			QuizTTL:         config.TTLDuration(cfg.Quiz.TTL, 24*time.Hour),
			WalletPolls:     cfg.Chain.WalletPolls,
			WalletPollDelay: config.TTLDuration(cfg.Chain.WalletPollDelay, 2*time.Second),
			ContractType:    cfg.Chain.ContractType,
			UnsettledMode:   cfg.Chain.UnsettledMode,
		},
		logger,
	)
	sessions := app.NewSessions(attemptStore, quizRepo, wallets, logger)
	wsHandler := transport.NewWSHandler(lifecycle, sessions, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
