package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	natsbroker "live-quiz-service/internal/infra/nats"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
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
	setLogLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var store app.Store = memory.NewStore()
	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuizSets())
	if pool != nil {
		store = postgres.NewStore(pool)
		loader = postgres.NewQuestionLoader(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Game.QuestionCacheTTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, cacheTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, cacheTTL)
	}

	var sessions app.SessionRepository
	var redisSessions *redisinfra.SessionStore
	if redisClient != nil {
		redisSessions = redisinfra.NewSessionStore(redisClient, sessionTTL, instanceID(finalPort))
		sessions = redisSessions
	} else {
		sessions = memory.NewSessionStore()
	}

	if brokerKind(cfg) != "memory" && redisSessions == nil {
		// a shared broker implies several instances, which must agree on game owners
		return fmt.Errorf("broker %q needs redis.addr for the session registry", brokerKind(cfg))
	}
	broker, closeBroker, err := newBroker(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeBroker()

	timing := app.DefaultTiming()
	timing.AnswerBudget = config.TTLDuration(cfg.Game.AnswerBudget, timing.AnswerBudget)
	timing.ChoiceRevealDelay = config.TTLDuration(cfg.Game.ChoiceRevealDelay, timing.ChoiceRevealDelay)
	timing.TransitionTimeout = config.TTLDuration(cfg.Game.TransitionTimeout, timing.TransitionTimeout)
	retry := app.DefaultRetryPolicy()
	if cfg.Game.LoadRetries > 0 {
		retry.MaxAttempts = cfg.Game.LoadRetries
	}

	service := app.NewGameService(store, questions, sessions, broker, app.Options{
		Timing: timing,
		Retry:  retry,
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service),
		ReadTimeout: 15 * time.Second,
		// websocket connections manage their own write deadlines
		WriteTimeout: 0,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("port", finalPort).
			Str("broker", brokerKind(cfg)).
			Bool("postgres", pool != nil).
			Bool("redis", redisClient != nil).
			Dur("answer_budget", timing.AnswerBudget).
			Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if redisSessions != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sessionTTL / 2)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := redisSessions.Refresh(gctx); err != nil {
						log.Warn().Err(err).Msg("refresh session markers")
					}
				}
			}
		})
	}
	return g.Wait()
}

// instanceID names this process in game claims. Two instances on one host
// differ by port.
func instanceID(port string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + port
}

func brokerKind(cfg config.Config) string {
	if cfg.Broker.Kind == "" {
		return "memory"
	}
	return cfg.Broker.Kind
}

func newBroker(cfg config.Config, redisClient *redis.Client) (app.Broker, func(), error) {
	switch brokerKind(cfg) {
	case "memory":
		return memory.NewBroker(), func() {}, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis broker needs redis.addr")
		}
		return redisinfra.NewBroker(redisClient), func() {}, nil
	case "nats":
		natsCfg := natsbroker.DefaultConfig()
		if cfg.NATS.URL != "" {
			natsCfg.URL = cfg.NATS.URL
		}
		nc, err := natsbroker.Connect(natsCfg)
		if err != nil {
			return nil, nil, err
		}
		return natsbroker.NewBroker(nc), nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}
