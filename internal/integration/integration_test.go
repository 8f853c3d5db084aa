package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	natsbroker "live-quiz-service/internal/infra/nats"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
)

func TestGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()
	natsURL, natsCleanup := startNATS(t, ctx)
	defer natsCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	loader := postgres.NewQuestionLoader(pool)
	if err := loader.SaveQuizSet(ctx, "set-1", "Integration", sampleQuestions()); err != nil {
		t.Fatalf("seed quiz set: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	cfg := natsbroker.DefaultConfig()
	cfg.URL = natsURL
	nc, err := natsbroker.Connect(cfg)
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()

	store := postgres.NewStore(pool)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute, "it")
	service := app.NewGameService(
		store,
		infraredis.NewQuestionRepository(redisClient, loader, 5*time.Minute),
		sessions,
		natsbroker.NewBroker(nc),
		app.Options{Timing: app.Timing{AnswerBudget: time.Minute, ChoiceRevealDelay: time.Second, TransitionTimeout: 5 * time.Second}},
	)

	game, err := service.CreateGame(ctx, "set-1")
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	alice, err := service.Join(ctx, game.ID, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	bob, err := service.Join(ctx, game.ID, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	events, cancel, _, err := service.Subscribe(ctx, game.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := service.StartGame(ctx, game.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := service.RevealNextChoice(ctx, game.ID); err != nil {
			t.Fatalf("reveal choice: %v", err)
		}
	}

	stored, err := store.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if stored.ShownChoiceIndex == nil || *stored.ShownChoiceIndex != 1 {
		t.Fatalf("expected shown index 1 persisted, got %v", stored.ShownChoiceIndex)
	}

	if _, err := service.SubmitAnswer(ctx, game.ID, bob.ID, "q1", "c2"); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, game.ID, alice.ID, "q1", "c1"); err != nil {
		t.Fatalf("submit alice: %v", err)
	}

	// the unique key rejects a second answer even when it bypasses the machine
	err = store.CreateAnswer(ctx, domain.Answer{
		GameID: game.ID, ParticipantID: bob.ID, QuestionID: "q1", ChoiceID: "c1", SubmittedAt: time.Now(),
	})
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected ErrDuplicateAnswer from postgres, got %v", err)
	}

	var board domain.Leaderboard
	deadline := time.After(10 * time.Second)
	for board == nil {
		select {
		case evt := <-events:
			if evt.Type == domain.EventLeaderboard {
				board = evt.Leaderboard
			}
		case <-deadline:
			t.Fatalf("no leaderboard event over nats")
		}
	}
	if len(board) != 2 || board[0].ParticipantID != bob.ID || board[1].TotalScore != 0 {
		t.Fatalf("expected bob leading, got %+v", board)
	}

	stored, err = store.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if !stored.IsAnswerRevealed {
		t.Fatalf("expected reveal persisted")
	}

	snap, err := service.AdvanceQuestion(ctx, game.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if snap.Phase != domain.PhaseResults {
		t.Fatalf("expected results, got %s", snap.Phase)
	}
	if _, ok := sessions.Get(game.ID); ok {
		t.Fatalf("finished game still registered")
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func startNATS(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("nats host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("nats port: %v", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:        "q1",
			QuizSetID: "set-1",
			Order:     1,
			Body:      "What is 2 + 2?",
			Choices: []domain.Choice{
				{ID: "c1", QuestionID: "q1", Body: "3"},
				{ID: "c2", QuestionID: "q1", Body: "4", IsCorrect: true},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
