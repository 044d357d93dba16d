package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"git-arcade/config"
	"git-arcade/handlers"
	"git-arcade/middleware"
	"git-arcade/multiplayer"
	"git-arcade/realtime"
	"git-arcade/services"
	"git-arcade/store"
	"git-arcade/utils"
	"git-arcade/workers"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "git-arcade").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func openStore(cfg config.Config, hub *realtime.Hub, clock clockwork.Clock) (store.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("using the in-memory store; data is lost on restart")
		return store.NewMemoryStore(hub, clock), func() {}, nil
	}
	gs, err := store.OpenGorm(cfg.DatabaseURL, hub)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := gs.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return gs, closeDB, nil
}

func run(ctx context.Context, cfg config.Config) error {
	clock := clockwork.NewRealClock()
	hub := realtime.NewHub()

	st, closeStore, err := openStore(cfg, hub, clock)
	if err != nil {
		return err
	}
	defer closeStore()

	vars := services.NewVariableCache(st)
	challengeService := services.NewChallengeService(st, vars)
	contentService := services.NewContentService(st, vars)
	progressionService := services.NewProgressionService(st, clock)
	leaderboardService := services.NewLeaderboardService(st, progressionService)

	var (
		s3Once   sync.Once
		s3Client utils.ObjectGetter
		s3Err    error
	)
	loader := &workers.ContentLoader{
		Source:     cfg.ContentSource,
		Content:    contentService,
		HTTPClient: utils.HTTPClient,
		S3: func(ctx context.Context) (utils.ObjectGetter, error) {
			s3Once.Do(func() {
				s3Client, s3Err = utils.NewS3Client(ctx, utils.S3Options{
					Endpoint:        cfg.S3.Endpoint,
					Region:          cfg.S3.Region,
					AccessKeyID:     cfg.S3.AccessKeyID,
					SecretAccessKey: cfg.S3.SecretAccessKey,
				})
			})
			return s3Client, s3Err
		},
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	if err := vars.Load(ctx); err != nil {
		log.Warn().Err(err).Str("component", "variables").Msg("variable pools unavailable, placeholders stay verbatim")
	}

	deps := &multiplayer.Deps{
		Store:      st,
		Hub:        hub,
		Clock:      clock,
		Challenges: challengeService,
		Results:    progressionService,
		Config:     cfg.MultiplayerConfig(),
	}
	coord := multiplayer.NewCoordinator(deps)
	players := multiplayer.NewRegistry(ctx, deps, coord)
	defer players.Close()
	invites := multiplayer.NewInviteService(ctx, deps, players)
	defer invites.Close()

	housekeeping, err := workers.StartHousekeeping(ctx, multiplayer.NewSweeper(deps, players), clock, cfg.HousekeepingInterval)
	if err != nil {
		return err
	}
	defer func() {
		if err := housekeeping.Stop(); err != nil {
			log.Warn().Err(err).Str("component", "housekeeping").Msg("stop scheduler")
		}
	}()

	app := fiber.New(fiber.Config{
		// Players, queue waits and subscriptions keep ids taken from requests.
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())

	// Only gateway requests are allowed when a token is configured.
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken))
	if cfg.GatewayToken == "" {
		log.Warn().Msg("GAME_SERVICE_TOKEN not set, gateway authentication disabled")
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins(),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-User-ID, X-Username, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "players": players.Len()})
	})

	handlers.SetupChallengeRoutes(app, challengeService)
	handlers.SetupProgressionRoutes(app, leaderboardService, progressionService)
	handlers.SetupMultiplayerRoutes(app, &handlers.MultiplayerHandler{
		Players:  players,
		Invites:  invites,
		Profiles: st,
		Hub:      hub,
		Done:     ctx.Done(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Strs("origins", cfg.AllowedOrigins).Msg("server listening")
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
