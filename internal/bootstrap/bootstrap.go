package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	appAuth "github.com/taxlink/taxchat/internal/app/auth"
	appControllers "github.com/taxlink/taxchat/internal/app/controllers"
	appMigrations "github.com/taxlink/taxchat/internal/app/migrations"
	"github.com/taxlink/taxchat/internal/app/models/dto"
	appRepos "github.com/taxlink/taxchat/internal/app/repositories"
	appRoutes "github.com/taxlink/taxchat/internal/app/routes"
	appServices "github.com/taxlink/taxchat/internal/app/services"
	"github.com/taxlink/taxchat/internal/config"
	"github.com/taxlink/taxchat/internal/db"
	appMiddleware "github.com/taxlink/taxchat/internal/middleware"
	pkgAuth "github.com/taxlink/taxchat/internal/pkg/auth"
	"github.com/taxlink/taxchat/internal/pkg/filestorage"
	"github.com/taxlink/taxchat/internal/pkg/helpers"
	"github.com/taxlink/taxchat/internal/pkg/logger"
	"github.com/taxlink/taxchat/internal/pkg/websocket"
	"github.com/taxlink/taxchat/internal/seed"
)

// Demo seed participants
const (
	demoUserID       int64 = 1
	demoAccountantID int64 = 2
)

// multipartOverhead covers form boundaries and headers on top of the file bytes
const multipartOverhead = 1 << 20

// Dependencies holds all the application dependencies
type Dependencies struct {
	Database        *db.PostgresDB // nil with the memory driver
	Redis           redis.UniversalClient
	Repos           *appRepos.Repositories
	JWTService      *pkgAuth.JWTService
	AuthzService    *appAuth.AuthorizationService
	FileStorage     *filestorage.LocalStorage
	ChatService     appServices.ChatService
	ChatController  *appControllers.ChatController
	AuthMiddleware  *appMiddleware.AuthMiddleware
	RateLimiter     *appMiddleware.RateLimiter
	Hub             *websocket.Hub
	PresenceHandler *websocket.Handler
	Logger          zerolog.Logger
}

// Close releases the external connections held by the dependencies
func (d *Dependencies) Close() {
	if d.Hub != nil {
		d.Hub.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if d.Database != nil {
		d.Database.Close()
	}
}

// LoadConfigAndSetupLogger loads configuration and initializes the logger.
func LoadConfigAndSetupLogger() (*config.Config, zerolog.Logger, error) {
	configPath := filepath.Join("configs", "config.yaml")
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return nil, zerolog.Logger{}, err
	}

	logLevel := logger.LogLevel(strings.ToLower(cfg.Logging.Level))
	lgr := logger.Configure(logger.Config{
		Level:  logLevel,
		Pretty: strings.ToLower(cfg.Logging.Format) == "text",
	})

	lgr.Info().Str("logLevel", string(logLevel)).Str("logFormat", cfg.Logging.Format).Msg("Logger configured")
	return cfg, lgr, nil
}

// SetupDatabase connects to PostgreSQL and applies pending migrations. The
// memory driver needs neither and yields a nil database.
func SetupDatabase(cfg *config.Config, lgr zerolog.Logger) (*db.PostgresDB, error) {
	if strings.ToLower(cfg.Database.Driver) == "memory" {
		lgr.Warn().Msg("Using in-memory chat store, data is lost on restart")
		return nil, nil
	}

	lgr.Info().Msg("Establishing database connection...")
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	database, err := db.NewPostgresDB(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to connect to database")
		return nil, err
	}
	lgr.Info().Msg("Database connection successfully established.")

	migrationsDir := cfg.Database.MigrationsDir
	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		database.Close()
		lgr.Error().Str("path", migrationsDir).Msg("Migrations directory not found")
		return nil, fmt.Errorf("migrations directory not found at %s: %w", migrationsDir, err)
	}

	lgr.Info().Str("path", migrationsDir).Msg("Running database migrations...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := appMigrations.NewMigrator(database.Pool, lgr).MigrateFromDirectory(ctx, migrationsDir); err != nil {
		database.Close()
		lgr.Error().Err(err).Msg("Database migration error")
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	lgr.Info().Msg("Database migrations successfully applied.")

	return database, nil
}

// SetupRedis connects the rate limiter backend. A disabled or unreachable
// Redis leaves rate limiting off.
func SetupRedis(cfg *config.Config, lgr zerolog.Logger) redis.UniversalClient {
	if !cfg.Redis.Enabled {
		lgr.Info().Msg("Redis disabled, rate limiting is off")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lgr.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, rate limiting is off")
		_ = client.Close()
		return nil
	}

	lgr.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	return client
}

// BuildDependencies initializes application repositories, services, and controllers.
func BuildDependencies(cfg *config.Config, database *db.PostgresDB, redisClient redis.UniversalClient, lgr zerolog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Database: database,
		Redis:    redisClient,
		Logger:   lgr,
	}

	if database != nil {
		deps.Repos = appRepos.NewRepositories(database)
	} else {
		deps.Repos = appRepos.NewMemoryRepositories()
	}

	if cfg.Database.SeedDemo {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := seed.CreateDemoRoom(ctx, deps.Repos.ChatStore, demoUserID, demoAccountantID, lgr)
		cancel()
		if err != nil {
			// Log the error but don't fail the startup
			lgr.Error().Err(err).Msg("Failed to create demo data, proceeding anyway...")
		}
	}

	var err error
	deps.FileStorage, err = filestorage.NewLocalStorage(cfg.Upload.Dir, cfg.UploadsBaseURL(), filestorage.Limits{
		MaxFiles:    cfg.Upload.MaxFiles,
		MaxFileSize: cfg.Upload.MaxFileSize,
	})
	if err != nil {
		lgr.Error().Err(err).Msg("Failed to initialize file storage")
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	deps.JWTService = pkgAuth.NewJWTService(pkgAuth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: helpers.ParseDuration(cfg.JWT.AccessTokenExpiration, time.Hour),
		TokenIssuer:    cfg.JWT.Issuer,
	})

	deps.AuthzService = appAuth.NewAuthorizationService(lgr)
	deps.ChatService = appServices.NewChatService(deps.Repos.ChatStore, deps.AuthzService, deps.FileStorage, lgr)

	maxUploadBytes := int64(cfg.Upload.MaxFiles)*cfg.Upload.MaxFileSize + multipartOverhead
	deps.ChatController = appControllers.NewChatController(deps.ChatService, maxUploadBytes)

	deps.AuthMiddleware = appMiddleware.NewAuthMiddleware(deps.JWTService)
	if redisClient != nil {
		deps.RateLimiter = appMiddleware.NewRateLimiter(appMiddleware.NewRedisWindowCounter(redisClient), lgr)
	}

	deps.Hub = websocket.NewHub(lgr)
	deps.PresenceHandler = websocket.NewHandler(deps.Hub, deps.JWTService, deps.ChatService, cfg.WebsocketOrigins(), lgr)

	return deps, nil
}

// SetupRouter configures the Gin engine with middleware and routes.
func SetupRouter(cfg *config.Config, deps *Dependencies, lgr zerolog.Logger) *gin.Engine {
	if strings.ToLower(cfg.Server.Mode) == "production" {
		gin.SetMode(gin.ReleaseMode)
		lgr.Info().Msg("Setting Gin mode to release")
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
		lgr.Info().Msg("Setting Gin mode to debug")
	}

	appMiddleware.RegisterValidators()

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(
		appMiddleware.Recovery(),
		appMiddleware.RequestLogger(lgr),
		appMiddleware.Metrics(),
	)

	appRoutes.SetupSwagger(router)

	appRoutes.SetupRouter(router,
		deps.ChatController,
		deps.PresenceHandler,
		deps.AuthMiddleware,
		deps.RateLimiter,
		appRoutes.RateLimits{
			Window:          helpers.ParseDuration(cfg.RateLimit.Window, time.Minute),
			SendPerWindow:   cfg.RateLimit.SendPerWindow,
			UploadPerWindow: cfg.RateLimit.UploadPerWindow,
		},
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/v1/health", healthHandler(deps))

	return router
}

func healthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"database": "memory"}
		if deps.Database != nil {
			if err := deps.Database.Pool.Ping(ctx); err != nil {
				deps.Logger.Error().Err(err).Msg("Health check: database unreachable")
				c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(
					dto.NewErrorDetail(dto.ErrorCodeDatabaseError, "Database unreachable")))
				return
			}
			status["database"] = "up"
		}
		if deps.Redis != nil {
			status["redis"] = "up"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				status["redis"] = "down"
			}
		}
		status["websocketClients"] = deps.Hub.ClientsCount()

		c.JSON(http.StatusOK, dto.NewSuccessResponse(status))
	}
}
