package mtask

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kyri56xcaesar/coachboard/internal/authmw"
	"kyri56xcaesar/coachboard/internal/objstore"
	"kyri56xcaesar/coachboard/internal/repo"
	"kyri56xcaesar/coachboard/internal/tasktree"
	"kyri56xcaesar/coachboard/pkg/translator"
)

const filesPrefix = "/files"

// database is what both backends offer on top of the repository contract.
type database interface {
	tasktree.Repository
	Migrate(ctx context.Context, initSQLPath string) error
}

func openDatabase(ctx context.Context, cfg Config) (database, func(), error) {
	switch cfg.DBBackend {
	case "postgres":
		pool, err := repo.ConnectPostgres(ctx, cfg.DBUser, cfg.DBPassword, cfg.DBAddress, cfg.DBName)
		if err != nil {
			return nil, nil, fmt.Errorf("could not connect to the database: %w", err)
		}
		return repo.NewPostgres(pool), pool.Close, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		db, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open %s: %w", cfg.SQLitePath, err)
		}
		return db, func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown DB_BACKEND %q", cfg.DBBackend)
}

func newAuthenticator(cfg Config) (authmw.Authenticator, error) {
	if cfg.AuthDisabled {
		zap.L().Warn("authentication disabled, trusting debug headers")
		return authmw.DevAuth{DefaultRoles: []string{string(authmw.RoleStudent)}}, nil
	}
	issuer := fmt.Sprintf("http://%s/realms/%s", cfg.AuthAddress, cfg.Realm)
	return authmw.NewKeycloakAuth(issuer+"/protocol/openid-connect/certs", issuer, cfg.Audience, cfg.ClientID)
}

// newDirectory is optional: without a client secret assignees are not
// checked against Keycloak.
func newDirectory(cfg Config) userDirectory {
	if cfg.AuthDisabled || cfg.ClientSecret == "" {
		return nil
	}
	dir, err := authmw.NewDirectory(cfg.AuthAddress, cfg.Realm, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		zap.L().Warn("keycloak directory unavailable, assignees are not verified", zap.Error(err))
		return nil
	}
	return dir
}

func newServer(cfg Config, db tasktree.Repository, disk *objstore.Disk, dir userDirectory, m *metrics) *server {
	opts := tasktree.Options{Recorder: m, PersistSiblings: cfg.PersistSiblingOrders}
	maxUpload := objstore.DefaultMaxBytes
	if disk != nil {
		opts.Objects = disk
		maxUpload = disk.MaxBytes()
	}
	return &server{
		boards:    newWorkspaces(db, opts, m),
		directory: dir,
		maxUpload: maxUpload,
	}
}

func newRouter(cfg Config, s *server, m *metrics, guard authmw.Authenticator, disk *objstore.Disk) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), GinZapMiddleware(zap.L()), m.middleware(), LanguageMiddleware())

	corsconfig := cors.DefaultConfig()
	corsconfig.AllowOrigins = cfg.AllowedOrigins
	corsconfig.AllowMethods = cfg.AllowedMethods
	corsconfig.AllowHeaders = cfg.AllowedHeaders
	engine.Use(cors.New(corsconfig))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	engine.GET("/metrics", m.handler())
	if disk != nil {
		engine.Static(disk.Prefix(), disk.Root())
	}

	secure := engine.Group("/auth")
	secure.Use(guard.RequireRoles(authmw.AllRoles...))
	{
		secure.GET("/me", s.handleMe)
		secure.GET("/board", s.handleBoard)
		secure.GET("/search", s.handleSearch)

		secure.POST("/groups", s.handleGroupCreate)
		secure.POST("/groups/reorder", s.handleGroupReorder)
		secure.PUT("/groups/:groupid", s.handleGroupUpdate)
		secure.DELETE("/groups/:groupid", s.handleGroupDelete)

		secure.POST("/tasks", s.handleTaskCreate)
		secure.GET("/tasks/:taskid", s.handleTaskGet)
		secure.PUT("/tasks/:taskid", s.handleTaskUpdate)
		secure.DELETE("/tasks/:taskid", s.handleTaskDelete)
		secure.POST("/tasks/:taskid/subtasks", s.handleSubtaskCreate)
		secure.POST("/tasks/:taskid/duplicate", s.handleTaskDuplicate)
		secure.POST("/tasks/:taskid/move", s.handleTaskMove)
		secure.POST("/reorder", s.handleReorder)

		secure.POST("/tasks/:taskid/resources/file", s.handleFileUpload)
		secure.POST("/tasks/:taskid/resources/link", s.handleLinkCreate)
		secure.DELETE("/resources/:resourceid", s.handleResourceDelete)
	}
	return engine
}

// Migrate applies the schema of the configured backend and exits.
func Migrate(confPath string) error {
	config := loadConfig(confPath)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, closeDB, err := openDatabase(ctx, config)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := db.Migrate(ctx, config.InitSQLPath); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	zap.L().Info("schema applied", zap.String("backend", config.DBBackend))
	return nil
}

func InitAndServe(confPath string) error {
	config := loadConfig(confPath)
	setGinMode(config.ApiGinMode)

	translator.InitTranslator(translator.Config{
		TranslationFolder:  config.TranslationDir,
		SupportedLanguages: config.SupportedLanguages,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openDatabase(ctx, config)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := db.Migrate(ctx, config.InitSQLPath); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	disk, err := objstore.NewDisk(config.StorageDir, filesPrefix, int64(config.MaxUploadMB)<<20)
	if err != nil {
		return fmt.Errorf("failed to prepare storage dir: %w", err)
	}

	guard, err := newAuthenticator(config)
	if err != nil {
		return fmt.Errorf("failed to init keycloak auth: %w", err)
	}

	m := newMetrics()
	s := newServer(config, db, disk, newDirectory(config), m)
	engine := newRouter(config, s, m, guard, disk)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port),
		Handler:           engine,
		ReadHeaderTimeout: time.Second * 5,
	}

	errc := make(chan error, 1)
	go func() {
		zap.L().Info("listening", zap.String("addr", srv.Addr), zap.String("profile", config.Profile))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	zap.L().Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	zap.L().Info("server exiting")
	return nil
}

func setGinMode(mode string) {
	switch strings.ToLower(mode) {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "envgin":
		gin.SetMode(gin.EnvGinMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}
