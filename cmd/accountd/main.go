package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	accounts "github.com/veridian-labs/go-accounts"
	"github.com/veridian-labs/go-accounts/blobstore"
	"github.com/veridian-labs/go-accounts/mailer"
	"github.com/veridian-labs/go-accounts/middleware/sessionware"
)

type appConfig struct {
	Addr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	SigningSecret string        `env:"CODE_SIGNING_SECRET,required"`
	Issuer        string        `env:"TOKEN_ISSUER" envDefault:"go-accounts"`
	DBPath        string        `env:"DB_PATH" envDefault:"accounts.db"`
	ViewsDir      string        `env:"VIEWS_DIR" envDefault:"./views"`
	CodeTTL       time.Duration `env:"CODE_TTL" envDefault:"10m"`
	ConfirmTTL    time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"30m"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	GuestTTL      time.Duration `env:"GUEST_SESSION_TTL" envDefault:"1h"`
	Debug         bool          `env:"DEBUG" envDefault:"false"`

	SMTPHost     string `env:"SMTP_HOST,required"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,required"`
}

func (c appConfig) GetSigningKey() string             { return c.SigningSecret }
func (c appConfig) GetIssuer() string                 { return c.Issuer }
func (c appConfig) GetPublicBaseURL() string          { return c.PublicBaseURL }
func (c appConfig) GetCodeTTL() time.Duration         { return c.CodeTTL }
func (c appConfig) GetConfirmTokenTTL() time.Duration { return c.ConfirmTTL }
func (c appConfig) GetSessionTTL() time.Duration      { return c.SessionTTL }
func (c appConfig) GetGuestSessionTTL() time.Duration { return c.GuestTTL }

// zlog adapts zerolog to the accounts.Logger interface.
type zlog struct {
	l zerolog.Logger
}

func (z zlog) Debug(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z zlog) Info(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z zlog) Warn(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z zlog) Error(format string, args ...any) { z.l.Error().Msgf(format, args...) }

func main() {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		zl.Fatal().Err(err).Msg("failed to parse environment")
	}
	if cfg.Debug {
		zl = zl.Level(zerolog.DebugLevel)
	} else {
		zl = zl.Level(zerolog.InfoLevel)
	}
	logger := zlog{zl}

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to open database")
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	stores := blobstore.NewBun(db)
	if err := stores.Init(context.Background()); err != nil {
		zl.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	smtp, err := mailer.NewSMTP(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("failed to configure mailer")
	}

	ctrl := accounts.New(cfg, stores, smtp, logger)
	ctrl.Debug = cfg.Debug
	ctrl.ConfirmView = "confirm"

	engine := django.New(cfg.ViewsDir, ".html")
	app := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: !cfg.Debug,
	})

	ctrl.RegisterRoutes(app)
	accounts.NewAdminController(stores, logger).RegisterRoutes(app)
	accounts.NewTrackingController(stores, logger).RegisterRoutes(app)

	session := sessionware.New(sessionware.Config{
		Verifier: ctrl.Sessions,
	})
	app.Get("/auth/me", session, func(c *fiber.Ctx) error {
		claims, ok := sessionware.ClaimsFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.JSON(fiber.Map{
			"email":   claims.SubjectEmail(),
			"role":    claims.Role,
			"expires": claims.Expires(),
		})
	})

	go func() {
		if err := app.Listen(cfg.Addr); err != nil {
			zl.Fatal().Err(err).Msg("server stopped")
		}
	}()
	zl.Info().Str("addr", cfg.Addr).Msg("accountd listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info().Msg("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Error().Err(err).Msg("shutdown error")
	}
	if err := db.Close(); err != nil {
		zl.Error().Err(err).Msg("database close error")
	}
}
