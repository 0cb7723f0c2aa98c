package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/resq108/DispatchPipe/internal/api"
	"github.com/resq108/DispatchPipe/internal/dispatch"
	"github.com/resq108/DispatchPipe/internal/lockfile"
	"github.com/resq108/DispatchPipe/internal/messaging"
	"github.com/resq108/DispatchPipe/internal/metrics"
	"github.com/resq108/DispatchPipe/internal/store"
	"github.com/resq108/DispatchPipe/internal/twiliowhatsapp"
	"github.com/resq108/DispatchPipe/internal/util"
	"github.com/resq108/DispatchPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DispatchPipe state data
	DefaultStateDir = "/var/lib/dispatchpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dispatchpipe.db"
	// DefaultProvider is the messaging provider used when none is configured
	DefaultProvider = "meta"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One DispatchPipe instance per state directory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := run(flags); err != nil {
		slog.Error("DispatchPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("DispatchPipe exited successfully")
}

// run wires the store, messaging service, dispatcher and API server together
// and serves until a termination signal arrives.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	svc, err := buildMessagingService(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}
	defer svc.Stop()

	m := metrics.New(nil)

	dispatcher := dispatch.NewDispatcher(st, svc,
		dispatch.WithMetrics(m),
		dispatch.WithProvider(*flags.provider),
		dispatch.WithSessionTTL(*flags.sessionTTL),
	)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go dispatcher.Start(ctx)

	server := api.NewServer(st, svc, dispatcher, buildAPIOptions(flags, m)...)
	slog.Info("Bootstrapping DispatchPipe", "provider", *flags.provider, "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	Provider      string
	WhatsAppToken string
	PhoneNumberID string
	VerifyToken   string
	WATIAPIKey    string
	WATIBaseURL   string
	DatabaseURL   string
	StateDir      string
	AdminToken    string
	APIAddr       string
	SessionTTL    time.Duration
	NumericCode   bool
}

// Flags holds command line flag values
type Flags struct {
	provider    *string
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	dbDSN       *string
	verifyToken *string
	adminToken  *string
	apiAddr     *string
	sessionTTL  *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Provider:      os.Getenv("PROVIDER"),
		WhatsAppToken: os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		VerifyToken:   os.Getenv("VERIFY_TOKEN"),
		WATIAPIKey:    os.Getenv("WATI_API_KEY"),
		WATIBaseURL:   os.Getenv("WATI_BASE_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("DISPATCHPIPE_STATE_DIR"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		APIAddr:       os.Getenv("API_ADDR"),
		SessionTTL:    util.ParseDurationEnv("SESSION_TTL", dispatch.DefaultSessionTTL),
		NumericCode:   util.ParseBoolEnv("NUMERIC_CODE", false),
	}

	if config.Provider == "" {
		config.Provider = DefaultProvider
		slog.Debug("No PROVIDER set, using default", "default_provider", config.Provider)
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DISPATCHPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"PROVIDER", config.Provider,
		"WHATSAPP_TOKEN_set", config.WhatsAppToken != "",
		"WHATSAPP_PHONE_NUMBER_ID_set", config.PhoneNumberID != "",
		"VERIFY_TOKEN_set", config.VerifyToken != "",
		"WATI_API_KEY_set", config.WATIAPIKey != "",
		"WATI_BASE_URL_set", config.WATIBaseURL != "",
		"DATABASE_URL_set", config.DatabaseURL != "",
		"DISPATCHPIPE_STATE_DIR", config.StateDir,
		"ADMIN_TOKEN_set", config.AdminToken != "",
		"API_ADDR", config.APIAddr,
		"SESSION_TTL", config.SessionTTL,
		"NUMERIC_CODE", config.NumericCode)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		provider:    flag.String("provider", config.Provider, "messaging provider: meta, wati, twilio or whatsmeow (overrides $PROVIDER)"),
		qrOutput:    flag.String("qr-output", "", "path to write login QR code (whatsmeow provider only)"),
		numeric:     flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (whatsmeow provider only, overrides $NUMERIC_CODE)"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for DispatchPipe data (overrides $DISPATCHPIPE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		verifyToken: flag.String("verify-token", config.VerifyToken, "Meta webhook verification token (overrides $VERIFY_TOKEN)"),
		adminToken:  flag.String("admin-token", config.AdminToken, "bearer token for admin endpoints (overrides $ADMIN_TOKEN)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sessionTTL:  flag.Duration("session-ttl", config.SessionTTL, "idle session eviction TTL (overrides $SESSION_TTL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"provider", *flags.provider,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"verifyToken_set", *flags.verifyToken != "",
		"adminToken_set", *flags.adminToken != "",
		"apiAddr", *flags.apiAddr,
		"sessionTTL", *flags.sessionTTL)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "db_dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch store.DetectDSNType(*flags.dbDSN) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	case "redis":
		slog.Debug("Detected Redis URL, configuring Redis store")
		storeOpts = append(storeOpts, store.WithRedisURL(*flags.dbDSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	storeOpts = append(storeOpts, store.WithSessionTTL(*flags.sessionTTL))
	return storeOpts
}

// buildMessagingService constructs the messaging service for the configured provider
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.provider) {
	case "meta":
		return messaging.NewMetaCloudService(
			messaging.WithMetaToken(os.Getenv("WHATSAPP_TOKEN")),
			messaging.WithMetaPhoneNumberID(os.Getenv("WHATSAPP_PHONE_NUMBER_ID")),
		)
	case "wati":
		return messaging.NewWATIService(
			messaging.WithWATIAPIKey(os.Getenv("WATI_API_KEY")),
			messaging.WithWATIBaseURL(os.Getenv("WATI_BASE_URL")),
		)
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	case "whatsmeow":
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (expected meta, wati, twilio or whatsmeow)", *flags.provider)
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, m *metrics.Metrics) []api.Option {
	apiOpts := []api.Option{api.WithMetrics(m), api.WithProvider(*flags.provider)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	if *flags.adminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(*flags.adminToken))
	}
	return apiOpts
}
