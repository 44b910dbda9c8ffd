package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clinicware/atende/internal/api"
	"github.com/clinicware/atende/internal/conversation"
	"github.com/clinicware/atende/internal/gestaods"
	"github.com/clinicware/atende/internal/messaging"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/reminder"
	"github.com/clinicware/atende/internal/resilience"
	"github.com/clinicware/atende/internal/session"
	"github.com/clinicware/atende/internal/store"
	"github.com/clinicware/atende/internal/util"
	"github.com/clinicware/atende/internal/zapi"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Atende state data
	DefaultStateDir = "/var/lib/atende"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "atende.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8000"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping Atende")
	if err := run(flags); err != nil {
		slog.Error("Atende failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Atende exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	StateDir         string
	APIAddr          string
	Provider         string
	ZAPIBaseURL      string
	ZAPIInstanceID   string
	ZAPIToken        string
	ZAPIClientToken  string
	GestaoBaseURL    string
	GestaoToken      string
	ClinicName       string
	ClinicPhone      string
	ClinicAddress    string
	ReminderSchedule string
}

// Flags holds command line flag values
type Flags struct {
	dbDSN            *string
	stateDir         *string
	apiAddr          *string
	provider         *string
	zapiBaseURL      *string
	zapiInstanceID   *string
	zapiToken        *string
	zapiClientToken  *string
	gestaoBaseURL    *string
	gestaoToken      *string
	clinicName       *string
	clinicPhone      *string
	clinicAddress    *string
	reminderSchedule *string
}

// initializeLogger sets up structured logging. ATENDE_DEBUG=true enables
// debug-level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("ATENDE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("ATENDE_STATE_DIR"),
		APIAddr:          os.Getenv("API_ADDR"),
		Provider:         os.Getenv("MESSAGING_PROVIDER"),
		ZAPIBaseURL:      os.Getenv("ZAPI_BASE_URL"),
		ZAPIInstanceID:   os.Getenv("ZAPI_INSTANCE_ID"),
		ZAPIToken:        os.Getenv("ZAPI_TOKEN"),
		ZAPIClientToken:  os.Getenv("ZAPI_CLIENT_TOKEN"),
		GestaoBaseURL:    os.Getenv("GESTAODS_BASE_URL"),
		GestaoToken:      os.Getenv("GESTAODS_TOKEN"),
		ClinicName:       os.Getenv("CLINIC_NAME"),
		ClinicPhone:      os.Getenv("CLINIC_PHONE"),
		ClinicAddress:    os.Getenv("CLINIC_ADDRESS"),
		ReminderSchedule: os.Getenv("REMINDER_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ATENDE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.Provider == "" {
		config.Provider = "zapi"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ATENDE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.Provider,
		"ZAPI_INSTANCE_ID_SET", config.ZAPIInstanceID != "",
		"ZAPI_TOKEN_SET", config.ZAPIToken != "",
		"GESTAODS_TOKEN_SET", config.GestaoToken != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL; SQLite file path when empty)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for Atende data (overrides $ATENDE_STATE_DIR)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:         flag.String("messaging-provider", config.Provider, "messaging gateway: zapi or twilio (overrides $MESSAGING_PROVIDER)"),
		zapiBaseURL:      flag.String("zapi-base-url", config.ZAPIBaseURL, "Z-API base URL (overrides $ZAPI_BASE_URL)"),
		zapiInstanceID:   flag.String("zapi-instance-id", config.ZAPIInstanceID, "Z-API instance ID (overrides $ZAPI_INSTANCE_ID)"),
		zapiToken:        flag.String("zapi-token", config.ZAPIToken, "Z-API instance token (overrides $ZAPI_TOKEN)"),
		zapiClientToken:  flag.String("zapi-client-token", config.ZAPIClientToken, "Z-API account security token (overrides $ZAPI_CLIENT_TOKEN)"),
		gestaoBaseURL:    flag.String("gestaods-base-url", config.GestaoBaseURL, "GestãoDS base URL (overrides $GESTAODS_BASE_URL)"),
		gestaoToken:      flag.String("gestaods-token", config.GestaoToken, "GestãoDS API token (overrides $GESTAODS_TOKEN)"),
		clinicName:       flag.String("clinic-name", config.ClinicName, "clinic display name (overrides $CLINIC_NAME)"),
		clinicPhone:      flag.String("clinic-phone", config.ClinicPhone, "clinic contact phone (overrides $CLINIC_PHONE)"),
		clinicAddress:    flag.String("clinic-address", config.ClinicAddress, "clinic address (overrides $CLINIC_ADDRESS)"),
		reminderSchedule: flag.String("reminder-schedule", config.ReminderSchedule, "cron schedule for appointment reminders (overrides $REMINDER_SCHEDULE)"),
	}
	flag.Parse()
	return flags
}

// buildStore opens the durable store: PostgreSQL when the DSN looks like a
// connection URL, SQLite in the state directory otherwise.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	slog.Info("Using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildMessenger constructs the configured messaging gateway.
func buildMessenger(flags Flags, sink metrics.Sink) (messaging.Service, error) {
	if *flags.provider == "twilio" {
		slog.Info("Using Twilio messaging gateway")
		return messaging.NewTwilioService()
	}

	slog.Info("Using Z-API messaging gateway")
	opts := []zapi.Option{
		zapi.WithInstance(*flags.zapiInstanceID, *flags.zapiToken),
		zapi.WithClientToken(*flags.zapiClientToken),
		zapi.WithMetrics(sink),
	}
	if *flags.zapiBaseURL != "" {
		opts = append(opts, zapi.WithBaseURL(*flags.zapiBaseURL))
	}
	client, err := zapi.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewZAPIService(client), nil
}

// sessionBookings adapts the live session store as the reminder source.
type sessionBookings struct {
	sessions *session.Store
}

func (s sessionBookings) PendingBookings() []reminder.Booking {
	var out []reminder.Booking
	for _, sess := range s.sessions.Sessions() {
		if sess.Context.AppointmentID == "" || sess.Context.SelectedDate == "" {
			continue
		}
		out = append(out, reminder.Booking{
			Phone: sess.Phone,
			Date:  sess.Context.SelectedDate,
			Time:  sess.Context.SelectedTime,
		})
	}
	return out
}

func run(flags Flags) error {
	// Store failure is the single process-fatal condition at bootstrap.
	durable, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer durable.Close()

	memSink := metrics.NewInMemorySink()
	sink := metrics.MultiSink{memSink, metrics.NewPrometheusSink()}

	messenger, err := buildMessenger(flags, sink)
	if err != nil {
		return err
	}
	defer messenger.Stop()

	gestaoOpts := []gestaods.Option{
		gestaods.WithToken(*flags.gestaoToken),
		gestaods.WithMetrics(sink),
	}
	if *flags.gestaoBaseURL != "" {
		gestaoOpts = append(gestaoOpts, gestaods.WithBaseURL(*flags.gestaoBaseURL))
	}
	scheduling, err := gestaods.NewClient(gestaoOpts...)
	if err != nil {
		return err
	}

	sessions := session.NewStore(
		session.WithDurableStore(durable),
		session.WithTTL(util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL)),
		session.WithQueueSize(util.ParseIntEnv("SESSION_QUEUE_SIZE", session.DefaultQueueSize)),
		session.WithMetrics(sink),
	)

	engineOpts := []conversation.Option{
		conversation.WithSessions(sessions),
		conversation.WithScheduling(scheduling),
		conversation.WithMetrics(sink),
	}
	if *flags.clinicName != "" {
		engineOpts = append(engineOpts,
			conversation.WithClinic(*flags.clinicName, *flags.clinicPhone, *flags.clinicAddress))
	}
	engine := conversation.NewEngine(engineOpts...)

	// Connectivity bootstrap. A degraded remote is logged, not fatal: the
	// breaker and retry policy cover it once traffic starts.
	bootCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	if connected := messenger.CheckConnection(bootCtx); !connected {
		slog.Warn("Messaging gateway not connected at startup")
	}
	if connected := scheduling.CheckConnection(bootCtx); !connected {
		slog.Warn("Scheduling backend not reachable at startup")
	}
	cancel()

	reminderOpts := []reminder.Option{
		reminder.WithSource(sessionBookings{sessions: sessions}),
		reminder.WithSender(messenger),
		reminder.WithMetrics(sink),
	}
	if *flags.reminderSchedule != "" {
		reminderOpts = append(reminderOpts, reminder.WithSchedule(*flags.reminderSchedule))
	}
	reminders, err := reminder.NewScheduler(reminderOpts...)
	if err != nil {
		return err
	}
	defer reminders.Stop()

	// Gateways that carry a circuit breaker report it on the health endpoint.
	breakerSources := func() []resilience.BreakerMetrics {
		out := []resilience.BreakerMetrics{scheduling.BreakerMetrics()}
		if bm, ok := messenger.(interface {
			BreakerMetrics() resilience.BreakerMetrics
		}); ok {
			out = append(out, bm.BreakerMetrics())
		}
		return out
	}

	server := api.NewServer(
		api.WithEngine(engine),
		api.WithMessenger(messenger),
		api.WithStore(durable),
		api.WithMetrics(sink),
		api.WithSnapshot(memSink.SnapshotAll),
		api.WithBreakers(breakerSources),
		api.WithRequestsPerMinute(util.ParseIntEnv("API_RATE_LIMIT", api.DefaultRequestsPerMinute)),
	)

	httpServer := &http.Server{
		Addr:         *flags.apiAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", *flags.apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	// Drain pending session writes before the store closes.
	if err := sessions.Close(); err != nil {
		slog.Error("Session store close failed", "error", err)
	}
	return nil
}
