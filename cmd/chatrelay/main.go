package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go"

	"github.com/sheetstack/chatrelay/internal/api"
	"github.com/sheetstack/chatrelay/internal/flow"
	"github.com/sheetstack/chatrelay/internal/genai"
	"github.com/sheetstack/chatrelay/internal/messaging"
	"github.com/sheetstack/chatrelay/internal/store"
	"github.com/sheetstack/chatrelay/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatRelay state data
	DefaultStateDir = "/var/lib/chatrelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatrelay.db"
	// DefaultAPIAddr is the default listen address for the HTTP API
	DefaultAPIAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	ctx := context.Background()

	st := buildStore(ctx, flags)
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	gen := buildCompletionClient(flags)
	sender := buildSender(flags)
	orchestrator := flow.NewOrchestrator(st, gen, sender)

	server := api.NewServer(orchestrator, st, flags.verifyToken, buildHealthConfig(flags))

	slog.Info("Bootstrapping ChatRelay with configured modules",
		"store", storeKind(flags),
		"provider", flags.provider,
		"api_addr", flags.apiAddr)
	if err := server.Run(flags.apiAddr); err != nil {
		slog.Error("ChatRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ChatRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseDSN     string
	SpreadsheetID   string
	CredentialsFile string
	CredentialsInl  string
	OpenAIKey       string
	OpenAIModel     string
	WhatsAppToken   string
	PhoneNumberID   string
	APIVersion      string
	VerifyToken     string
	Provider        string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	APIAddr         string
}

// Flags holds resolved configuration after flag parsing
type Flags struct {
	stateDir        string
	databaseDSN     string
	spreadsheetID   string
	credentialsJSON []byte
	openaiKey       string
	openaiModel     string
	whatsAppToken   string
	phoneNumberID   string
	apiVersion      string
	verifyToken     string
	provider        string
	twilioSID       string
	twilioToken     string
	twilioFrom      string
	apiAddr         string
}

// initializeLogger sets up structured logging; CHATRELAY_DEBUG=false drops to info level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CHATRELAY_DEBUG", true) {
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
		StateDir:        util.GetenvDefault("CHATRELAY_STATE_DIR", DefaultStateDir),
		DatabaseDSN:     os.Getenv("DATABASE_DSN"),
		SpreadsheetID:   os.Getenv("SHEETS_SPREADSHEET_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		CredentialsInl:  os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		WhatsAppToken:   os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID:   os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		APIVersion:      util.GetenvDefault("WHATSAPP_API_VERSION", messaging.DefaultAPIVersion),
		VerifyToken:     os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		Provider:        util.GetenvDefault("MESSAGING_PROVIDER", "cloudapi"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		APIAddr:         util.GetenvDefault("API_ADDR", DefaultAPIAddr),
	}

	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
	}

	slog.Debug("environment variables loaded",
		"CHATRELAY_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"SHEETS_SPREADSHEET_ID_SET", config.SpreadsheetID != "",
		"GOOGLE_CREDENTIALS_SET", config.CredentialsFile != "" || config.CredentialsInl != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"WHATSAPP_TOKEN_SET", config.WhatsAppToken != "",
		"WHATSAPP_PHONE_NUMBER_ID_SET", config.PhoneNumberID != "",
		"MESSAGING_PROVIDER", config.Provider,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	stateDir := flag.String("state-dir", config.StateDir, "Directory for ChatRelay state data")
	dbDSN := flag.String("db-dsn", config.DatabaseDSN, "Database DSN (SQLite path or Postgres URL)")
	spreadsheetID := flag.String("spreadsheet-id", config.SpreadsheetID, "Google Sheets spreadsheet ID")
	openaiKey := flag.String("openai-key", config.OpenAIKey, "OpenAI API key")
	apiAddr := flag.String("api-addr", config.APIAddr, "HTTP API listen address")
	verifyToken := flag.String("verify-token", config.VerifyToken, "Webhook verification token")
	provider := flag.String("provider", config.Provider, "Messaging provider (cloudapi or twilio)")
	flag.Parse()

	return Flags{
		stateDir:        *stateDir,
		databaseDSN:     *dbDSN,
		spreadsheetID:   *spreadsheetID,
		credentialsJSON: resolveSheetsCredentials(config),
		openaiKey:       *openaiKey,
		openaiModel:     config.OpenAIModel,
		whatsAppToken:   config.WhatsAppToken,
		phoneNumberID:   config.PhoneNumberID,
		apiVersion:      config.APIVersion,
		verifyToken:     *verifyToken,
		provider:        *provider,
		twilioSID:       config.TwilioSID,
		twilioToken:     config.TwilioToken,
		twilioFrom:      config.TwilioFrom,
		apiAddr:         *apiAddr,
	}
}

// resolveSheetsCredentials loads service-account credentials from a file path
// or from an inline env value, which may be raw JSON or base64-encoded JSON.
func resolveSheetsCredentials(config Config) []byte {
	if config.CredentialsInl != "" {
		raw := strings.TrimSpace(config.CredentialsInl)
		if strings.HasPrefix(raw, "{") {
			slog.Debug("Using inline JSON service-account credentials")
			return []byte(raw)
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			slog.Warn("GOOGLE_CREDENTIALS_JSON is neither JSON nor valid base64, ignoring", "error", err)
			return nil
		}
		slog.Debug("Using base64-decoded service-account credentials")
		return decoded
	}
	if config.CredentialsFile != "" {
		data, err := os.ReadFile(config.CredentialsFile)
		if err != nil {
			slog.Warn("Failed to read service-account credentials file, ignoring", "error", err, "path", config.CredentialsFile)
			return nil
		}
		slog.Debug("Using service-account credentials file", "path", config.CredentialsFile)
		return data
	}
	return nil
}

// storeKind names the store backend the flags select, for logging.
func storeKind(flags Flags) string {
	switch {
	case flags.spreadsheetID != "" && len(flags.credentialsJSON) > 0:
		return "sheets"
	case strings.HasPrefix(flags.databaseDSN, "postgres://"), strings.HasPrefix(flags.databaseDSN, "postgresql://"):
		return "postgres"
	case flags.databaseDSN != "":
		return "sqlite"
	default:
		return "sqlite"
	}
}

// buildStore selects and constructs the history store backend. Credential or
// connection problems degrade to the next backend down, ending at the
// in-memory store; startup never fails on storage.
func buildStore(ctx context.Context, flags Flags) store.Store {
	if flags.spreadsheetID != "" && len(flags.credentialsJSON) > 0 {
		s, err := store.NewSheetsStore(ctx,
			store.WithSpreadsheetID(flags.spreadsheetID),
			store.WithCredentialsJSON(flags.credentialsJSON))
		if err == nil {
			slog.Info("Using Google Sheets history store", "spreadsheet_id", flags.spreadsheetID)
			return s
		}
		slog.Error("Sheets store unavailable, falling back to database", "error", err)
	} else if flags.spreadsheetID != "" {
		slog.Warn("Spreadsheet ID set but no service-account credentials resolved, falling back to database")
	}

	dsn := flags.databaseDSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err := store.NewPostgresStore(store.WithDSN(dsn))
		if err == nil {
			slog.Info("Using Postgres history store")
			return s
		}
		slog.Error("Postgres store unavailable, falling back to SQLite", "error", err)
		dsn = ""
	}
	if dsn == "" {
		dsn = filepath.Join(flags.stateDir, DefaultDBFileName)
	}
	s, err := store.NewSQLiteStore(store.WithDSN(dsn))
	if err == nil {
		slog.Info("Using SQLite history store", "path", dsn)
		return s
	}
	slog.Error("SQLite store unavailable, history degrades to in-memory", "error", err)
	return store.NewInMemoryStore()
}

// buildCompletionClient constructs the completion client; a missing key yields
// a fallback-only client.
func buildCompletionClient(flags Flags) *genai.Client {
	opts := []genai.Option{genai.WithAPIKey(flags.openaiKey)}
	if flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(openai.ChatModel(flags.openaiModel)))
	}
	return genai.NewClient(opts...)
}

// buildSender constructs the outbound message sender for the configured provider.
func buildSender(flags Flags) messaging.Sender {
	if flags.provider == "twilio" {
		return messaging.NewTwilioService(
			messaging.WithAccountSID(flags.twilioSID),
			messaging.WithAuthToken(flags.twilioToken),
			messaging.WithFromNumber(flags.twilioFrom))
	}
	return messaging.NewCloudAPIService(
		messaging.WithToken(flags.whatsAppToken),
		messaging.WithPhoneNumberID(flags.phoneNumberID),
		messaging.WithAPIVersion(flags.apiVersion))
}

// buildHealthConfig reports which credential sets were supplied.
func buildHealthConfig(flags Flags) api.HealthConfig {
	return api.HealthConfig{
		OpenAIKeySet:         flags.openaiKey != "",
		WhatsAppTokenSet:     flags.whatsAppToken != "",
		PhoneNumberIDSet:     flags.phoneNumberID != "",
		VerifyTokenSet:       flags.verifyToken != "",
		SpreadsheetIDSet:     flags.spreadsheetID != "",
		SheetsCredentialsSet: len(flags.credentialsJSON) > 0,
	}
}
