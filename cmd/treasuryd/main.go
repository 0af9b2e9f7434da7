package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/treasury/internal/httpserver"
	"github.com/MarkoPoloResearchLab/treasury/internal/oplog"
	"github.com/MarkoPoloResearchLab/treasury/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/treasury/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/treasury/pkg/treasury"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagListenAddr        = "listen-addr"
	flagStoreBackend      = "store-backend"
	flagSigningKey        = "signing-key"
	flagTokenIssuer       = "token-issuer"
	flagGuardianRole      = "guardian-role"
	flagAllowedOrigins    = "allowed-origins"
	flagRuleCacheTTL      = "rule-cache-ttl"
	configKeyDatabaseURL  = "database_url"
	configKeyListenAddr   = "listen_addr"
	configKeyStoreBackend = "store_backend"
	configKeySigningKey   = "signing_key"
	configKeyTokenIssuer  = "token_issuer"
	configKeyGuardianRole = "guardian_role"
	configKeyOrigins      = "allowed_origins"
	configKeyRuleCacheTTL = "rule_cache_ttl"
	defaultDatabaseURL    = "sqlite:///tmp/treasury.db"
	defaultListenAddr     = ":9090"
	backendGorm           = "gorm"
	backendPgx            = "pgx"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	StoreBackend   string
	SigningKey     string
	TokenIssuer    string
	GuardianRole   string
	AllowedOrigins []string
	RuleCacheTTL   int64
}

// Accounts created on every boot so a fresh deployment can allocate
// immediately. EnsureAccount makes this idempotent.
var bootstrapAccounts = []struct {
	name        string
	accountType treasury.AccountType
	description string
}{
	{"operating", treasury.AccountOperating, "day-to-day spending"},
	{"reserve", treasury.AccountReserve, "long-term reserve"},
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "treasuryd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "treasuryd",
		Short:         "Treasury allocation HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStoreBackend, backendGorm, "persistence backend (gorm or pgx)")
	cmd.Flags().String(flagSigningKey, "", "JWT signing key")
	cmd.Flags().String(flagTokenIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagGuardianRole, "", "role required for privileged operations")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "allowed CORS origins")
	cmd.Flags().Int64(flagRuleCacheTTL, 0, "active rule cache TTL in seconds")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:  "DATABASE_URL",
		configKeyListenAddr:   "LISTEN_ADDR",
		configKeyStoreBackend: "STORE_BACKEND",
		configKeySigningKey:   "ADMIN_SIGNING_KEY",
		configKeyTokenIssuer:  "TOKEN_ISSUER",
		configKeyGuardianRole: "GUARDIAN_ROLE",
		configKeyOrigins:      "ALLOWED_ORIGINS",
		configKeyRuleCacheTTL: "RULE_CACHE_TTL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flagsByKey := map[string]string{
		configKeyDatabaseURL:  flagDatabaseURL,
		configKeyListenAddr:   flagListenAddr,
		configKeyStoreBackend: flagStoreBackend,
		configKeySigningKey:   flagSigningKey,
		configKeyTokenIssuer:  flagTokenIssuer,
		configKeyGuardianRole: flagGuardianRole,
		configKeyOrigins:      flagAllowedOrigins,
		configKeyRuleCacheTTL: flagRuleCacheTTL,
	}
	for configKey, flagName := range flagsByKey {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = backendGorm
	}
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyTokenIssuer)
	cfg.GuardianRole = viper.GetString(configKeyGuardianRole)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	cfg.RuleCacheTTL = viper.GetInt64(configKeyRuleCacheTTL)

	if cfg.StoreBackend != backendGorm && cfg.StoreBackend != backendPgx {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	clock := func() int64 { return time.Now().UTC().Unix() }
	options := []treasury.ServiceOption{treasury.WithOperationLogger(oplog.New(logger))}
	if cfg.RuleCacheTTL > 0 {
		options = append(options, treasury.WithRuleCacheTTL(cfg.RuleCacheTTL))
	}
	service, err := treasury.NewService(store, clock, options...)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}

	for _, account := range bootstrapAccounts {
		if _, err := service.EnsureAccount(ctx, account.name, account.accountType, account.description); err != nil {
			return fmt.Errorf("bootstrap account %s: %w", account.name, err)
		}
	}

	server, err := httpserver.New(service, logger, httpserver.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		TokenSigningKey: cfg.SigningKey,
		TokenIssuer:     cfg.TokenIssuer,
		GuardianRole:    cfg.GuardianRole,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return server.Run(ctx)
}

func openStore(ctx context.Context, cfg *runtimeConfig) (treasury.Store, func(), error) {
	if cfg.StoreBackend == backendPgx {
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres url")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool), pool.Close, nil
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		cleanup()
		return nil, nil, err
	}
	return gormstore.New(gormDB), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func(), string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() { _ = sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "treasury.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
