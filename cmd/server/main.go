package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/tsession/internal/authkit"
	"github.com/tyemirov/tsession/internal/authkitpg"
	"github.com/tyemirov/tsession/internal/web"
	"github.com/tyemirov/tsession/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tsession",
		Short:   "Session service with Google identity verification, internal token pairs, and provider token refresh",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("env_file", "", "Optional dotenv file loaded before configuration is read")
	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret used for provider token refresh")
	rootCmd.Flags().String("google_token_endpoint", authkit.GoogleTokenEndpoint, "Provider token endpoint")
	rootCmd.Flags().String("backend_audience", "", "Audience checked by the backend token exchange; defaults to the client ID")
	rootCmd.Flags().String("access_token_signing_key", "", "HS256 secret for internal access tokens")
	rootCmd.Flags().String("refresh_token_signing_key", "", "HS256 secret for internal refresh tokens")
	rootCmd.Flags().String("session_signing_key", "", "HS256 secret for the session cookie")
	rootCmd.Flags().Duration("access_token_ttl", authkit.DefaultAccessTokenTTL, "Internal access token TTL")
	rootCmd.Flags().Duration("refresh_token_ttl", authkit.DefaultRefreshTokenTTL, "Internal refresh token TTL")
	rootCmd.Flags().Duration("provider_timeout", authkit.DefaultProviderTimeout, "Timeout for one provider token refresh")
	rootCmd.Flags().String("session_policy", "fail_closed", "Materialization policy: fail_closed or backend_token_authoritative")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().String("refresh_store_driver", "", "Refresh token store: memory, gorm, or pgx; inferred from database_url when empty")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Duration("nonce_ttl", 5*time.Minute, "Nonce lifetime for Google Sign-In exchanges")

	for _, name := range []string{
		"env_file",
		"listen_addr",
		"cookie_domain",
		"google_web_client_id",
		"google_client_secret",
		"google_token_endpoint",
		"backend_audience",
		"access_token_signing_key",
		"refresh_token_signing_key",
		"session_signing_key",
		"access_token_ttl",
		"refresh_token_ttl",
		"provider_timeout",
		"session_policy",
		"dev_insecure_http",
		"database_url",
		"refresh_store_driver",
		"enable_cors",
		"cors_allowed_origins",
		"nonce_ttl",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "app_session"
	appJWTIssuer      = "tsession"

	storeDriverMemory = "memory"
	storeDriverGorm   = "gorm"
	storeDriverPgx    = "pgx"

	configCodeEnvFile                  = "config.env_file"
	configCodeMissingGoogleClientID    = "config.missing_google_web_client_id"
	configCodeMissingAccessSigningKey  = "config.missing_access_token_signing_key"
	configCodeMissingRefreshSigningKey = "config.missing_refresh_token_signing_key"
	configCodeSharedSigningKey         = "config.shared_signing_key"
	configCodeMissingSessionSigningKey = "config.missing_session_signing_key"
	configCodeInvalidAccessTokenTTL    = "config.invalid_access_token_ttl"
	configCodeInvalidRefreshTokenTTL   = "config.invalid_refresh_token_ttl"
	configCodeInvalidSessionPolicy     = "config.invalid_session_policy"
	configCodeInvalidStoreDriver       = "config.invalid_refresh_store_driver"
	configCodeUninitializedServerConf  = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit      = "config.google_validator_init"
	configCodeStoreInit                = "config.store_init"
	configCodeComponentInit            = "config.component_init"
	configCodeBackendValidatorInit     = "config.backend_validator_init"
	configCodeCORSInit                 = "config.cors_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if envFile := viper.GetString("env_file"); envFile != "" {
		if loadErr := godotenv.Load(envFile); loadErr != nil {
			return configError(configCodeEnvFile, loadErr.Error())
		}
	}
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates the server configuration from viper.
func LoadServerConfig() (authkit.ServerConfig, error) {
	googleWebClientID := viper.GetString("google_web_client_id")
	if googleWebClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_web_client_id must be provided")
	}

	accessSigningKey := viper.GetString("access_token_signing_key")
	if accessSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingAccessSigningKey, "access_token_signing_key must be provided")
	}
	refreshSigningKey := viper.GetString("refresh_token_signing_key")
	if refreshSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingRefreshSigningKey, "refresh_token_signing_key must be provided")
	}
	if accessSigningKey == refreshSigningKey {
		return authkit.ServerConfig{}, configError(configCodeSharedSigningKey, "access and refresh signing keys must differ")
	}
	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingSessionSigningKey, "session_signing_key must be provided")
	}

	accessTokenTTL := authkit.DefaultAccessTokenTTL
	if viper.IsSet("access_token_ttl") {
		accessTokenTTL = viper.GetDuration("access_token_ttl")
	}
	if accessTokenTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTokenTTL, "access_token_ttl must be greater than zero")
	}
	refreshTokenTTL := authkit.DefaultRefreshTokenTTL
	if viper.IsSet("refresh_token_ttl") {
		refreshTokenTTL = viper.GetDuration("refresh_token_ttl")
	}
	if refreshTokenTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTokenTTL, "refresh_token_ttl must be greater than zero")
	}

	sessionPolicy, policyOK := authkit.ParseSessionPolicy(strings.TrimSpace(viper.GetString("session_policy")))
	if !policyOK {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionPolicy, "session_policy must be fail_closed or backend_token_authoritative")
	}

	nonceTTL := 5 * time.Minute
	if configuredNonceTTL := viper.GetDuration("nonce_ttl"); configuredNonceTTL > 0 {
		nonceTTL = configuredNonceTTL
	}

	return authkit.ServerConfig{
		GoogleWebClientID:      googleWebClientID,
		GoogleClientSecret:     viper.GetString("google_client_secret"),
		GoogleTokenEndpoint:    viper.GetString("google_token_endpoint"),
		BackendAudience:        viper.GetString("backend_audience"),
		AccessTokenSigningKey:  []byte(accessSigningKey),
		RefreshTokenSigningKey: []byte(refreshSigningKey),
		SessionSigningKey:      []byte(sessionSigningKey),
		AppJWTIssuer:           appJWTIssuer,
		CookieDomain:           viper.GetString("cookie_domain"),
		SessionCookieName:      sessionCookieName,
		AccessTokenTTL:         accessTokenTTL,
		RefreshTokenTTL:        refreshTokenTTL,
		ProviderTimeout:        viper.GetDuration("provider_timeout"),
		NonceTTL:               nonceTTL,
		SessionPolicy:          sessionPolicy,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	stores, storesErr := buildStores(commandContext, logger, viper.GetString("refresh_store_driver"), viper.GetString("database_url"))
	if storesErr != nil {
		return storesErr
	}
	defer stores.close()

	googleValidator, validatorErr := buildGoogleTokenValidator(commandContext)
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}

	clock := authkit.NewSystemClock()
	metricsRecorder := authkit.NewCounterMetrics()

	tokenIssuer, issuerErr := authkit.NewTokenIssuer(serverConfig.TokenIssuerConfig(clock, logger), stores.refreshTokens)
	if issuerErr != nil {
		return fmt.Errorf("%s: %w", configCodeComponentInit, issuerErr)
	}
	sessionCodec, codecErr := authkit.NewSessionCodec(serverConfig.SessionSigningKey, serverConfig.AppJWTIssuer, serverConfig.RefreshTokenTTL, clock)
	if codecErr != nil {
		return fmt.Errorf("%s: %w", configCodeComponentInit, codecErr)
	}
	orchestrator := authkit.NewOrchestrator(
		serverConfig.OrchestratorConfig(clock, logger, metricsRecorder),
		authkit.NewGoogleIdentityVerifier(googleValidator),
		stores.users,
		tokenIssuer,
		authkit.NewOAuthTokenRefresher(serverConfig.ProviderConfig(clock)),
	)
	dependencies := authkit.RouteDependencies{
		Orchestrator: orchestrator,
		Codec:        sessionCodec,
		Nonces:       authkit.NewMemoryNonceStore(serverConfig.NonceTTL, clock),
		Logger:       logger,
	}

	backendValidator, backendErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: serverConfig.AccessTokenSigningKey,
		Issuer:     serverConfig.AppJWTIssuer,
		Now:        clock.Now,
	})
	if backendErr != nil {
		return fmt.Errorf("%s: %w", configCodeBackendValidatorInit, backendErr)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return fmt.Errorf("%s: %w", configCodeCORSInit, corsErr)
		}
		router.Use(corsMiddleware)
	}

	authkit.MountAuthRoutes(router, serverConfig, dependencies)

	protected := router.Group("/api")
	protected.GET("/me", authkit.RequireSession(serverConfig, dependencies), web.HandleWhoAmI(logger))
	protected.GET("/backend/me",
		backendValidator.RequireBearer(),
		web.HandleBackendWhoAmI(logger))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		logger.Info("server stopped", zap.Any("metrics", metricsRecorder.Snapshot()))
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.String("refresh_store", stores.driver))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

type serverStores struct {
	refreshTokens authkit.RefreshTokenStore
	users         authkit.UserDirectory
	driver        string
	close         func()
}

func resolveStoreDriver(driver string, databaseURL string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	switch normalized {
	case "":
		if databaseURL == "" {
			return storeDriverMemory, nil
		}
		return storeDriverGorm, nil
	case storeDriverMemory, storeDriverGorm, storeDriverPgx:
		if normalized != storeDriverMemory && databaseURL == "" {
			return "", configError(configCodeInvalidStoreDriver, "database_url is required for refresh_store_driver "+normalized)
		}
		return normalized, nil
	default:
		return "", configError(configCodeInvalidStoreDriver, "refresh_store_driver must be memory, gorm, or pgx")
	}
}

func buildStores(ctx context.Context, logger *zap.Logger, driver string, databaseURL string) (serverStores, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resolvedDriver, driverErr := resolveStoreDriver(driver, databaseURL)
	if driverErr != nil {
		return serverStores{}, driverErr
	}

	switch resolvedDriver {
	case storeDriverMemory:
		logger.Info("using in-memory stores")
		return serverStores{
			refreshTokens: authkit.NewMemoryRefreshTokenStore(),
			users:         web.NewInMemoryUsers(),
			driver:        storeDriverMemory,
			close:         func() {},
		}, nil
	case storeDriverGorm:
		gormDB, driverLabel, openErr := authkit.OpenDatabase(ctx, databaseURL)
		if openErr != nil {
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, openErr)
		}
		closeDB := databaseCloser(gormDB)
		refreshStore, storeErr := authkit.NewDatabaseRefreshTokenStoreFromDB(ctx, gormDB, driverLabel)
		if storeErr != nil {
			closeDB()
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, storeErr)
		}
		users, usersErr := web.NewDatabaseUsers(ctx, gormDB)
		if usersErr != nil {
			closeDB()
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, usersErr)
		}
		logger.Info("using persistent stores", zap.String("driver", driverLabel))
		return serverStores{refreshTokens: refreshStore, users: users, driver: driverLabel, close: closeDB}, nil
	default:
		pool, poolErr := authkitpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, poolErr)
		}
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, schemaErr)
		}
		gormDB, driverLabel, openErr := authkit.OpenDatabase(ctx, databaseURL)
		if openErr != nil {
			pool.Close()
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, openErr)
		}
		closeUsersDB := databaseCloser(gormDB)
		users, usersErr := web.NewDatabaseUsers(ctx, gormDB)
		if usersErr != nil {
			closeUsersDB()
			pool.Close()
			return serverStores{}, fmt.Errorf("%s: %w", configCodeStoreInit, usersErr)
		}
		logger.Info("using pgx refresh token store", zap.String("users_driver", driverLabel))
		return serverStores{
			refreshTokens: authkitpg.NewPostgresRefreshTokenStore(pool),
			users:         users,
			driver:        storeDriverPgx,
			close: func() {
				pool.Close()
				closeUsersDB()
			},
		}, nil
	}
}

func databaseCloser(gormDB *gorm.DB) func() {
	return func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
