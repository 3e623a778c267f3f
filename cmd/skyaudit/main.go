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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sky-audit/skyaudit/internal/allowlist"
	"github.com/sky-audit/skyaudit/internal/analyzer"
	"github.com/sky-audit/skyaudit/internal/bsky"
	"github.com/sky-audit/skyaudit/internal/export"
	"github.com/sky-audit/skyaudit/internal/gate"
	"github.com/sky-audit/skyaudit/internal/server"
	"github.com/sky-audit/skyaudit/internal/session"
)

const (
	rootCommandUse              = "skyaudit"
	rootCommandShortDescription = "Audit Bluesky followers for suspicious accounts"
	analyzeCommandUse           = "analyze"
	analyzeCommandShort         = "Scan followers and export flagged accounts"
	serveCommandUse             = "serve"
	serveCommandShort           = "Serve the follower audit over HTTP"
	envPrefix                   = "SKYAUDIT"
	flagServiceURLName          = "service-url"
	flagServiceURLDescription   = "Base URL of the XRPC service"
	flagAccessJWTName           = "access-jwt"
	flagAccessJWTDescription    = "Access token for the authenticated session"
	flagRefreshJWTName          = "refresh-jwt"
	flagRefreshJWTDescription   = "Refresh token for the authenticated session"
	flagViewerDIDName           = "viewer-did"
	flagViewerDIDDescription    = "DID of the signed-in account"
	flagDatabaseName            = "db"
	flagDatabaseDescription     = "Path to the allow-list database"
	flagPageSizeName            = "page-size"
	flagPageSizeDescription     = "Follower page size per request"
	flagRequestDelayName        = "request-delay"
	flagRequestDelayDescription = "Delay between consecutive API requests"
	flagAllowFileName           = "allow-file"
	flagAllowFileDescription    = "JSON file of handles allowed to use the service"
	flagAccessLogName           = "access-log"
	flagAccessLogDescription    = "File to append access decisions to"
	flagActorDIDName            = "actor-did"
	flagActorDIDDescription     = "DID whose followers are scanned (defaults to viewer-did)"
	flagHandleName              = "handle"
	flagHandleDescription       = "Handle checked against the access gate"
	flagOutputName              = "output"
	flagOutputDescription       = "CSV output path, or - for stdout"
	flagHostName                = "host"
	flagHostDescription         = "Host interface for the HTTP server"
	flagPortName                = "port"
	flagPortDescription         = "Port for the HTTP server"
	defaultDatabasePath         = "skyaudit.db"
	defaultOutputPath           = "-"
	defaultHost                 = "127.0.0.1"
	defaultPort                 = 8080
	stdoutOutputPath            = "-"
	errMessageLoggerCreate      = "create logger"
	errMessageClientCreate      = "create API client"
	errMessageSessionCreate     = "create session client"
	errMessageStoreOpen         = "open allow-list database"
	errMessageStoreCreate       = "create allow-list store"
	errMessageAnalyzerCreate    = "create analyzer"
	errMessageGateCreate        = "create access gate"
	errMessageAnalyzeFollowers  = "analyze followers"
	errMessageOpenOutput        = "open output file"
	errMessageWriteOutput       = "write CSV output"
	errMessageListenAndServe    = "listen and serve"
	errMessageAccessDenied      = "access denied"
	errMessageHandleRequired    = "an access gate is configured, pass --handle to identify yourself"
	logMessageStartingScan      = "starting follower scan"
	logMessageScanComplete      = "follower scan complete"
	logMessageStartingServer    = "starting HTTP server"
	logMessageServerStopped     = "server stopped"
	logMessageListenError       = "server listen failure"
	logFieldActorDID            = "actorDID"
	logFieldAnalyzed            = "analyzed"
	logFieldFlagged             = "flagged"
	logFieldAddress             = "address"
	progressLineFormat          = "%s (%d/%d)\n"
	flaggedSummaryFormat        = "%d of %d followers flagged\n"
)

func main() {
	cobra.CheckErr(newRootCommand().Execute())
}

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   rootCommandUse,
		Short: rootCommandShortDescription,
	}

	rootCommand.PersistentFlags().String(flagServiceURLName, "", flagServiceURLDescription)
	rootCommand.PersistentFlags().String(flagAccessJWTName, "", flagAccessJWTDescription)
	rootCommand.PersistentFlags().String(flagRefreshJWTName, "", flagRefreshJWTDescription)
	rootCommand.PersistentFlags().String(flagViewerDIDName, "", flagViewerDIDDescription)
	rootCommand.PersistentFlags().String(flagDatabaseName, defaultDatabasePath, flagDatabaseDescription)
	rootCommand.PersistentFlags().Int(flagPageSizeName, 0, flagPageSizeDescription)
	rootCommand.PersistentFlags().Duration(flagRequestDelayName, 0, flagRequestDelayDescription)
	rootCommand.PersistentFlags().String(flagAllowFileName, "", flagAllowFileDescription)
	rootCommand.PersistentFlags().String(flagAccessLogName, "", flagAccessLogDescription)

	bindPersistentFlagToViper(rootCommand, flagServiceURLName)
	bindPersistentFlagToViper(rootCommand, flagAccessJWTName)
	bindPersistentFlagToViper(rootCommand, flagRefreshJWTName)
	bindPersistentFlagToViper(rootCommand, flagViewerDIDName)
	bindPersistentFlagToViper(rootCommand, flagDatabaseName)
	bindPersistentFlagToViper(rootCommand, flagPageSizeName)
	bindPersistentFlagToViper(rootCommand, flagRequestDelayName)
	bindPersistentFlagToViper(rootCommand, flagAllowFileName)
	bindPersistentFlagToViper(rootCommand, flagAccessLogName)

	rootCommand.AddCommand(newAnalyzeCommand())
	rootCommand.AddCommand(newServeCommand())

	cobra.OnInitialize(configureEnvironment)

	return rootCommand
}

func newAnalyzeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   analyzeCommandUse,
		Short: analyzeCommandShort,
		RunE:  runAnalyzeCommand,
	}

	command.Flags().String(flagActorDIDName, "", flagActorDIDDescription)
	command.Flags().String(flagHandleName, "", flagHandleDescription)
	command.Flags().String(flagOutputName, defaultOutputPath, flagOutputDescription)

	bindFlagToViper(command, flagActorDIDName)
	bindFlagToViper(command, flagHandleName)
	bindFlagToViper(command, flagOutputName)

	return command
}

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   serveCommandUse,
		Short: serveCommandShort,
		RunE:  runServeCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)

	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func bindPersistentFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.PersistentFlags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runAnalyzeCommand(*cobra.Command, []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accessGate, err := buildGate(logger)
	if err != nil {
		return err
	}
	if accessGate != nil {
		handle := viper.GetString(flagHandleName)
		if strings.TrimSpace(handle) == "" {
			return errors.New(errMessageHandleRequired)
		}
		decision := accessGate.CheckAccess(handle)
		if !decision.Allowed {
			return fmt.Errorf("%s: %s", errMessageAccessDenied, decision.Message)
		}
	}

	followerAnalyzer, _, err := buildAnalyzer(logger)
	if err != nil {
		return err
	}

	actorDID := viper.GetString(flagActorDIDName)
	if strings.TrimSpace(actorDID) == "" {
		actorDID = viper.GetString(flagViewerDIDName)
	}

	applicationContext, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(logMessageStartingScan, zap.String(logFieldActorDID, actorDID))
	results, err := followerAnalyzer.AnalyzeFollowers(applicationContext, actorDID, func(progress analyzer.Progress) {
		fmt.Fprintf(os.Stderr, progressLineFormat, progress.Status, progress.Current, progress.Total)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageAnalyzeFollowers, err)
	}

	flaggedCount := 0
	for _, result := range results {
		if result.HasIssues {
			flaggedCount++
		}
	}
	logger.Info(logMessageScanComplete,
		zap.Int(logFieldAnalyzed, len(results)),
		zap.Int(logFieldFlagged, flaggedCount))
	fmt.Fprintf(os.Stderr, flaggedSummaryFormat, flaggedCount, len(results))

	return writeResults(viper.GetString(flagOutputName), results)
}

func runServeCommand(*cobra.Command, []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accessGate, err := buildGate(logger)
	if err != nil {
		return err
	}
	followerAnalyzer, store, err := buildAnalyzer(logger)
	if err != nil {
		return err
	}

	routerConfig := server.RouterConfig{
		Service:   followerAnalyzer,
		AllowList: store,
		Logger:    logger,
	}
	if accessGate != nil {
		routerConfig.Gate = accessGate
	}
	router, err := server.NewRouter(routerConfig)
	if err != nil {
		return err
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(err))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
	}

	logger.Info(logMessageServerStopped)
	return nil
}

func buildGate(logger *zap.Logger) (*gate.Gate, error) {
	allowFilePath := viper.GetString(flagAllowFileName)
	if strings.TrimSpace(allowFilePath) == "" {
		return nil, nil
	}
	accessGate, err := gate.NewGate(gate.Config{
		AllowedHandlesPath: allowFilePath,
		AccessLogPath:      viper.GetString(flagAccessLogName),
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageGateCreate, err)
	}
	return accessGate, nil
}

func buildAnalyzer(logger *zap.Logger) (*analyzer.Analyzer, *allowlist.Store, error) {
	apiClient, err := bsky.NewHTTPClient(bsky.Config{
		ServiceURL: viper.GetString(flagServiceURLName),
		Credentials: bsky.Credentials{
			AccessToken:  viper.GetString(flagAccessJWTName),
			RefreshToken: viper.GetString(flagRefreshJWTName),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageClientCreate, err)
	}

	guardedClient, err := session.NewClient(session.ClientConfig{Inner: apiClient, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageSessionCreate, err)
	}

	database, err := allowlist.Open(viper.GetString(flagDatabaseName))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageStoreOpen, err)
	}
	store, err := allowlist.NewStore(database)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageStoreCreate, err)
	}

	followerAnalyzer, err := analyzer.NewAnalyzer(analyzer.Config{
		Client:       guardedClient,
		AllowList:    store,
		ViewerDID:    viper.GetString(flagViewerDIDName),
		Logger:       logger,
		PageSize:     viper.GetInt(flagPageSizeName),
		RequestDelay: viper.GetDuration(flagRequestDelayName),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", errMessageAnalyzerCreate, err)
	}
	return followerAnalyzer, store, nil
}

func writeResults(outputPath string, results []analyzer.AnalysisResult) error {
	if outputPath == stdoutOutputPath || strings.TrimSpace(outputPath) == "" {
		if err := export.WriteCSV(os.Stdout, results); err != nil {
			return fmt.Errorf("%s: %w", errMessageWriteOutput, err)
		}
		return nil
	}
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageOpenOutput, err)
	}
	defer func() {
		_ = outputFile.Close()
	}()
	if err := export.WriteCSV(outputFile, results); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteOutput, err)
	}
	return nil
}
