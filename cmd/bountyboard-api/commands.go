package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/bountyboard/internal/accounts"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/config"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/database"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/logging"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/registry"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/server"
	"github.com/MarcoPoloResearchLab/bountyboard/internal/tokens"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// appRuntime bundles what every subcommand opens from configuration.
type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	ledger *tokens.Ledger
}

func openRuntime() (*appRuntime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	ledger, err := tokens.NewLedger(tokens.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: tokens.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return nil, nil, err
	}

	closeFn := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &appRuntime{config: appConfig, logger: logger, db: db, ledger: ledger}, closeFn, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, closeFn, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeFn()
			rt.logger.Info("schema is up to date", zap.String("driver", rt.config.DatabaseDriver))
			return nil
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		wallet      string
		email       string
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.Auth.SigningSecret),
				Issuer:        appConfig.Auth.Issuer,
				TokenTTL:      appConfig.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			if wallet != "" {
				account, err := registry.NewAccount(wallet)
				if err != nil {
					return err
				}
				wallet = account.String()
			}
			token, expiresIn, err := issuer.IssueSessionToken(cmd.Context(), auth.SessionClaims{
				UserID:          userID,
				UserEmail:       email,
				UserDisplayName: displayName,
				WalletAddress:   wallet,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Session subject")
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address to bind")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&displayName, "display-name", "", "User display name")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newMintCommand() *cobra.Command {
	var (
		account string
		amount  int64
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Credit tokens to an account on the local ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := registry.NewAccount(account)
			if err != nil {
				return err
			}
			rt, closeFn, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeFn()
			if err := rt.ledger.Mint(cmd.Context(), target.String(), amount); err != nil {
				return err
			}
			balance, err := rt.ledger.BalanceOf(cmd.Context(), target.String())
			if err != nil {
				return err
			}
			rt.logger.Info("tokens minted",
				zap.String("account", target.String()),
				zap.Int64("amount", amount),
				zap.Int64("balance", balance))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to credit")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Amount to mint")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func runServer(ctx context.Context) error {
	rt, closeFn, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeFn()
	logger := rt.logger
	appConfig := rt.config

	operator, err := registry.NewAccount(appConfig.Registry.Operator)
	if err != nil {
		return fmt.Errorf("registry.operator: %w", err)
	}
	escrow, err := registry.NewAccount(appConfig.Registry.EscrowAccount)
	if err != nil {
		return fmt.Errorf("registry.escrow_account: %w", err)
	}

	var (
		collectors *metrics.Metrics
		observer   registry.OperationObserver
	)
	if appConfig.MetricsEnabled {
		collectors = metrics.New()
		sqlDB, err := rt.db.DB()
		if err != nil {
			return err
		}
		if err := collectors.RegisterDatabase(sqlDB); err != nil {
			return err
		}
		observer = collectors
	}

	realtime := server.NewRealtimeDispatcher()
	registryService, err := registry.NewService(registry.ServiceConfig{
		Database:      rt.db,
		Tokens:        registry.BindTokenLedger(rt.ledger),
		EscrowAccount: escrow,
		Operator:      operator,
		Policy: registry.Policy{
			AllowAnswersAfterResolution:   appConfig.Registry.AllowAnswersAfterResolution,
			DownvotePenalty:               appConfig.Registry.DownvotePenalty,
			AllowQuestionsInDeletedForums: appConfig.Registry.AllowQuestionsInDeletedForums,
		},
		Clock:    time.Now,
		Logger:   logger,
		Events:   realtime,
		Observer: observer,
	})
	if err != nil {
		return err
	}
	if err := registryService.Bootstrap(ctx); err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		CookieName:    appConfig.Auth.CookieName,
	})
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database: rt.db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Accounts:         accountService,
		Registry:         registryService,
		Tokens:           rt.ledger,
		Realtime:         realtime,
		Metrics:          collectors,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("operator", operator.String()),
			zap.String("escrow", escrow.String()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
