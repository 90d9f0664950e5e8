package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"boltcard-withdraw-server/config"
	"boltcard-withdraw-server/internal/httpapi"
	"boltcard-withdraw-server/internal/lnd"
	"boltcard-withdraw-server/internal/lnurlw"
	"boltcard-withdraw-server/internal/store"
	"boltcard-withdraw-server/internal/tap"
	"boltcard-withdraw-server/pkg/cache"
	"boltcard-withdraw-server/pkg/logger"
	"boltcard-withdraw-server/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.ServerConfig

const auditGroup = "auditlog"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if Cfg.Domain == "" {
		return fmt.Errorf("BOLTCARD_DOMAIN is required")
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg store.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := store.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database connected and migrated")

	masterKey, err := hex.DecodeString(Cfg.MasterKeyHex)
	if err != nil {
		return fmt.Errorf("BOLTCARD_MASTER_KEY_HEX is not valid hex: %w", err)
	}

	cardRepo := store.NewCardRepository(db, masterKey)
	paymentRepo := store.NewPaymentRepository(db)

	var lndCfg lnd.Config
	if err := copier.Copy(&lndCfg, &Cfg.LND); err != nil {
		return fmt.Errorf("failed to copy lnd config: %w", err)
	}
	lndCfg.Network = Cfg.Network
	lndClient, err := lnd.NewClient(lndCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to lnd: %w", err)
	}
	defer lndClient.Close()
	logger.Info("connected to lnd node")

	tapAuth := tap.NewAuthenticator(cardRepo, paymentRepo)

	sessionMgr, err := lnurlw.NewSessionManager(cardRepo, paymentRepo, lndClient, Cfg.Domain, Cfg.Network)
	if err != nil {
		return fmt.Errorf("failed to initialize withdraw session manager: %w", err)
	}

	streamQueue := queue.NewStreamQueue(cache.Client)
	if err := streamQueue.DeclareStream(ctx, "tap_events", auditGroup); err != nil {
		return fmt.Errorf("failed to declare tap_events stream: %w", err)
	}
	if err := streamQueue.DeclareStream(ctx, "settlements", auditGroup); err != nil {
		return fmt.Errorf("failed to declare settlements stream: %w", err)
	}

	provisioningTTL := time.Duration(Cfg.Provisioning.TTLMinutes) * time.Minute
	handler := httpapi.NewHandler(
		cardRepo, tapAuth, sessionMgr, streamQueue,
		Cfg.Domain, Cfg.DefaultTxLimitSats, Cfg.DefaultDayLimitSats,
		provisioningTTL,
	)
	router := httpapi.NewRouter(handler)

	addr := Cfg.Host + ":" + Cfg.Port
	logger.Info("server starting", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
