// Command auditlog consumes the tap_events and settlements Redis streams
// httpapi publishes to, and writes them to the structured log as a
// queryable audit trail independent of the card_payments table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boltcard-withdraw-server/config"
	messages "boltcard-withdraw-server/internal/queue"
	"boltcard-withdraw-server/pkg/cache"
	"boltcard-withdraw-server/pkg/logger"
	streams "boltcard-withdraw-server/pkg/queue"

	"path/filepath"
	"runtime"

	"github.com/google/uuid"
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
	root := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(filename))))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting auditlog worker")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	queue := streams.NewStreamQueue(cache.Client)
	consumerName := fmt.Sprintf("auditlog-%s", uuid.New().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := queue.DeclareStream(ctx, "tap_events", auditGroup); err != nil {
		return fmt.Errorf("failed to declare the tap_events consumer group: %w", err)
	}
	if err := queue.DeclareStream(ctx, "settlements", auditGroup); err != nil {
		return fmt.Errorf("failed to declare the settlements consumer group: %w", err)
	}

	go func() {
		err := queue.Consume(ctx, "tap_events", auditGroup, consumerName, handleTapEvent)
		if err != nil && err != context.Canceled {
			logger.Error("tap_events consumer error", zap.Error(err))
		}
	}()

	go func() {
		err := queue.Consume(ctx, "settlements", auditGroup, consumerName, handleSettlement)
		if err != nil && err != context.Canceled {
			logger.Error("settlements consumer error", zap.Error(err))
		}
	}()

	logger.Info("auditlog worker is running, waiting for messages...",
		zap.String("group", auditGroup),
		zap.String("consumer", consumerName),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("auditlog worker shut down gracefully")

	return nil
}

func handleTapEvent(messageID string, data []byte) error {
	msg, err := messages.FromJSONTapEvent(data)
	if err != nil {
		return fmt.Errorf("invalid tap event message %s: %w", messageID, err)
	}
	logger.Info("tap",
		zap.Int64("card_id", msg.CardID),
		zap.String("uid", msg.UID),
		zap.Uint32("counter", msg.Counter),
		zap.String("kind", msg.Kind),
	)
	return nil
}

func handleSettlement(messageID string, data []byte) error {
	msg, err := messages.FromJSONSettlement(data)
	if err != nil {
		return fmt.Errorf("invalid settlement message %s: %w", messageID, err)
	}
	logger.Info("settlement",
		zap.Int64("card_id", msg.CardID),
		zap.Int64("payment_id", msg.PaymentID),
		zap.Int64("amount_msats", msg.AmountMsats),
		zap.String("status", msg.Status),
	)
	return nil
}
