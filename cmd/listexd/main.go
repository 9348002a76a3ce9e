package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jmlee-dev/listex/params"
	"github.com/jmlee-dev/listex/pkg/api"
	"github.com/jmlee-dev/listex/pkg/crypto"
	"github.com/jmlee-dev/listex/pkg/engine"
	"github.com/jmlee-dev/listex/pkg/ledger"
	"github.com/jmlee-dev/listex/pkg/storage"
	"github.com/jmlee-dev/listex/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" loads .env from the current directory

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Durable cancellation ledger ----
	store, err := storage.OpenConsumedStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("consumed_store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Value ledger ----
	// In-process bank; deposits arrive via the bridge/faucet surface.
	bank := ledger.NewBank()

	// ---- Engine ----
	domain := crypto.Domain{
		Name:              cfg.Engine.DomainName,
		Version:           cfg.Engine.DomainVersion,
		ChainID:           big.NewInt(cfg.Engine.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Engine.VerifyingAddr),
	}

	hubSink := api.NewHub(sugar)
	eng, err := engine.New(engine.Config{
		Domain:          domain,
		FeeRateBps:      cfg.Engine.FeeRateBps,
		FeeRecipient:    common.HexToAddress(cfg.Engine.FeeRecipient),
		TrustedVerifier: common.HexToAddress(cfg.Engine.TrustedVerifier),
		Escrow:          common.HexToAddress(cfg.Engine.Escrow),
		PriceScale:      cfg.Engine.PriceScale(),
		BatchLimit:      cfg.Engine.BatchLimit,
		BuyEnabled:      cfg.Engine.BuyEnabled,
		CancelEnabled:   cfg.Engine.CancelEnabled,
	},
		bank,
		store,
		util.RealClock{},
		engine.SingleAdmin(cfg.Engine.AdminAddress()),
		engine.MultiSink{&engine.LogSink{Log: sugar}, hubSink},
		sugar,
	)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	sugar.Infow("engine_ready",
		"domain", cfg.Engine.DomainName,
		"chain_id", cfg.Engine.ChainID,
		"fee_bps", cfg.Engine.FeeRateBps,
		"batch_limit", cfg.Engine.BatchLimit,
		"admin", cfg.Engine.AdminAddress().Hex(),
	)

	// ---- API ----
	srv := api.NewServer(eng, bank, hubSink, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Node.Listen) }()

	select {
	case err := <-errCh:
		sugar.Fatalw("api_server_failed", "err", err)
	case <-ctx.Done():
		sugar.Info("shutting down")
	}
}
