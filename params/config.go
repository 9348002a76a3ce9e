package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Engine holds the settlement engine's deployment constants and initial
// administrative state.
type Engine struct {
	DomainName      string // EIP-712 domain name
	DomainVersion   string // EIP-712 domain version
	ChainID         int64  // deployment chain identifier
	VerifyingAddr   string // execution-context identifier (hex address)
	Admin           string // administrator account (hex address)
	FeeRecipient    string // protocol fee recipient (hex address)
	TrustedVerifier string // force-refund authority (hex address)
	Escrow          string // escrow account holding attached funds mid-call
	FeeRateBps      uint64 // initial fee rate, basis points
	BatchLimit      int    // max orders per batch call
	PriceScaleExp   int64  // price scale factor exponent (10^n)
	BuyEnabled      bool
	CancelEnabled   bool
}

type Node struct {
	Listen  string // API listen address
	DBPath  string // Pebble data directory
	LogFile string // structured log file
}

type Config struct {
	Engine Engine
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			DomainName:    "Listex",
			DomainVersion: "1",
			ChainID:       1337,
			FeeRateBps:    250, // 2.5%
			BatchLimit:    20,
			PriceScaleExp: 10,
			BuyEnabled:    true,
			CancelEnabled: true,
			// Dev escrow account; override in any real deployment.
			Escrow: "0x00000000000000000000000000000000000E5C20",
		},
		Node: Node{
			Listen:  ":8080",
			DBPath:  "data/listex",
			LogFile: "data/listex.log",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DOMAIN_NAME"); v != "" {
		cfg.Engine.DomainName = v
	}
	if v := os.Getenv("DOMAIN_VERSION"); v != "" {
		cfg.Engine.DomainVersion = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.ChainID = id
		}
	}
	if v := os.Getenv("VERIFYING_ADDR"); v != "" {
		cfg.Engine.VerifyingAddr = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.Engine.Admin = v
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		cfg.Engine.FeeRecipient = v
	}
	if v := os.Getenv("TRUSTED_VERIFIER"); v != "" {
		cfg.Engine.TrustedVerifier = v
	}
	if v := os.Getenv("ESCROW_ADDR"); v != "" {
		cfg.Engine.Escrow = v
	}
	if v := os.Getenv("FEE_RATE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.FeeRateBps = bps
		}
	}
	if v := os.Getenv("BATCH_MAX_ORDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.BatchLimit = n
		}
	}
	if v := os.Getenv("PRICE_SCALE_EXP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Engine.PriceScaleExp = n
		}
	}
	if v := os.Getenv("FEATURE_BUY"); v != "" {
		cfg.Engine.BuyEnabled = v == "true"
	}
	if v := os.Getenv("FEATURE_CANCEL"); v != "" {
		cfg.Engine.CancelEnabled = v == "true"
	}

	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.Listen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}

// PriceScale returns the configured scale factor as 10^PriceScaleExp.
func (e Engine) PriceScale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(e.PriceScaleExp), nil)
}

// AdminAddress parses the configured administrator address.
func (e Engine) AdminAddress() common.Address {
	return common.HexToAddress(e.Admin)
}
