package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/BurntSushi/toml"    // For the deployments file
	"github.com/joho/godotenv"      // For loading .env files
	"github.com/shopspring/decimal" // For billing rates
	"github.com/sirupsen/logrus"    // For reporting bad values

	"nano_storage/internal/pricing" // Billing rates
)

// Defaults for the settlement service
const (
	DefaultChainID         = 41500            // Local development chain
	DefaultTokenDecimals   = 6                // USDC
	DefaultRemoteTimeout   = 10 * time.Second // Per remote ledger call
	DefaultSignatureWindow = 5 * time.Minute  // Payment timestamp tolerance
	DefaultNonceRetention  = 24 * time.Hour   // Payment record retention
	DefaultGracePeriod     = 7 * 24 * time.Hour
	DefaultBlobDir         = "./data/files"
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // Service token secret
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	ChainID           int64         // EVM chain id
	RPCURL            string        // JSON-RPC endpoint
	StorageCreditPool string        // Credit pool contract address
	PaymentContract   string        // x402 payee contract address
	PaymentToken      string        // Payment token address
	OwnerPrivateKey   string        // Hex key allowed to deduct credit
	TokenDecimals     int32         // Token smallest denomination
	RemoteTimeout     time.Duration // Bound on every remote ledger call

	DailyPerGB      decimal.Decimal // Storage rate per GB per day
	TransferPerGB   decimal.Decimal // Download rate per GB
	MinUnit         decimal.Decimal // Billing granularity
	SignatureWindow time.Duration   // Payment timestamp tolerance
	NonceRetention  time.Duration   // Payment record retention
	GracePeriod     time.Duration   // Locked free file retention after expiry

	BlobBackend string // "local" or "s3"
	BlobDir     string // Local blob directory
	S3Bucket    string // S3 bucket
	S3Region    string // S3 region
	S3Endpoint  string // S3-compatible endpoint, empty for AWS
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	S3Prefix    string // Object key prefix

	StorageFeeCron string // In-process storage fee schedule, empty to disable
	NonceSweepCron string // In-process nonce sweep schedule, empty to disable
}

// Deployments is the contract address file written by the deploy scripts
type Deployments struct {
	ChainID           int64  `toml:"chain_id"`
	RPCURL            string `toml:"rpc_url"`
	StorageCreditPool string `toml:"storage_credit_pool"`
	PaymentContract   string `toml:"payment_contract"`
	PaymentToken      string `toml:"payment_token"`
}

// LoadDeployments reads a deployments TOML file
func LoadDeployments(path string) (Deployments, error) {
	var d Deployments
	_, err := toml.DecodeFile(path, &d)
	return d, err
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	cfg := &Config{
		AppPort:    getEnv("APP_PORT", "8080"),     // Application port
		DBUser:     os.Getenv("DB_USER"),           // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),       // Database password
		DBHost:     os.Getenv("DB_HOST"),           // Database host
		DBPort:     os.Getenv("DB_PORT"),           // Database port
		DBName:     os.Getenv("DB_NAME"),           // Database name
		JWTSecret:  os.Getenv("JWT_SECRET"),        // Service token secret
		RedisAddr:  os.Getenv("REDIS_ADDR"),        // Redis server address
		RedisPass:  os.Getenv("REDIS_PASS"),        // Redis password
		RedisDB:    redisDB,                        // Redis database number
		IsProd:     os.Getenv("IS_PROD") == "true", // Is production environment

		RPCURL:          os.Getenv("RPC_URL"),
		OwnerPrivateKey: os.Getenv("OWNER_PRIVATE_KEY"),
		TokenDecimals:   int32(getInt("TOKEN_DECIMALS", DefaultTokenDecimals)),
		RemoteTimeout:   getDuration("REMOTE_TIMEOUT", DefaultRemoteTimeout),

		DailyPerGB:      getDecimal("RATE_DAILY_PER_GB", "0.005"),
		TransferPerGB:   getDecimal("RATE_TRANSFER_PER_GB", "0.01"),
		MinUnit:         getDecimal("RATE_MIN_UNIT", "0.0001"),
		SignatureWindow: getDuration("SIGNATURE_WINDOW", DefaultSignatureWindow),
		NonceRetention:  getDuration("NONCE_RETENTION", DefaultNonceRetention),
		GracePeriod:     getDuration("GRACE_PERIOD", DefaultGracePeriod),

		BlobBackend: getEnv("BLOB_BACKEND", "local"),
		BlobDir:     getEnv("BLOB_DIR", DefaultBlobDir),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Prefix:    os.Getenv("S3_PREFIX"),

		StorageFeeCron: os.Getenv("STORAGE_FEE_CRON"),
		NonceSweepCron: os.Getenv("NONCE_SWEEP_CRON"),
	}

	// Contract addresses from the deployments file, env wins
	if path := os.Getenv("DEPLOYMENTS_FILE"); path != "" {
		d, err := LoadDeployments(path)
		if err != nil {
			logrus.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Warn("Failed to read deployments file")
		} else {
			cfg.ChainID = d.ChainID
			cfg.RPCURL = firstNonEmpty(cfg.RPCURL, d.RPCURL)
			cfg.StorageCreditPool = d.StorageCreditPool
			cfg.PaymentContract = d.PaymentContract
			cfg.PaymentToken = d.PaymentToken
		}
	}
	if v := getInt("CHAIN_ID", 0); v != 0 {
		cfg.ChainID = int64(v)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	cfg.StorageCreditPool = firstNonEmpty(os.Getenv("STORAGE_CREDIT_POOL_ADDRESS"), cfg.StorageCreditPool)
	cfg.PaymentContract = firstNonEmpty(os.Getenv("PAYMENT_CONTRACT_ADDRESS"), cfg.PaymentContract)
	cfg.PaymentToken = firstNonEmpty(os.Getenv("PAYMENT_TOKEN_ADDRESS"), cfg.PaymentToken)
	return cfg
}

// Rates returns the configured billing rates
func (c *Config) Rates() pricing.Rates {
	return pricing.Rates{DailyPerGB: c.DailyPerGB, TransferPerGB: c.TransferPerGB, MinUnit: c.MinUnit}
}

// DSN returns the MySQL connection string
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid integer, using default")
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid duration, using default")
		return fallback
	}
	return d
}

func getDecimal(key, fallback string) decimal.Decimal {
	def := decimal.RequireFromString(fallback)
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		logrus.WithFields(logrus.Fields{"key": key, "value": v}).Warn("Invalid rate, using default")
		return def
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
