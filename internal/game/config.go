package game

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
)

const (
	DEFAULT_TICK_INTERVAL   = 250 * time.Millisecond
	DEFAULT_MIN_WAIT        = 30 * time.Second
	DEFAULT_MAX_WAIT        = 10 * time.Minute
	DEFAULT_ROUND_COOLDOWN  = 15 * time.Second
	DEFAULT_MAX_DRAWS       = 100000
	DEFAULT_SWEEP_INTERVAL  = 1 * time.Minute
	DEFAULT_REWARD_WINDOW   = 1 * time.Hour
	DEFAULT_RETRY_ATTEMPTS  = 3
	DEFAULT_RETRY_BACKOFF   = 2 * time.Second
	DEFAULT_COMMISSION_PCT  = "5"
	DEFAULT_MIN_PARTICIPANT = 2
)

// Config carries every tunable the round machinery reads. All values come
// from the environment with the defaults above.
type Config struct {
	TickInterval time.Duration
	MinWait      time.Duration // admission gate: elapsed time required before start
	MaxWait      time.Duration // waiting round expires to NotEnoughPlayers after this
	Cooldown     time.Duration // pause before the next round of the same parameters
	MaxDraws     int           // no-winner closure signal for the typer loop

	CreateSweepInterval time.Duration
	RefundSweepInterval time.Duration
	RewardSweepInterval time.Duration
	RewardSweepWindow   time.Duration // only rounds created within this window are re-driven

	TransferAttempts int
	TransferBackoff  time.Duration
	CommissionPct    decimal.Decimal
}

func LoadConfig() Config {
	return Config{
		TickInterval:        getEnvAsDuration("TYPER_TICK_INTERVAL", DEFAULT_TICK_INTERVAL),
		MinWait:             getEnvAsDuration("ROUND_MIN_WAIT", DEFAULT_MIN_WAIT),
		MaxWait:             getEnvAsDuration("ROUND_MAX_WAIT", DEFAULT_MAX_WAIT),
		Cooldown:            getEnvAsDuration("ROUND_COOLDOWN", DEFAULT_ROUND_COOLDOWN),
		MaxDraws:            getEnvAsInt("TYPER_MAX_DRAWS", DEFAULT_MAX_DRAWS),
		CreateSweepInterval: getEnvAsDuration("SWEEP_CREATE_INTERVAL", DEFAULT_SWEEP_INTERVAL),
		RefundSweepInterval: getEnvAsDuration("SWEEP_REFUND_INTERVAL", DEFAULT_SWEEP_INTERVAL),
		RewardSweepInterval: getEnvAsDuration("SWEEP_REWARD_INTERVAL", DEFAULT_SWEEP_INTERVAL),
		RewardSweepWindow:   getEnvAsDuration("SWEEP_REWARD_WINDOW", DEFAULT_REWARD_WINDOW),
		TransferAttempts:    getEnvAsInt("TRANSFER_RETRY_ATTEMPTS", DEFAULT_RETRY_ATTEMPTS),
		TransferBackoff:     getEnvAsDuration("TRANSFER_RETRY_BACKOFF", DEFAULT_RETRY_BACKOFF),
		CommissionPct:       getEnvAsDecimal("COMMISSION_PERCENT", DEFAULT_COMMISSION_PCT),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, defaultVal))
	if err != nil {
		d, _ = decimal.NewFromString(defaultVal)
	}
	return d
}
