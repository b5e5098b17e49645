package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración del servicio (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App           AppConfig
	DB            DBConfig
	JWT           JWTConfig
	HTTP          HTTPConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env  string // development, staging, production
	Name string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	ForceIPv4   bool // resolver el host a IPv4 (contenedores sin IPv6)
	AutoMigrate bool // aplicar migrations/ al arrancar
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN arma la URL postgres:// escapando usuario y contraseña.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig claves de idempotencia y lock del job de auditoría. Addr vacío = en memoria.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// KafkaConfig publicación de MovementCompleted. Sin brokers los eventos solo se registran en el log.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Modos de almacenamiento.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// LedgerConfig comportamiento del ledger y de los workers.
type LedgerConfig struct {
	Store            string // postgres | memory
	Consistency      string // transaction | saga
	MaxRetries       int
	BackorderEnabled bool
	ClaimLease       time.Duration
	ApplyTimeout     time.Duration
	AuditInterval    time.Duration // 0 desactiva el job periódico
	AuditConcurrency int
	RetryInterval    time.Duration // 0 desactiva el reintento de pendientes
	RetryMinAge      time.Duration
}

// ObservabilityConfig métricas y trazas.
type ObservabilityConfig struct {
	JaegerEndpoint string // vacío = sin exportador
	MetricsEnabled bool
	LogLevel       string
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, LEDGER_CONSISTENCY, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // opcional

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // opcional

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:  getString(v, "APP_ENV", "development"),
			Name: getString(v, "APP_NAME", "stock-ledger"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "stock_ledger"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    int32(getInt(v, "DB_MAX_CONNS", 25)),
			MinConns:    int32(getInt(v, "DB_MIN_CONNS", 2)),
			ForceIPv4:   getBool(v, "DB_FORCE_IPV4", false),
			AutoMigrate: getBool(v, "DB_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "stock-ledger"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		Redis: RedisConfig{
			Addr:           getString(v, "REDIS_ADDR", ""),
			Password:       getString(v, "REDIS_PASSWORD", ""),
			DB:             getInt(v, "REDIS_DB", 0),
			IdempotencyTTL: getDuration(v, "IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: getStringSlice(v, "KAFKA_BROKERS"),
			Topic:   getString(v, "LEDGER_KAFKA_TOPIC", "stock.movements.completed"),
		},
		Ledger: LedgerConfig{
			Store:            getString(v, "LEDGER_STORE", StorePostgres),
			Consistency:      getString(v, "LEDGER_CONSISTENCY", "transaction"),
			MaxRetries:       getInt(v, "LEDGER_MAX_RETRIES", 5),
			BackorderEnabled: getBool(v, "LEDGER_BACKORDER_ENABLED", false),
			ClaimLease:       getDuration(v, "LEDGER_CLAIM_LEASE", 30*time.Second),
			ApplyTimeout:     getDuration(v, "LEDGER_APPLY_TIMEOUT", 10*time.Second),
			AuditInterval:    getDuration(v, "LEDGER_AUDIT_INTERVAL", time.Hour),
			AuditConcurrency: getInt(v, "LEDGER_AUDIT_CONCURRENCY", 4),
			RetryInterval:    getDuration(v, "LEDGER_RETRY_INTERVAL", time.Minute),
			RetryMinAge:      getDuration(v, "LEDGER_RETRY_MIN_AGE", 2*time.Minute),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getString(v, "JAEGER_ENDPOINT", ""),
			MetricsEnabled: getBool(v, "METRICS_ENABLED", true),
			LogLevel:       getString(v, "LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("LEDGER_STORE inválido: %q (postgres|memory)", c.Ledger.Store)
	}
	switch c.Ledger.Consistency {
	case "transaction", "saga":
	default:
		return fmt.Errorf("LEDGER_CONSISTENCY inválido: %q (transaction|saga)", c.Ledger.Consistency)
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("LEDGER_MAX_RETRIES debe ser >= 1")
	}
	return nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	if s, ok := v.Get(key).(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return def
		}
		return n
	}
	return v.GetInt(key)
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}
	return v.GetBool(key)
}

// getDuration acepta "30s", "5m" o un entero en segundos.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// getStringSlice lee listas separadas por comas (KAFKA_BROKERS=a:9092,b:9092).
func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v.GetString(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
