package config

// ServerConfig is the root configuration for cmd/server and
// cmd/worker/auditlog, loaded from config.toml with env-var overrides.
type ServerConfig struct {
	Domain string `toml:"domain" env:"BOLTCARD_DOMAIN"`
	Host   string `toml:"host" env:"BOLTCARD_HOST" env-default:"0.0.0.0"`
	Port   string `toml:"port" env:"BOLTCARD_PORT" env-default:"8080"`

	// Network selects the BOLT-11 chain params used to decode withdraw
	// invoices: "mainnet", "testnet", "regtest", or "simnet".
	Network string `toml:"network" env:"BOLTCARD_NETWORK" env-default:"mainnet"`

	// MasterKeyHex is the 32-byte (hex-encoded) key internal/crypto uses
	// to encrypt each card's k0..k4 at rest.
	MasterKeyHex string `toml:"master_key_hex" env:"BOLTCARD_MASTER_KEY_HEX"`

	DefaultTxLimitSats  int64 `toml:"default_tx_limit_sats" env:"BOLTCARD_DEFAULT_TX_LIMIT_SATS" env-default:"50000"`
	DefaultDayLimitSats int64 `toml:"default_day_limit_sats" env:"BOLTCARD_DEFAULT_DAY_LIMIT_SATS" env-default:"200000"`

	Database struct {
		Host            string `toml:"host" env:"BOLTCARD_DB_HOST"`
		Port            string `toml:"port" env:"BOLTCARD_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"BOLTCARD_DB_USER"`
		Password        string `toml:"password" env:"BOLTCARD_DB_PASSWORD"`
		DB              string `toml:"db" env:"BOLTCARD_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"BOLTCARD_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"BOLTCARD_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"BOLTCARD_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"BOLTCARD_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"BOLTCARD_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"BOLTCARD_REDIS_HOST"`
		Port     string `toml:"port" env:"BOLTCARD_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"BOLTCARD_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"BOLTCARD_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	LND struct {
		GRPCHost              string `toml:"grpc_host" env:"BOLTCARD_LND_GRPC_HOST"`
		GRPCPort              string `toml:"grpc_port" env:"BOLTCARD_LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath           string `toml:"tls_cert_path" env:"BOLTCARD_LND_TLS_CERT_PATH"`
		MacaroonPath          string `toml:"macaroon_path" env:"BOLTCARD_LND_MACAROON_PATH"`
		PaymentTimeoutSeconds int    `toml:"payment_timeout_seconds" env:"BOLTCARD_LND_PAYMENT_TIMEOUT_SECONDS" env-default:"60"`
	} `toml:"lnd"`

	Provisioning struct {
		TTLMinutes int `toml:"ttl_minutes" env:"BOLTCARD_PROVISIONING_TTL_MINUTES" env-default:"15"`
	} `toml:"provisioning"`
}
