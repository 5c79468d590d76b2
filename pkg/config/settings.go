package config

import "time"

// API holds REST client settings
type API struct {
	BaseURL string
	Timeout time.Duration
	Token   string
}

// Realtime holds push channel and invalidation settings
type Realtime struct {
	Transport        string
	URL              string
	Debounce         time.Duration
	Window           time.Duration
	MaxInvalidations int
	RedisAddr        string
	RedisPassword    string
	PostgresDSN      string
}

// Storage holds object storage settings
type Storage struct {
	Bucket        string
	Region        string
	PublicBaseURL string
	SignedURLTTL  time.Duration
}

// Upload holds progress simulation settings
type Upload struct {
	Tick          time.Duration
	CompleteDelay time.Duration
}

// Resources holds ephemeral resource tracking settings
type Resources struct {
	MaxTracked int
}

// Ledger holds pending action ledger settings
type Ledger struct {
	Retain time.Duration
}

// Telemetry holds trace export settings
type Telemetry struct {
	Enabled      bool
	Endpoint     string
	Environment  string
	SamplingRate float64
}

func APISettings() API {
	return API{
		BaseURL: GetString("api.base_url"),
		Timeout: time.Duration(GetInt("api.timeout")) * time.Second,
		Token:   GetString("auth.token"),
	}
}

func RealtimeSettings() Realtime {
	return Realtime{
		Transport:        GetString("realtime.transport"),
		URL:              GetString("realtime.url"),
		Debounce:         GetMillis("realtime.debounce_ms"),
		Window:           GetMillis("realtime.window_ms"),
		MaxInvalidations: GetInt("realtime.max_invalidations"),
		RedisAddr:        GetString("redis.addr"),
		RedisPassword:    GetString("redis.password"),
		PostgresDSN:      GetString("postgres.dsn"),
	}
}

func StorageSettings() Storage {
	return Storage{
		Bucket:        GetString("storage.bucket"),
		Region:        GetString("storage.region"),
		PublicBaseURL: GetString("storage.public_base_url"),
		SignedURLTTL:  time.Duration(GetInt("storage.signed_url_ttl")) * time.Second,
	}
}

func UploadSettings() Upload {
	return Upload{
		Tick:          GetMillis("upload.tick_ms"),
		CompleteDelay: GetMillis("upload.complete_delay_ms"),
	}
}

func ResourceSettings() Resources {
	return Resources{MaxTracked: GetInt("resources.max_tracked")}
}

func LedgerSettings() Ledger {
	return Ledger{Retain: GetMillis("ledger.retain_ms")}
}

func TelemetrySettings() Telemetry {
	return Telemetry{
		Enabled:      GetBool("telemetry.enabled"),
		Endpoint:     GetString("telemetry.endpoint"),
		Environment:  GetString("telemetry.environment"),
		SamplingRate: GetFloat("telemetry.sampling_rate"),
	}
}
