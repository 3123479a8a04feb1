package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env          string
		Debug        bool
		TestMode     bool
		AppName      string
		Build        string
		WorkDir      string
		RollbarToken string
		PushToken    string

		Auth      AuthConfig
		Store     StoreConfig
		OTP       OTPConfig
		DevServer DevServerConfig
	}

	AuthConfig struct {
		SessionMaxAge      time.Duration
		OTPTimeout         time.Duration
		DefaultCountryCode string
		DeviceType         string
		PinHashScheme      string // argon2id | sha256
		PinPepper          string
		Argon2Time         uint32
		Argon2Memory       uint32 // KiB
		Argon2Threads      uint8
	}

	StoreConfig struct {
		Driver        string // memory | sqlite | postgres | redis
		DSN           string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		SealKey       string // values are sealed at rest when set
	}

	OTPConfig struct {
		BaseURL string
	}

	DevServerConfig struct {
		Address         string
		JWTSecret       string
		TokenTTL        time.Duration
		OTPPeriod       time.Duration
		ResendInterval  time.Duration
		ShutdownTimeout time.Duration
		// Directory maps canonical phone numbers to "role:name" entries.
		Directory map[string]string
	}
)

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file
// and the environment (prefixed by the upper-cased env name, eg. DEV_STORE_DRIVER).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "dev")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("pushToken", "")

	v.SetDefault("auth.sessionMaxAge", 30*24*time.Hour)
	v.SetDefault("auth.otpTimeout", 15*time.Second)
	v.SetDefault("auth.defaultCountryCode", "91")
	v.SetDefault("auth.deviceType", "cli")
	v.SetDefault("auth.pinHashScheme", "argon2id")
	v.SetDefault("auth.pinPepper", "")
	v.SetDefault("auth.argon2Time", 1)
	v.SetDefault("auth.argon2Memory", 19*1024)
	v.SetDefault("auth.argon2Threads", 1)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "masomo-authgate.db")
	v.SetDefault("store.redisAddr", "localhost:6379")
	v.SetDefault("store.redisPassword", "")
	v.SetDefault("store.redisDB", 0)
	v.SetDefault("store.redisPrefix", "masomo:authgate:")
	v.SetDefault("store.sealKey", "")

	v.SetDefault("otp.baseURL", "http://localhost:8001")

	v.SetDefault("devServer.address", ":8001")
	v.SetDefault("devServer.jwtSecret", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("devServer.tokenTTL", 30*24*time.Hour)
	v.SetDefault("devServer.otpPeriod", 5*time.Minute)
	v.SetDefault("devServer.resendInterval", 30*time.Second)
	v.SetDefault("devServer.shutdownTimeout", 5*time.Second)
	v.SetDefault("devServer.directory", map[string]string{"+919876543210": "teacher:Demo Teacher"})

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		WorkDir:      wd,
		RollbarToken: v.GetString("rollbarToken"),
		PushToken:    v.GetString("pushToken"),
		Auth: AuthConfig{
			SessionMaxAge:      v.GetDuration("auth.sessionMaxAge"),
			OTPTimeout:         v.GetDuration("auth.otpTimeout"),
			DefaultCountryCode: v.GetString("auth.defaultCountryCode"),
			DeviceType:         v.GetString("auth.deviceType"),
			PinHashScheme:      v.GetString("auth.pinHashScheme"),
			PinPepper:          v.GetString("auth.pinPepper"),
			Argon2Time:         v.GetUint32("auth.argon2Time"),
			Argon2Memory:       v.GetUint32("auth.argon2Memory"),
			Argon2Threads:      uint8(v.GetUint("auth.argon2Threads")),
		},
		Store: StoreConfig{
			Driver:        CleanString(v.GetString("store.driver"), true /* lower */),
			DSN:           v.GetString("store.dsn"),
			RedisAddr:     v.GetString("store.redisAddr"),
			RedisPassword: v.GetString("store.redisPassword"),
			RedisDB:       v.GetInt("store.redisDB"),
			RedisPrefix:   v.GetString("store.redisPrefix"),
			SealKey:       v.GetString("store.sealKey"),
		},
		OTP: OTPConfig{
			BaseURL: strings.TrimRight(v.GetString("otp.baseURL"), "/"),
		},
		DevServer: DevServerConfig{
			Address:         v.GetString("devServer.address"),
			JWTSecret:       v.GetString("devServer.jwtSecret"),
			TokenTTL:        v.GetDuration("devServer.tokenTTL"),
			OTPPeriod:       v.GetDuration("devServer.otpPeriod"),
			ResendInterval:  v.GetDuration("devServer.resendInterval"),
			ShutdownTimeout: v.GetDuration("devServer.shutdownTimeout"),
			Directory:       v.GetStringMapString("devServer.directory"),
		},
	}
}
