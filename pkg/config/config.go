package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		Path           string        `mapstructure:"PATH"`
		SlowThreshold  time.Duration `mapstructure:"SLOW_THRESHOLD"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Vault struct {
		SecretPath string `mapstructure:"SECRET_PATH"`
		MountPath  string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
	Otel struct {
		Endpoint string `mapstructure:"ENDPOINT"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Release struct {
		APIURL   string        `mapstructure:"API_URL"`
		Repo     string        `mapstructure:"REPO"`
		Token    string        `mapstructure:"TOKEN"`
		Timeout  time.Duration `mapstructure:"TIMEOUT"`
		CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	} `mapstructure:"RELEASE"`
	License struct {
		ServerURL string        `mapstructure:"SERVER_URL"`
		Secret    string        `mapstructure:"SECRET"`
		Product   string        `mapstructure:"PRODUCT"`
		Timeout   time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"LICENSE"`
	Update struct {
		ProjectDir     string        `mapstructure:"PROJECT_DIR"`
		BackupDir      string        `mapstructure:"BACKUP_DIR"`
		StagingDir     string        `mapstructure:"STAGING_DIR"`
		DeployScript   string        `mapstructure:"DEPLOY_SCRIPT"`
		RollbackScript string        `mapstructure:"ROLLBACK_SCRIPT"`
		UseSudo        bool          `mapstructure:"USE_SUDO"`
		CheckInterval  time.Duration `mapstructure:"CHECK_INTERVAL"`
	} `mapstructure:"UPDATE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "updater")
	v.SetDefault("APP_VERSION", "1.0.0")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("TLS.ENABLE", false)

	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.PATH", "updater.db")
	v.SetDefault("DATABASE.SLOW_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 2)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)

	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)

	v.SetDefault("MINIO.ENDPOINT", "")
	v.SetDefault("MINIO.BUCKET_NAME", "releases")

	v.SetDefault("VAULT.SECRET_PATH", "updater")
	v.SetDefault("VAULT.MOUNT_PATH", "secret")

	v.SetDefault("OTEL.ENDPOINT", "")
	v.SetDefault("OTEL.INSECURE", true)

	v.SetDefault("PYROSCOPE.ADDR", "")

	v.SetDefault("RELEASE.API_URL", "https://api.github.com")
	v.SetDefault("RELEASE.REPO", "")
	v.SetDefault("RELEASE.TOKEN", "")
	v.SetDefault("RELEASE.TIMEOUT", 15*time.Second)
	v.SetDefault("RELEASE.CACHE_TTL", 5*time.Minute)

	v.SetDefault("LICENSE.SERVER_URL", "")
	v.SetDefault("LICENSE.SECRET", "")
	v.SetDefault("LICENSE.PRODUCT", "SUPPORIT")
	v.SetDefault("LICENSE.TIMEOUT", 10*time.Second)

	v.SetDefault("UPDATE.PROJECT_DIR", "/opt/supporit")
	v.SetDefault("UPDATE.BACKUP_DIR", "/opt/supporit/backups")
	v.SetDefault("UPDATE.STAGING_DIR", filepath.Join(os.TempDir(), "supporit-updates"))
	v.SetDefault("UPDATE.DEPLOY_SCRIPT", "scripts/update.sh")
	v.SetDefault("UPDATE.ROLLBACK_SCRIPT", "scripts/rollback.sh")
	v.SetDefault("UPDATE.USE_SUDO", true)
	v.SetDefault("UPDATE.CHECK_INTERVAL", time.Duration(0))
}

// Load reads config.yaml (optional) from dir, then the environment, then .env.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		zap.L().Warn("failed to load .env file", zap.Error(err))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(".")
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applyVaultSecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return cfg
}

func applyVaultSecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.Vault.SecretPath))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.Vault.SecretPath, vault.WithMountPath(cfg.Vault.MountPath))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	set := func(key string, dst *string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	set("license_secret", &cfg.License.Secret)
	set("release_token", &cfg.Release.Token)
	set("database_user", &cfg.Database.User)
	set("database_password", &cfg.Database.Password)
	set("redis_password", &cfg.Redis.Password)
	set("minio_secret_key", &cfg.Minio.SecretKey)

	return nil
}

// ScriptPath resolves a script relative to the project directory.
func (c *Config) ScriptPath(script string) string {
	if filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(c.Update.ProjectDir, script)
}
