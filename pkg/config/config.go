// Package config はゲートウェイの設定を読み込む。
//
// 設定はYAMLファイル（任意）を既定値の上に読み込み、最後に GATEWAY_ で始まる
// 環境変数で上書きする。Validate で起動前に不正な設定を検出する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/medigate/pkg/token"
)

// トークンの受け渡し方式。
const (
	// TransportCookie はHttpOnly Cookieでトークンを受け渡す。
	TransportCookie = "cookie"
	// TransportHeader はJSONボディで返しAuthorizationヘッダーで受け取る。
	TransportHeader = "header"
)

// envPrefix は設定を上書きする環境変数の接頭辞。
const envPrefix = "GATEWAY_"

// Config はゲートウェイ全体の設定。
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Token       TokenConfig       `yaml:"token"`
	CORS        CORSConfig        `yaml:"cors"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig はリスナーの設定。
type ServerConfig struct {
	// Port はゲートウェイのHTTPポート。
	Port string `yaml:"port"`
	// MetricsPort はPrometheusメトリクス用のポート。空の場合は公開しない。
	MetricsPort string `yaml:"metrics_port"`
}

// TokenConfig はセッショントークンの設定。
type TokenConfig struct {
	// Secret はHMAC署名鍵。32バイト以上が必要。
	Secret string `yaml:"secret"`
	// TTLSeconds はトークンの有効期間（秒）。
	TTLSeconds int `yaml:"ttl_seconds"`
	// Issuer はトークンのiss。
	Issuer string `yaml:"issuer"`
	// Transport は cookie または header。
	Transport string `yaml:"transport"`
	// CookieSecure はCookieにSecure属性を付けるかどうか。
	CookieSecure bool `yaml:"cookie_secure"`
}

// TTL はトークンの有効期間を返す。
func (t TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLSeconds) * time.Second
}

// CORSConfig はクロスオリジンリクエストの許可設定。
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// CredentialsConfig はユーザー認証情報の設定。
type CredentialsConfig struct {
	// Database はSQLiteのDSN。空の場合はストアを使わない。
	Database string `yaml:"database"`
	// Users はユーザー名とbcryptハッシュの組。
	Users map[string]string `yaml:"users"`
}

// UpstreamConfig は転送先サービスの設定。
type UpstreamConfig struct {
	// URL は /api/** の転送先ベースURL。
	URL string `yaml:"url"`
}

// LoggingConfig はログ出力の設定。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default は既定値を設定したConfigを返す。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			MetricsPort: "9090",
		},
		Token: TokenConfig{
			TTLSeconds: 3600,
			Issuer:     "medigate",
			Transport:  TransportCookie,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
		Credentials: CredentialsConfig{
			Database: "medigate.db",
		},
		Upstream: UpstreamConfig{
			URL: "http://localhost:8081",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は既定値にYAMLファイルと環境変数を重ねて設定を読み込む。
// pathが空の場合はファイルを読まない。検証は行わないため呼び出し側で Validate を呼ぶ。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("PORT", &c.Server.Port)
	str("METRICS_PORT", &c.Server.MetricsPort)
	str("TOKEN_SECRET", &c.Token.Secret)
	str("TOKEN_ISSUER", &c.Token.Issuer)
	str("TOKEN_TRANSPORT", &c.Token.Transport)
	list("CORS_ALLOWED_ORIGINS", &c.CORS.AllowedOrigins)
	list("CORS_ALLOWED_METHODS", &c.CORS.AllowedMethods)
	list("CORS_ALLOWED_HEADERS", &c.CORS.AllowedHeaders)
	str("CREDENTIALS_DATABASE", &c.Credentials.Database)
	str("UPSTREAM_URL", &c.Upstream.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup(envPrefix + "TOKEN_TTL_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTOKEN_TTL_SECONDS が数値ではありません: %w", envPrefix, err)
		}
		c.Token.TTLSeconds = n
	}
	for key, dst := range map[string]*bool{
		"TOKEN_COOKIE_SECURE":    &c.Token.CookieSecure,
		"CORS_ALLOW_CREDENTIALS": &c.CORS.AllowCredentials,
	} {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s が真偽値ではありません: %w", envPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate は起動前に設定を検証する。
// 不正な場合は token.ErrConfigInvalid をラップしたエラーを返す。
func (c *Config) Validate() error {
	var errs []error
	if len(c.Token.Secret) < token.MinSecretLength {
		errs = append(errs, fmt.Errorf("token.secret は%dバイト以上が必要です（現在%dバイト）", token.MinSecretLength, len(c.Token.Secret)))
	}
	if c.Token.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("token.ttl_seconds は正の値が必要です: %d", c.Token.TTLSeconds))
	}
	if strings.TrimSpace(c.Token.Issuer) == "" {
		errs = append(errs, errors.New("token.issuer が空です"))
	}
	if c.Token.Transport != TransportCookie && c.Token.Transport != TransportHeader {
		errs = append(errs, fmt.Errorf("token.transport は %s または %s を指定してください: %q", TransportCookie, TransportHeader, c.Token.Transport))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port が空です"))
	}
	if c.Server.MetricsPort != "" && c.Server.MetricsPort == c.Server.Port {
		errs = append(errs, errors.New("server.metrics_port は server.port と別のポートを指定してください"))
	}
	if c.Credentials.Database == "" && len(c.Credentials.Users) == 0 {
		errs = append(errs, errors.New("credentials.database または credentials.users のいずれかが必要です"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", token.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// splitList はカンマ区切りの値を分割し、空要素を取り除く。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
