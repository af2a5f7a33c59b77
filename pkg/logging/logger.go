// Package logging はゲートウェイ全体で使用する構造化ロガーを提供する。
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// Format は出力形式（json または text）。
	Format string
	// Output は出力先。nilの場合は標準出力。
	Output io.Writer
}

// New は設定に従ってlogrusのロガーを生成する。
// 不正なレベルが指定された場合はinfoとして扱う。
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// Discard はテスト用に何も出力しないロガーを返す。
func Discard() *logrus.Logger {
	return New(Config{Level: "panic", Output: io.Discard})
}
