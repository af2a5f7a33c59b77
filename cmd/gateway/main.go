// 認証ゲートウェイのエントリポイント。
// ブラウザと内部サービスの間に立ち、Basic認証でのトークン発行、
// トークンによるリクエストの認証、内部サービスへの転送を担当する。
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nao1215/medigate/internal/gateway"
	"github.com/nao1215/medigate/pkg/config"
	"github.com/nao1215/medigate/pkg/credential"
	"github.com/nao1215/medigate/pkg/event"
	"github.com/nao1215/medigate/pkg/httpclient"
	"github.com/nao1215/medigate/pkg/logging"
	"github.com/nao1215/medigate/pkg/token"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd はmedigateのルートコマンドを生成する。
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "medigate",
		Short:         "内部サービス向けの認証ゲートウェイ",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "設定ファイル（YAML）のパス")

	rootCmd.AddCommand(
		newServeCmd(),
		newHashPasswordCmd(),
		newUserCmd(),
		newAuditCmd(),
		newHealthcheckCmd(),
	)
	return rootCmd
}

// loadConfig は --config で指定された設定ファイルと環境変数から設定を読み込む。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "ゲートウェイを起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := gateway.New(ctx, cfg, logger)
			if err != nil {
				if errors.Is(err, token.ErrConfigInvalid) {
					logger.WithError(err).Fatal("設定が不正なため起動できません")
				}
				return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
			}
			defer server.Close()

			logger.WithFields(logrus.Fields{
				"port":      cfg.Server.Port,
				"transport": cfg.Token.Transport,
				"upstream":  cfg.Upstream.URL,
			}).Info("ゲートウェイを起動します")
			return server.Run(ctx)
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "設定ファイルのusersに書くbcryptハッシュを出力する",
		Long:  "標準入力の1行目をパスワードとして読み、bcryptハッシュを出力する。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := credential.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "認証情報データベースのユーザーを管理する",
	}

	userCmd.AddCommand(&cobra.Command{
		Use:   "add <username>",
		Short: "ユーザーを追加する。パスワードは標準入力から読む",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store *credential.Store) error {
				if err := store.AddUser(ctx, args[0], password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ユーザー %s を追加しました\n", args[0])
				return nil
			})
		},
	})

	userCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "登録済みのユーザー名を表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *credential.Store) error {
				names, err := store.Usernames(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	})

	return userCmd
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "監査ログを新しい順に表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, err := cmd.Flags().GetString("subject")
			if err != nil {
				return err
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}

			db, cleanup, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			recorder, err := event.NewRecorder(cmd.Context(), db, logging.Discard())
			if err != nil {
				return err
			}
			events, err := recorder.ListBySubject(cmd.Context(), subject, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	auditCmd.Flags().String("subject", "", "対象ユーザー名（空の場合は全ユーザー）")
	auditCmd.Flags().Int("limit", 50, "表示する最大件数")
	return auditCmd
}

func newHealthcheckCmd() *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "稼働中のゲートウェイの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := cmd.Flags().GetString("url")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			var health struct {
				Status string `json:"status"`
			}
			if err := httpclient.New(url).GetJSON(ctx, "/health", &health); err != nil {
				return err
			}
			if health.Status != "ok" {
				return fmt.Errorf("status = %q", health.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), health.Status)
			return nil
		},
	}
	healthCmd.Flags().String("url", "http://localhost:8080", "ゲートウェイのベースURL")
	return healthCmd
}

// openDatabase は設定の credentials.database を開く。
func openDatabase(cmd *cobra.Command) (*sql.DB, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Credentials.Database == "" {
		return nil, nil, errors.New("credentials.database が設定されていません")
	}
	db, err := gateway.OpenDatabase(cfg.Credentials.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// withStore は認証情報ストアを開いてfnを実行する。
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *credential.Store) error) error {
	db, cleanup, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := credential.NewStore(cmd.Context(), db, logging.Discard())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), store)
}

// readPassword は入力の1行目をパスワードとして読む。
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("パスワードの読み込みに失敗: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("パスワードが空です")
	}
	return password, nil
}
