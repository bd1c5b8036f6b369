// medpolicy 投保与理赔生命周期服务：serve 启动 HTTP 服务，validate 校验配置，did create 生成机构 DID。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"medpolicy/internal/app"
	"medpolicy/internal/config"
	"medpolicy/internal/rules"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "medpolicy",
		Short:         "Policy and claims lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (or set CONFIG_PATH)")
	root.AddCommand(serveCmd(&configPath), validateCmd(&configPath), didCmd(&configPath))

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "[medpolicy] %v\n", err)
		os.Exit(1)
	}
}

// loadConfig .env 先于 YAML 加载，敏感项只放在 .env 或环境变量中。
func loadConfig(path string) (*config.Config, string, error) {
	_ = config.LoadEnvFile(".env", false)
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			banner(cfg, path)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Start(ctx)
			watchReload(ctx, a.Rules, log)

			if err := a.Server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("[medpolicy] 已退出")
			return nil
		},
	}
}

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load config and rules, exit non-zero on error",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := rules.NewEngineImpl(cfg.Rules.Path); err != nil {
				return fmt.Errorf("rules validate: %w", err)
			}
			if path == "" {
				path = "(defaults)"
			}
			color.Green("[medpolicy] config validate ok: %s", path)
			return nil
		},
	}
}

func didCmd(configPath *string) *cobra.Command {
	did := &cobra.Command{
		Use:   "did",
		Short: "Manage node-held DIDs",
	}
	var controller string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a DID whose key is held by this node (use it as issuerDid / approver_did)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log, err := app.NewLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}
			cfg.Audit.AnchorEnabled = false
			a, err := app.Build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			doc, err := a.Engine.CreateIdentity(cmd.Context(), controller)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		},
	}
	create.Flags().StringVar(&controller, "controller", "", "wallet address bound to the DID")
	did.AddCommand(create)
	return did
}

func banner(cfg *config.Config, path string) {
	color.Cyan("╔════════════════════════════════════════════════════════╗")
	color.Cyan("║          medpolicy 投保与理赔生命周期服务              ║")
	color.Cyan("╚════════════════════════════════════════════════════════╝")
	if path == "" {
		path = "(defaults)"
	}
	color.White("  配置: %s", path)
	color.White("  监听: %s", cfg.Server.ListenAddr)
	color.White("  存储: %s  内容: %s  链: %s", cfg.Store.Backend, cfg.Content.Backend, cfg.Chain.Backend)
	if cfg.Notify.Feishu.Enabled {
		color.Green("  飞书通知已启用")
	} else {
		color.Yellow("  飞书通知未启用（设置 MEDPOLICY_FEISHU_* 后可推送审批卡片）")
	}
}

// watchReload SIGHUP 触发规则热加载；加载失败保留旧规则。
func watchReload(ctx context.Context, r *rules.EngineImpl, log logrus.FieldLogger) {
	if r == nil || r.Path() == "" {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if err := r.Reload(); err != nil {
					log.WithError(err).Warn("[medpolicy] 规则重载失败，继续使用旧规则")
				} else {
					log.WithField("rules", r.Len()).Info("[medpolicy] 规则已重载")
				}
			}
		}
	}()
	log.Info("[medpolicy] SIGHUP 将重载核保规则")
}
