// Package app 按配置装配各后端并组合成可运行的服务；serve 与 Lambda 入口共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/sirupsen/logrus"

	"medpolicy/internal/api"
	"medpolicy/internal/audit"
	"medpolicy/internal/awsutil"
	"medpolicy/internal/chain"
	"medpolicy/internal/claim"
	"medpolicy/internal/config"
	"medpolicy/internal/content"
	"medpolicy/internal/events"
	"medpolicy/internal/identity"
	"medpolicy/internal/lifecycle"
	"medpolicy/internal/models"
	"medpolicy/internal/notify"
	"medpolicy/internal/notify/feishu"
	"medpolicy/internal/request"
	"medpolicy/internal/rules"
	"medpolicy/pkg/ledger"
)

// shutdownGrace Close 等待在途通知的上限。
const shutdownGrace = 10 * time.Second

// App 装配完成的服务。
type App struct {
	Config   *config.Config
	Log      logrus.FieldLogger
	Ledger   ledger.Ledger
	Identity identity.Gateway
	Rules    *rules.EngineImpl
	Engine   *lifecycle.Engine
	Hub      *events.Hub
	Server   *api.Server

	bridge  *audit.LedgerBridge
	awsCfg  *aws.Config
	closers []func() error
}

// Build 按 cfg 打开存储、网关与旁路组件。失败时已打开的资源会被关闭。
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (a *App, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Ledger.Dir != "" {
		if err := os.MkdirAll(cfg.Ledger.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
	}
	ledgerStore := ledger.NewLocalStoreWithPath(cfg.Ledger.Dir)
	a.closers = append(a.closers, ledgerStore.Close)
	a.Ledger = ledger.NewLedger(ledgerStore)

	stores, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := a.openContent(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := identity.NewFileKeystore(cfg.Identity.KeystoreDir)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	a.Identity = identity.NewLocal(a.Ledger, keys, cs)

	gw, err := a.openChain(ctx)
	if err != nil {
		return nil, err
	}
	anchor := chain.NewAnchorer(gw, time.Duration(cfg.Chain.TimeoutSeconds)*time.Second, log.WithField("component", "chain"))

	a.Rules, err = rules.NewEngineImpl(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	auditStore, err := a.openAudit()
	if err != nil {
		return nil, err
	}

	var notifier notify.Provider = notify.Nop{}
	if cfg.Notify.Feishu.Enabled {
		notifier = feishu.NewProvider(cfg.Notify.Feishu, log)
	}
	a.Hub = events.NewHub(log)
	a.closers = append(a.closers, func() error { a.Hub.Close(); return nil })

	a.Engine = lifecycle.New(lifecycle.Deps{
		Requests:    request.NewEngineImpl(stores.requests, stores.credentials, a.Identity, anchor, a.Rules, log),
		Claims:      claim.NewEngineImpl(stores.claims, cs, a.Identity, a.Rules, log),
		Identity:    a.Identity,
		Content:     cs,
		Credentials: stores.credentials,
		Anchor:      anchor,
		Audit:       auditStore,
		Notify:      notifier,
		Events:      a.Hub,
		PolicyCheck: lifecycle.PolicyCheck(cfg.Rules.PolicyCheck),
		Log:         log,
	})

	a.Server = api.NewServer(cfg.Server, a.Engine, log)
	a.Server.SetLedgerHandler(chain.NewLedgerHandler(a.Ledger).Routes())
	a.Server.SetEvents(a.Hub)
	a.Server.AddReadyCheck("ledger", a.Ledger.Healthy)
	a.Server.AddReadyCheck("store", func(ctx context.Context) error {
		_, err := stores.requests.List(ctx)
		return err
	})
	return a, nil
}

// Start 启动后台任务：审计锚定与飞书卡片长连接。ctx 取消时长连接退出。
func (a *App) Start(ctx context.Context) {
	if a.bridge != nil {
		a.bridge.Start()
	}
	feishu.RunLongConnection(ctx, a.Config.Notify.Feishu, a.Log, a.HandleCardAction)
}

// Close 逆序释放资源。先等待在途的保险方通知，再停审计桥把最后一批写入账本。
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := a.Engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
		cancel()
	}
	if a.bridge != nil {
		a.bridge.Stop()
		a.bridge = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) loadAWS(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := awsutil.Load(ctx, a.Config.AWS)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	a.awsCfg = &cfg
	return cfg, nil
}

func (a *App) openAudit() (audit.Store, error) {
	cfg := a.Config.Audit
	var inner audit.Store = audit.NewMemoryStore()
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("audit dir: %w", err)
		}
		js, err := audit.NewJSONLStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		a.closers = append(a.closers, js.Close)
		inner = js
	}
	if !cfg.AnchorEnabled {
		return inner, nil
	}
	a.bridge = audit.NewLedgerBridge(inner, a.Ledger, cfg.AnchorBatchSize,
		time.Duration(cfg.AnchorIntervalSeconds)*time.Second, a.Log)
	return a.bridge, nil
}

func (a *App) openChain(ctx context.Context) (chain.Gateway, error) {
	cfg := a.Config.Chain
	switch cfg.Backend {
	case "ledger":
		return chain.NewLedger(a.Ledger), nil
	case "evm":
		evm, err := chain.DialEVM(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.ChainID, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		return evm, nil
	case "fabric":
		f := cfg.Fabric
		fab, err := chain.DialFabric(chain.FabricConfig{
			PeerEndpoint: f.PeerEndpoint,
			GatewayPeer:  f.GatewayPeer,
			TLSCertPath:  f.TLSCertPath,
			MSPID:        f.MSPID,
			CertPath:     f.CertPath,
			KeyPath:      f.KeyPath,
			Channel:      f.Channel,
			Chaincode:    f.Chaincode,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fab.Close)
		return fab, nil
	default:
		a.Log.Info("[medpolicy] 未配置链上后端，审批不会创建链上保单")
		return nil, nil
	}
}

func (a *App) openContent(ctx context.Context) (content.Store, error) {
	cfg := a.Config.Content
	switch cfg.Backend {
	case "memory":
		return content.NewMemory(), nil
	case "s3":
		awsCfg, err := a.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		return content.NewS3(newS3Client(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		cs, err := content.NewLocal(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
		return cs, nil
	}
}

// HandleCardAction 飞书卡片按钮：approve / reject 投保申请或理赔，actor 为配置的 approver_did。
func (a *App) HandleCardAction(ctx context.Context, v feishu.ActionValue, actor string) error {
	const reason = "rejected from Feishu"
	switch v.Kind {
	case notify.KindPolicyRequest:
		switch v.Action {
		case "approve":
			_, err := a.Engine.ApproveAndIssue(ctx, &request.ApproveInput{
				RequestID: v.ID,
				IssuerDID: actor,
				Anchor:    a.Config.Chain.Backend != "none" && a.Config.Chain.Backend != "",
			})
			return err
		case "reject":
			_, err := a.Engine.RejectRequest(ctx, v.ID, reason, actor)
			return err
		}
	case notify.KindClaim:
		key := a.Config.Chain.PrivateKey
		addr, err := addressOf(key)
		if err != nil {
			return fmt.Errorf("claim decision from Feishu needs chain.private_key: %w", err)
		}
		in := &claim.DecisionInput{ClaimID: v.ID, InsurerDID: actor, InsurerAddress: addr, SigningKey: key}
		switch v.Action {
		case "approve":
			_, err := a.Engine.ApproveClaim(ctx, in)
			return err
		case "reject":
			in.Reason = reason
			_, err := a.Engine.RejectClaim(ctx, in)
			return err
		}
	}
	return fmt.Errorf("unknown card action %s/%s: %w", v.Kind, v.Action, models.ErrValidation)
}
