package feishu

import (
	"context"
	"time"

	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher/callback"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sirupsen/logrus"

	"medpolicy/internal/config"
	"medpolicy/internal/notify"
)

// ActionFunc 处理卡片按钮点击；actor 为配置的 approver_did。
type ActionFunc func(ctx context.Context, v ActionValue, actor string) error

// RunLongConnection 在后台建立飞书长连接，接收卡片点击（card.action.trigger）并回调 onAction。
// 需在飞书开放平台选择「使用长连接接收事件」。ctx 取消时退出。
func RunLongConnection(ctx context.Context, cfg config.FeishuConfig, log logrus.FieldLogger, onAction ActionFunc) {
	if !cfg.Enabled || cfg.AppID == "" || cfg.AppSecret == "" || cfg.ApproverDID == "" {
		return
	}
	go runWSLoop(ctx, cfg, log.WithField("component", "feishu-ws"), onAction)
}

func runWSLoop(ctx context.Context, cfg config.FeishuConfig, log logrus.FieldLogger, onAction ActionFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		eventHandler := dispatcher.NewEventDispatcher("", "").
			OnP2CardActionTrigger(func(ctx context.Context, event *callback.CardActionTriggerEvent) (*callback.CardActionTriggerResponse, error) {
				if event == nil || event.Event == nil || event.Event.Action == nil {
					return &callback.CardActionTriggerResponse{}, nil
				}
				return handleCardAction(ctx, log, event.Event.Action.Value, cfg.ApproverDID, onAction), nil
			})
		client := larkws.NewClient(cfg.AppID, cfg.AppSecret, larkws.WithEventHandler(eventHandler))
		log.Info("飞书长连接已建立，等待卡片交互事件")
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := client.Start(ctx); err != nil {
				log.WithError(err).Warn("飞书长连接错误")
			}
		}()
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		time.Sleep(5 * time.Second)
	}
}

// handleCardAction 解析按钮 value 并调用 onAction；任何错误只记录，卡片不更新。
func handleCardAction(ctx context.Context, log logrus.FieldLogger, value map[string]interface{}, actor string, onAction ActionFunc) *callback.CardActionTriggerResponse {
	v, ok := parseActionValue(value)
	if !ok {
		return &callback.CardActionTriggerResponse{}
	}
	entry := log.WithFields(logrus.Fields{"kind": v.Kind, "id": v.ID, "action": v.Action})
	if err := onAction(ctx, v, actor); err != nil {
		entry.WithError(err).Warn("飞书卡片审批失败")
		return &callback.CardActionTriggerResponse{}
	}
	entry.Info("飞书卡片审批完成")
	return &callback.CardActionTriggerResponse{}
}

func parseActionValue(value map[string]interface{}) (ActionValue, bool) {
	if value == nil {
		return ActionValue{}, false
	}
	kind, _ := value["kind"].(string)
	id, _ := value["id"].(string)
	action, _ := value["action"].(string)
	if id == "" || (action != "approve" && action != "reject") {
		return ActionValue{}, false
	}
	switch notify.Kind(kind) {
	case notify.KindPolicyRequest, notify.KindClaim:
	default:
		return ActionValue{}, false
	}
	return ActionValue{Kind: notify.Kind(kind), ID: id, Action: action}, true
}
