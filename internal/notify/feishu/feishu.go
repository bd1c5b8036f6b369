// Package feishu 飞书通知：tenant_access_token 缓存，向群发送带批准/拒绝按钮的卡片。
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/config"
	"medpolicy/internal/notify"
)

const (
	defaultOpenBaseURL = "https://open.feishu.cn"
	tokenPath          = "/open-apis/auth/v3/tenant_access_token/internal"
	messagePath        = "/open-apis/im/v1/messages"
	maxAttempts        = 3
)

// ActionValue 卡片按钮回传值；长连接收到后据此完成审批。
type ActionValue struct {
	Kind   notify.Kind `json:"kind"`
	ID     string      `json:"id"`
	Action string      `json:"action"` // approve / reject
}

// Provider 飞书通知渠道。
type Provider struct {
	cfg     config.FeishuConfig
	baseURL string
	client  *http.Client
	log     logrus.FieldLogger
	router  *notify.Router
	backoff time.Duration

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewProvider 根据飞书配置创建；app_secret 应从环境变量读取（config.Load 已做 env 覆盖）。
func NewProvider(cfg config.FeishuConfig, log logrus.FieldLogger) *Provider {
	base := strings.TrimSuffix(cfg.OpenBaseURL, "/")
	if base == "" {
		base = defaultOpenBaseURL
	}
	routes := make([]notify.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, notify.Route{Kind: notify.Kind(r.Kind), MinAmount: r.MinAmount, Target: r.ChatID})
	}
	return &Provider{
		cfg:     cfg,
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.WithField("component", "feishu"),
		router:  notify.NewRouter(routes, cfg.ChatID),
		backoff: time.Second,
	}
}

// Notify 按 routes 选群（默认 chat_id）发送卡片；失败按指数退避重试。
func (p *Provider) Notify(ctx context.Context, n *notify.Notice) error {
	if n == nil {
		return fmt.Errorf("feishu: nil notice")
	}
	if !p.cfg.Enabled || p.cfg.AppID == "" || p.cfg.AppSecret == "" || p.cfg.ChatID == "" {
		return fmt.Errorf("feishu: not enabled or missing app_id/app_secret/chat_id")
	}
	chatID := p.router.Match(n)
	content, err := json.Marshal(p.card(n))
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err := p.getToken(ctx)
		if err == nil {
			err = p.send(ctx, token, chatID, "interactive", string(content))
			if err == nil {
				p.log.WithFields(logrus.Fields{"kind": n.Kind, "id": n.ID, "chat_id": chatID}).Info("飞书通知已发送")
				return nil
			}
		}
		lastErr = err
		if attempt < maxAttempts-1 {
			wait := p.backoff << uint(attempt)
			p.log.WithError(err).Warnf("飞书通知重试 %d/%d after %v", attempt+1, maxAttempts, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

func (p *Provider) card(n *notify.Notice) map[string]any {
	title := "新投保申请"
	path := "/policy/requests/"
	if n.Kind == notify.KindClaim {
		title = "新理赔申请"
		path = "/claims/"
	}
	md := fmt.Sprintf("**%s**\n\nID: `%s`\n摘要: %s", title, n.ID, n.Summary)
	if p.cfg.ConsoleBaseURL != "" {
		md += fmt.Sprintf("\n\n[在控制台查看](%s%s%s)", strings.TrimSuffix(p.cfg.ConsoleBaseURL, "/"), path, n.ID)
	}
	button := func(label, typ, action string) map[string]any {
		return map[string]any{
			"tag":   "button",
			"text":  map[string]any{"tag": "plain_text", "content": label},
			"type":  typ,
			"value": ActionValue{Kind: n.Kind, ID: n.ID, Action: action},
		}
	}
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title": map[string]any{"tag": "plain_text", "content": "MedPolicy " + title},
		},
		"elements": []any{
			map[string]any{"tag": "div", "text": map[string]any{"tag": "lark_md", "content": md}},
			map[string]any{"tag": "action", "actions": []any{
				button("批准", "primary", "approve"),
				button("拒绝", "default", "reject"),
			}},
		},
	}
}

func (p *Provider) send(ctx context.Context, token, chatID, msgType, content string) error {
	payload, _ := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	})
	url := p.baseURL + messagePath + "?receive_id_type=chat_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu message api HTTP %d: %s", resp.StatusCode, string(body))
	}
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &result)
	if result.Code != 0 {
		return fmt.Errorf("feishu API code=%d msg=%s", result.Code, result.Msg)
	}
	return nil
}

func (p *Provider) getToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	if p.token != "" && time.Now().Before(p.expiry) {
		t := p.token
		p.mu.RUnlock()
		return t, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expiry) {
		return p.token, nil
	}
	payload, _ := json.Marshal(map[string]string{"app_id": p.cfg.AppID, "app_secret": p.cfg.AppSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu token: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var res struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("feishu token decode: %w", err)
	}
	if res.Code != 0 {
		return "", fmt.Errorf("feishu token: code=%d msg=%s", res.Code, res.Msg)
	}
	p.token = res.TenantAccessToken
	p.expiry = time.Now().Add(time.Duration(res.Expire-60) * time.Second)
	return p.token, nil
}

var _ notify.Provider = (*Provider)(nil)
