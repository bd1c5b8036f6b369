// Package lifecycle 组合投保申请与理赔流程，对 API 层暴露生命周期操作。
// 主流程只写记录与调用网关；审计、通知与事件推送均为尽力而为的旁路。
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/audit"
	"medpolicy/internal/chain"
	"medpolicy/internal/claim"
	"medpolicy/internal/content"
	"medpolicy/internal/events"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/notify"
	"medpolicy/internal/request"
	"medpolicy/internal/store"
)

// PolicyCheck 理赔提交时对 policyId 的校验强度。
type PolicyCheck string

const (
	PolicyMustBeApproved PolicyCheck = "approved" // 默认：必须引用已批准的投保申请
	PolicyMustExist      PolicyCheck = "exists"
	PolicyUnchecked      PolicyCheck = "none"
)

// Deps 引擎依赖。Audit / Notify / Events 为 nil 时对应旁路关闭。
type Deps struct {
	Requests    request.Workflow
	Claims      claim.Workflow
	Identity    identity.Gateway
	Content     content.Store
	Credentials store.Store[models.CredentialRecord]
	Anchor      *chain.Anchorer
	Audit       audit.Store
	Notify      notify.Provider
	Events      events.Publisher
	PolicyCheck PolicyCheck
	Log         logrus.FieldLogger
}

// Engine 生命周期引擎。
type Engine struct {
	requests    request.Workflow
	claims      claim.Workflow
	identity    identity.Gateway
	content     content.Store
	creds       store.Store[models.CredentialRecord]
	anchor      *chain.Anchorer
	audit       audit.Store
	notify      notify.Provider
	events      events.Publisher
	policyCheck PolicyCheck
	log         logrus.FieldLogger

	notifyTimeout time.Duration

	// 后台通知：bg 在 Close 超时后取消仍在发送的通知。
	bg       context.Context
	cancelBg context.CancelFunc
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New 创建引擎。
func New(d Deps) *Engine {
	e := &Engine{
		requests:      d.Requests,
		claims:        d.Claims,
		identity:      d.Identity,
		content:       d.Content,
		creds:         d.Credentials,
		anchor:        d.Anchor,
		audit:         d.Audit,
		notify:        d.Notify,
		events:        d.Events,
		policyCheck:   d.PolicyCheck,
		log:           d.Log,
		notifyTimeout: 30 * time.Second,
	}
	e.bg, e.cancelBg = context.WithCancel(context.Background())
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.log = e.log.WithField("component", "lifecycle")
	if e.notify == nil {
		e.notify = notify.Nop{}
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.policyCheck == "" {
		e.policyCheck = PolicyMustBeApproved
	}
	return e
}

// record 写审计并推送事件；失败只记日志。
func (e *Engine) record(ctx context.Context, ev models.Evidence) {
	if e.audit != nil {
		if err := e.audit.Append(ctx, &ev); err != nil {
			e.log.WithError(err).WithField("subject", ev.SubjectID).Warn("审计写入失败")
		}
	}
	if ev.ToStatus != "" || ev.Action == "issue" {
		e.events.Publish(events.Event{
			Type:      ev.Kind + "." + ev.Action,
			SubjectID: ev.SubjectID,
			Status:    ev.ToStatus,
		})
	}
}

// announce 在后台通知保险方，不占用请求的生命周期；Close 之后的通知直接丢弃。
func (e *Engine) announce(ctx context.Context, n notify.Notice) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{"kind": n.Kind, "id": n.ID}).Warn("引擎已关闭，跳过保险方通知")
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(e.bg, e.notifyTimeout)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		if err := e.notify.Notify(ctx, &n); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"kind": n.Kind, "id": n.ID}).Warn("保险方通知失败")
		}
	}()
}

// Close 停止接受新通知并等待在途通知发送完成；ctx 到期时取消剩余通知并返回 ctx.Err()。
// 重复调用安全。
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancelBg()
		return nil
	case <-ctx.Done():
		e.cancelBg()
		<-done
		return ctx.Err()
	}
}

// AuditTrail 返回主体的审计记录。
func (e *Engine) AuditTrail(ctx context.Context, subjectID string) ([]*models.Evidence, error) {
	if subjectID == "" {
		return nil, models.Invalid("subjectId is required")
	}
	if e.audit == nil {
		return []*models.Evidence{}, nil
	}
	list, err := e.audit.QueryBySubject(ctx, subjectID)
	if err != nil {
		return nil, models.Upstream("audit store unavailable", err)
	}
	if list == nil {
		list = []*models.Evidence{}
	}
	return list, nil
}
