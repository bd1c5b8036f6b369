package notify

import (
	"math/big"
	"strings"
)

// Route 一条投递规则：Kind 为空匹配所有类型；MinAmount 为空或非法时不限金额。
type Route struct {
	Kind      Kind
	MinAmount string
	Target    string
}

// Router 按类型与金额选择投递目标（如飞书 chat_id），首条命中生效；无命中返回默认目标。
type Router struct {
	routes []route
	def    string
}

type route struct {
	kind   Kind
	min    *big.Int
	target string
}

// NewRouter 从规则列表构建；target 为空的规则被忽略。
func NewRouter(routes []Route, defaultTarget string) *Router {
	entries := make([]route, 0, len(routes))
	for _, r := range routes {
		if strings.TrimSpace(r.Target) == "" {
			continue
		}
		e := route{kind: r.Kind, target: r.Target}
		if v, ok := new(big.Int).SetString(strings.TrimSpace(r.MinAmount), 10); ok {
			e.min = v
		}
		entries = append(entries, e)
	}
	return &Router{routes: entries, def: defaultTarget}
}

// Match 返回 n 的投递目标。n.Amount 无法解析时只匹配不限金额的规则。
func (r *Router) Match(n *Notice) string {
	amount, amountOK := new(big.Int).SetString(strings.TrimSpace(n.Amount), 10)
	for _, e := range r.routes {
		if e.kind != "" && e.kind != n.Kind {
			continue
		}
		if e.min != nil && (!amountOK || amount.Cmp(e.min) < 0) {
			continue
		}
		return e.target
	}
	return r.def
}
