// Package rewrite implements the configured message interception hook: a
// rule list applied to text messages carrying JSON, able to edit fields in
// place or drop a message entirely.
package rewrite

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/wsmitm/internal/config"
	"github.com/router-for-me/wsmitm/internal/wsrelay"
)

// Rewriter applies the configured rewrite rules to completed messages. Rules
// can be swapped at runtime by the config watcher; OnMessage is invoked from
// the relay's single event goroutine per flow.
type Rewriter struct {
	mu    sync.RWMutex
	rules []config.RewriteRule
}

// New builds a Rewriter with the initial rule set.
func New(rules []config.RewriteRule) *Rewriter {
	return &Rewriter{rules: rules}
}

// Swap replaces the rule set. Sessions already in flight pick up the new
// rules on their next message.
func (r *Rewriter) Swap(rules []config.RewriteRule) {
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
}

// OnMessage is the wsrelay message hook. Only text messages holding valid
// JSON are considered; binary traffic passes through untouched.
func (r *Rewriter) OnMessage(flow *wsrelay.Flow) {
	msg := flow.LastMessage()
	if msg == nil || msg.Kind != wsrelay.KindText {
		return
	}
	if !gjson.ValidBytes(msg.Content) {
		return
	}

	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, rule := range rules {
		if !matches(msg.Content, rule) {
			continue
		}
		if rule.Kill {
			log.Debugf("Dropping message per rewrite rule (match=%q)", rule.Match)
			msg.Kill()
			return
		}
		edited, err := sjson.SetBytes(msg.Content, rule.Set, rule.Value)
		if err != nil {
			log.Warnf("Rewrite rule set %q failed: %v", rule.Set, err)
			continue
		}
		msg.Content = edited
	}
}

func matches(content []byte, rule config.RewriteRule) bool {
	if rule.Match == "" {
		return true
	}
	value := gjson.GetBytes(content, rule.Match)
	if !value.Exists() {
		return false
	}
	if rule.Equals != "" && value.String() != rule.Equals {
		return false
	}
	return true
}
