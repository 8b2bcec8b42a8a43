package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/hutch/pkg/config"
)

// Policy maps file extensions to Cache-Control header values. A zero expire
// becomes "no-cache"; extensions without a rule emit no header.
type Policy struct {
	byExt map[string]string
}

// NewPolicy compiles client-cache rules into a lookup table.
func NewPolicy(rules []config.ClientCacheRule) *Policy {
	p := &Policy{byExt: make(map[string]string)}
	for _, rule := range rules {
		value := "no-cache"
		if d := rule.Expire.Std(); d > 0 {
			value = fmt.Sprintf("max-age=%d", int64(d/time.Second))
		}
		for _, ext := range rule.Extensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				p.byExt[ext] = value
			}
		}
	}
	return p
}

// HeaderFor returns the Cache-Control value for a request path, if any.
func (p *Policy) HeaderFor(rel string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.byExt[extOf(rel)]
	return v, ok
}
