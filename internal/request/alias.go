package request

import (
	"github.com/rickgao/hubconn/internal/connection"
	"github.com/rickgao/hubconn/internal/model"
)

// fieldAlias renames one attribute between its wire and local names.
type fieldAlias struct {
	wire  string
	local string
}

var ruleOn = fieldAlias{wire: "on", local: "ON"}

// aliases is keyed by message type for requests and responses, and by
// event key ("<namespace> <type>") for events.
var aliases = map[string]fieldAlias{
	"rule:CreateRule":        ruleOn,
	"rule:UpdateContext":     ruleOn,
	"rule:ListRules":         ruleOn,
	"rule:ListRuleTemplates": ruleOn,
	"ruletmpl:Resolve":       ruleOn,
	"rule base:Added":        ruleOn,
	"rule base:ValueChange":  ruleOn,
}

// Aliased reports whether key has an alias entry.
func Aliased(key string) bool {
	_, ok := aliases[key]
	return ok
}

// Alias renames wire attribute names to local ones for a received message.
// Types without an entry are returned as is.
func Alias(key string, attrs model.Attributes) model.Attributes {
	a, ok := aliases[key]
	if !ok || attrs == nil {
		return attrs
	}
	return renameMap(attrs, a.wire, a.local)
}

// Unalias is the inverse of Alias, applied before sending.
func Unalias(key string, attrs model.Attributes) model.Attributes {
	a, ok := aliases[key]
	if !ok || attrs == nil {
		return attrs
	}
	return renameMap(attrs, a.local, a.wire)
}

// AliasHandler wraps h so events with an alias entry arrive with local
// attribute names.
func AliasHandler(h connection.Handler) connection.Handler {
	return func(ev connection.Event) {
		if key := ev.Key.String(); Aliased(key) {
			ev.Attributes = Alias(key, ev.Attributes)
		}
		h(ev)
	}
}

func renameMap(m map[string]any, from, to string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == from {
			k = to
		}
		out[k] = renameValue(v, from, to)
	}
	return out
}

func renameValue(v any, from, to string) any {
	switch t := v.(type) {
	case map[string]any:
		return renameMap(t, from, to)
	case model.Attributes:
		return model.Attributes(renameMap(t, from, to))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = renameValue(e, from, to)
		}
		return out
	default:
		return v
	}
}
