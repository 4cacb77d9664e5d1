// Package hooks implements an ordered, per-opcode hook store: a
// sorted-by-order group list per opcode (plus the "*" global slot), and a
// merge iterator that walks globals and opcode-specific groups together.
package hooks

import (
	"sort"

	"github.com/fenwick-labs/hookproxy/internal/message"
)

// Registry stores hooks keyed by opcode (message.OpcodeAny for globals),
// each opcode's hooks grouped and sorted ascending by Order.
type Registry struct {
	byCode map[message.Opcode][]message.HookGroup
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byCode: make(map[message.Opcode][]message.HookGroup)}
}

// Add inserts hook into its opcode's group list, creating a new
// HookGroup for hook.Order if one doesn't already exist, or appending to
// the existing one (preserving registration order within the group).
func (r *Registry) Add(hook *message.Hook) {
	groups := r.byCode[hook.Code]
	idx := sort.Search(len(groups), func(i int) bool { return groups[i].Order >= hook.Order })

	if idx < len(groups) && groups[idx].Order == hook.Order {
		groups[idx].Hooks = append(groups[idx].Hooks, hook)
		r.byCode[hook.Code] = groups
		return
	}

	groups = append(groups, message.HookGroup{})
	copy(groups[idx+1:], groups[idx:])
	groups[idx] = message.HookGroup{Order: hook.Order, Hooks: []*message.Hook{hook}}
	r.byCode[hook.Code] = groups
}

// Remove drops hook by pointer identity. Idempotent — removing a hook
// that isn't present (or was already removed) is a no-op.
func (r *Registry) Remove(hook *message.Hook) {
	groups := r.byCode[hook.Code]
	for gi := range groups {
		if groups[gi].Order != hook.Order {
			continue
		}
		hs := groups[gi].Hooks
		for hi, h := range hs {
			if h == hook {
				groups[gi].Hooks = append(hs[:hi], hs[hi+1:]...)
				break
			}
		}
		if len(groups[gi].Hooks) == 0 {
			groups = append(groups[:gi], groups[gi+1:]...)
		}
		break
	}
	r.byCode[hook.Code] = groups
}

// RemoveByModule drops every hook across every opcode whose ModuleName
// equals name, used by ModuleHost on unload.
func (r *Registry) RemoveByModule(name string) {
	for code, groups := range r.byCode {
		kept := groups[:0]
		for _, g := range groups {
			hs := g.Hooks[:0]
			for _, h := range g.Hooks {
				if h.ModuleName != name {
					hs = append(hs, h)
				}
			}
			if len(hs) > 0 {
				g.Hooks = hs
				kept = append(kept, g)
			}
		}
		r.byCode[code] = kept
	}
}

// MergedIterate returns the hooks that apply to code: globals ("*") and
// opcode-specific groups merged ascending by Order, with globals winning
// ties at equal Order, and registration order preserved within each group.
func (r *Registry) MergedIterate(code message.Opcode) []*message.Hook {
	globals := r.byCode[message.OpcodeAny]
	specifics := r.byCode[code]
	if len(globals) == 0 && len(specifics) == 0 {
		return nil
	}

	out := make([]*message.Hook, 0, countHooks(globals)+countHooks(specifics))
	gi, si := 0, 0
	for gi < len(globals) || si < len(specifics) {
		takeGlobal := gi < len(globals) && (si >= len(specifics) || globals[gi].Order <= specifics[si].Order)
		if takeGlobal {
			out = append(out, globals[gi].Hooks...)
			gi++
			continue
		}
		out = append(out, specifics[si].Hooks...)
		si++
	}
	return out
}

func countHooks(groups []message.HookGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Hooks)
	}
	return n
}
