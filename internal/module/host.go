// Package module implements a module lifecycle: load, unload (with
// automatic hook revocation and destructor invocation), and reset, plus
// the capability-restricted Wrapper handed to user modules.
package module

import (
	"fmt"
	"sync"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
)

// Registrar is the subset of Dispatcher capability a Wrapper exposes to
// user modules. Defined here (rather than imported from internal/dispatch)
// so this package has no dependency on dispatch — dispatch depends on
// module, not the other way around, and Dispatcher satisfies this
// interface structurally.
type Registrar interface {
	Hook(spec message.HookSpec, version int, cb message.ParsedCallback) message.Handle
	HookLatest(spec message.HookSpec, cb message.ParsedCallback) message.Handle
	HookRaw(spec message.HookSpec, cb message.RawCallback) message.Handle
	HookVersion(spec message.HookSpec, token string, raw message.RawCallback, parsed message.ParsedCallback) message.Handle
	Unhook(h message.Handle)
	RemoveByModule(name string)
	WriteRaw(buf []byte, toClient bool) error
	WriteEvent(name string, version int, event any, toClient bool) error
}

// Instance is whatever value a module's Loader returns; if it implements
// Destructor, Unload invokes it.
type Instance any

// Destructor is implemented by modules that need cleanup beyond hook
// revocation when unloaded.
type Destructor interface {
	Destructor()
}

// Loader constructs a module instance given its capability Wrapper and
// any load-time arguments.
type Loader func(w *Wrapper, args ...any) (Instance, error)

// Record is one loaded module's bookkeeping entry.
type Record struct {
	Name     string
	Instance Instance
}

// Host tracks loaded modules by name and owns their lifecycle.
type Host struct {
	mu        sync.Mutex
	registrar Registrar
	log       logger.Logger
	modules   map[string]*Record
}

// NewHost returns a Host that revokes hooks through registrar.
func NewHost(registrar Registrar, log logger.Logger) *Host {
	return &Host{registrar: registrar, log: log, modules: make(map[string]*Record)}
}

// Load constructs and registers the module named name via loader, unless
// a module with that name is already loaded (in which case its existing
// instance is returned unchanged — load is idempotent by name). Returns
// false if construction failed; the failure is logged, not propagated,
// since the caller (a hook callback or another module) has no return
// path for it either.
func (h *Host) Load(name string, loader Loader, args ...any) (Instance, bool) {
	h.mu.Lock()
	if rec, ok := h.modules[name]; ok {
		h.mu.Unlock()
		return rec.Instance, true
	}
	h.mu.Unlock()

	w := &Wrapper{host: h, moduleName: name}
	inst, err := safeConstruct(loader, w, args...)
	if err != nil {
		h.log.Errorw("module load failed", "module", name, "err", err)
		return nil, false
	}

	h.mu.Lock()
	h.modules[name] = &Record{Name: name, Instance: inst}
	h.mu.Unlock()
	return inst, true
}

func safeConstruct(loader Loader, w *Wrapper, args ...any) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: constructor panicked: %v", protoerr.ErrModule, r)
		}
	}()
	return loader(w, args...)
}

// Unload revokes every hook the module registered, invokes its
// Destructor if it has one, and drops it from the host. Returns false if
// name wasn't loaded.
func (h *Host) Unload(name string) bool {
	h.mu.Lock()
	rec, ok := h.modules[name]
	if ok {
		delete(h.modules, name)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}

	h.registrar.RemoveByModule(name)

	if d, ok := rec.Instance.(Destructor); ok {
		h.safeDestruct(name, d)
	}
	return true
}

func (h *Host) safeDestruct(name string, d Destructor) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorw("module destructor panicked", "module", name,
				"err", fmt.Errorf("%w: destructor panicked: %v", protoerr.ErrModule, r))
		}
	}()
	d.Destructor()
}

// Reset unloads every loaded module, in no particular order.
func (h *Host) Reset() {
	h.mu.Lock()
	names := make([]string, 0, len(h.modules))
	for n := range h.modules {
		names = append(names, n)
	}
	h.mu.Unlock()

	for _, n := range names {
		h.Unload(n)
	}
}

// Loaded reports whether a module named name is currently loaded.
func (h *Host) Loaded(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.modules[name]
	return ok
}
