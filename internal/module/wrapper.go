package module

import "github.com/fenwick-labs/hookproxy/internal/message"

// Wrapper is the capability-restricted view of the host handed to a
// module's Loader: load/unload nested modules, hook/unhook, and inject
// synthetic messages toward either endpoint. It pre-tags every hook it
// installs with its owning module's name so Host.Unload can revoke them
// automatically.
type Wrapper struct {
	host       *Host
	moduleName string
}

// Name returns the module this Wrapper was constructed for.
func (w *Wrapper) Name() string { return w.moduleName }

// Load loads a nested module through the same host.
func (w *Wrapper) Load(name string, loader Loader, args ...any) (Instance, bool) {
	return w.host.Load(name, loader, args...)
}

// Unload unloads a module (not necessarily this one) through the same
// host.
func (w *Wrapper) Unload(name string) bool {
	return w.host.Unload(name)
}

// Hook registers a parsed hook at an explicit definition version, tagged
// with this module's name.
func (w *Wrapper) Hook(spec message.HookSpec, version int, cb message.ParsedCallback) message.Handle {
	return w.host.registrar.Hook(spec.WithModule(w.moduleName), version, cb)
}

// HookLatest registers a parsed hook against the latest known schema
// version, tagged with this module's name.
func (w *Wrapper) HookLatest(spec message.HookSpec, cb message.ParsedCallback) message.Handle {
	return w.host.registrar.HookLatest(spec.WithModule(w.moduleName), cb)
}

// HookRaw registers a raw hook, tagged with this module's name.
func (w *Wrapper) HookRaw(spec message.HookSpec, cb message.RawCallback) message.Handle {
	return w.host.registrar.HookRaw(spec.WithModule(w.moduleName), cb)
}

// HookVersion registers a hook from a dynamic, string-typed version
// token, tagged with this module's name. See Dispatcher.HookVersion.
func (w *Wrapper) HookVersion(spec message.HookSpec, token string, raw message.RawCallback, parsed message.ParsedCallback) message.Handle {
	return w.host.registrar.HookVersion(spec.WithModule(w.moduleName), token, raw, parsed)
}

// Unhook removes a single hook by handle, regardless of which module
// installed it.
func (w *Wrapper) Unhook(h message.Handle) {
	w.host.registrar.Unhook(h)
}

// ToClient injects buf toward the client, through the full hook chain as
// a fake, outbound message.
func (w *Wrapper) ToClient(buf []byte) error {
	return w.host.registrar.WriteRaw(buf, true)
}

// ToServer injects buf toward the server, through the full hook chain as
// a fake, outbound message.
func (w *Wrapper) ToServer(buf []byte) error {
	return w.host.registrar.WriteRaw(buf, false)
}

// SendEventToClient serializes event via the codec and injects it toward
// the client.
func (w *Wrapper) SendEventToClient(name string, version int, event any) error {
	return w.host.registrar.WriteEvent(name, version, event, true)
}

// SendEventToServer serializes event via the codec and injects it toward
// the server.
func (w *Wrapper) SendEventToServer(name string, version int, event any) error {
	return w.host.registrar.WriteEvent(name, version, event, false)
}
