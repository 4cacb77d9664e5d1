// Package dispatch implements the Dispatcher: hook registration (with
// deferral of registrations made before the protocol version is known),
// the Handle algorithm that runs a message through the merged hook chain,
// Write for synthesizing outbound messages, and SetProtocolVersion's
// queued-hook drain. The Dispatcher exclusively owns the hook registry
// and the module host for its connection.
package dispatch

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/fenwick-labs/hookproxy/internal/codec"
	"github.com/fenwick-labs/hookproxy/internal/hooks"
	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/module"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
)

// DefaultCheckVersionOpcode is the opcode C_CHECK_VERSION carries under
// the earliest known schema revision, used to opportunistically detect
// the live protocol version before it is otherwise known.
const DefaultCheckVersionOpcode = 19900

// Sender pushes already-hook-processed bytes onto the wire. A
// proxy.Connection implements it; Dispatcher uses it for the outbound
// path of write()/WriteRaw/WriteEvent.
type Sender interface {
	SendToClient(data []byte) error
	SendToServer(data []byte) error
}

// Outcome is the result of running a message through handle().
type Outcome struct {
	Data     []byte
	Silenced bool
}

type pendingEntry struct {
	id      uuid.UUID
	spec    message.HookSpec
	version VersionArg
	kind    message.HookKind
	raw     message.RawCallback
	parsed  message.ParsedCallback
}

// Dispatcher routes a connection's traffic through its hook chain.
type Dispatcher struct {
	mu sync.Mutex

	codec              codec.Codec
	log                logger.Logger
	checkVersionOpcode message.Opcode
	earliestVersion    int

	protocolVersion int // 0 means "not yet known"

	registry *hooks.Registry

	pending     []*pendingEntry
	pendingByID map[uuid.UUID]*pendingEntry
	liveByID    map[uuid.UUID]*message.Hook

	sender Sender

	modules *module.Host
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithCheckVersionOpcode overrides the opcode used for opportunistic
// protocol-version detection.
func WithCheckVersionOpcode(op message.Opcode) Option {
	return func(d *Dispatcher) { d.checkVersionOpcode = op }
}

// WithEarliestKnownVersion sets the schema revision C_CHECK_VERSION is
// parsed under before the protocol version is known.
func WithEarliestKnownVersion(v int) Option {
	return func(d *Dispatcher) { d.earliestVersion = v }
}

// New constructs a Dispatcher backed by c for name/code resolution and
// parse/write, logging through log.
func New(c codec.Codec, log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		codec:              c,
		log:                log,
		checkVersionOpcode: DefaultCheckVersionOpcode,
		earliestVersion:    1,
		registry:           hooks.New(),
		pendingByID:        make(map[uuid.UUID]*pendingEntry),
		liveByID:           make(map[uuid.UUID]*message.Hook),
	}
	for _, o := range opts {
		o(d)
	}
	d.modules = module.NewHost(d, log)
	return d
}

// SetSender attaches the socket-owning Connection that write()/WriteRaw/
// WriteEvent deliver to. Must be called before any of those are used.
func (d *Dispatcher) SetSender(s Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// ProtocolVersion returns the currently known protocol version, or 0 if
// it hasn't been detected/set yet.
func (d *Dispatcher) ProtocolVersion() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protocolVersion
}

// LoadModule loads a module through the Dispatcher's ModuleHost.
func (d *Dispatcher) LoadModule(name string, loader module.Loader, args ...any) (module.Instance, bool) {
	return d.modules.Load(name, loader, args...)
}

// UnloadModule unloads a module through the Dispatcher's ModuleHost.
func (d *Dispatcher) UnloadModule(name string) bool {
	return d.modules.Unload(name)
}

// ResetModules unloads every loaded module, invoked when a connection
// closes.
func (d *Dispatcher) ResetModules() {
	d.modules.Reset()
}

// Hook registers a parsed hook at an explicit definition version.
func (d *Dispatcher) Hook(spec message.HookSpec, version int, cb message.ParsedCallback) message.Handle {
	return d.registerOrQueue(spec, ExactVersion(version), message.HookParsed, nil, cb)
}

// HookLatest registers a parsed hook against whatever the codec currently
// reports as the latest schema revision — the "version omitted"
// shortcut. Logs the implied-version warning unless NO_WARN_IMPLIED_VERSION
// is set.
func (d *Dispatcher) HookLatest(spec message.HookSpec, cb message.ParsedCallback) message.Handle {
	if os.Getenv("NO_WARN_IMPLIED_VERSION") == "" {
		d.log.Warnw("hook registered without an explicit version; defaulting to latest", "name", spec.Name, "module", spec.ModuleName)
	}
	return d.registerOrQueue(spec, LatestVersion(), message.HookParsed, nil, cb)
}

// HookRaw registers a raw hook, which sees undecoded message bytes.
func (d *Dispatcher) HookRaw(spec message.HookSpec, cb message.RawCallback) message.Handle {
	return d.registerOrQueue(spec, RawVersion(), message.HookRaw, cb, nil)
}

// HookVersion registers a hook from a dynamic, string-typed version token
// ("raw", ""/"*"/"latest", or an exact revision number) rather than a
// fixed Go call — the form a module configured from an external source
// (a config file, a CLI flag) needs when its hook version isn't known
// until that configuration is read. Exactly one of raw/parsed must be
// non-nil, matching the resolved token's kind; a raw callback is used
// when the token resolves to RawVersion, a parsed callback otherwise.
func (d *Dispatcher) HookVersion(spec message.HookSpec, token string, raw message.RawCallback, parsed message.ParsedCallback) message.Handle {
	v := ParseVersionArg(token)
	kind := message.HookParsed
	if v.kind == message.VersionRaw {
		kind = message.HookRaw
	}
	return d.registerOrQueue(spec, v, kind, raw, parsed)
}

func (d *Dispatcher) registerOrQueue(spec message.HookSpec, version VersionArg, kind message.HookKind, raw message.RawCallback, parsed message.ParsedCallback) message.Handle {
	if kind == message.HookRaw && raw == nil {
		d.log.Errorw("hook registration missing a callback; installing a no-op",
			"name", spec.Name, "module", spec.ModuleName,
			"err", fmt.Errorf("%w: raw hook registered with a nil callback", protoerr.ErrRegistration))
		raw = func(message.DirectionFlags, message.Opcode, []byte) message.RawOutcome { return message.RawUnchanged() }
	}
	if kind == message.HookParsed && parsed == nil {
		d.log.Errorw("hook registration missing a callback; installing a no-op",
			"name", spec.Name, "module", spec.ModuleName,
			"err", fmt.Errorf("%w: parsed hook registered with a nil callback", protoerr.ErrRegistration))
		parsed = func(message.DirectionFlags, any) bool { return true }
	}

	id := uuid.New()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.protocolVersion == 0 {
		entry := &pendingEntry{id: id, spec: spec, version: version, kind: kind, raw: raw, parsed: parsed}
		d.pending = append(d.pending, entry)
		d.pendingByID[id] = entry
		return message.Handle(id)
	}

	hook := d.buildHookLocked(spec, version, kind, raw, parsed)
	d.registry.Add(hook)
	d.liveByID[id] = hook
	return message.Handle(id)
}

// buildHookLocked resolves spec/version into a concrete *message.Hook.
// Callers must hold d.mu, and d.protocolVersion must already be known.
func (d *Dispatcher) buildHookLocked(spec message.HookSpec, version VersionArg, kind message.HookKind, raw message.RawCallback, parsed message.ParsedCallback) *message.Hook {
	forcedAny := spec.Name == "*"
	name := message.NormalizeName(spec.Name)

	if forcedAny && version.kind == message.VersionExact {
		d.log.Errorw("hook name '*' forbids an integer version; using latest instead",
			"module", spec.ModuleName,
			"err", fmt.Errorf("%w: global hook registered with an exact definition version", protoerr.ErrRegistration))
		version = LatestVersion()
	}

	filter := spec.Filter
	if !spec.FilterSet {
		filter = message.DefaultFilter()
	}

	var code message.Opcode
	if forcedAny {
		code = message.OpcodeAny
	} else if c, ok := d.codec.NameToCode(d.protocolVersion, name); ok {
		code = c
	} else {
		d.log.Errorw("hook registered against an unresolved message name; binding to _UNKNOWN",
			"name", string(name), "module", spec.ModuleName,
			"err", fmt.Errorf("%w: %q did not resolve to an opcode under protocol version %d", protoerr.ErrRegistration, name, d.protocolVersion))
		code = message.OpcodeUnknown
	}

	defVersion := toDefinitionVersion(version)
	if !forcedAny && defVersion.Kind == message.VersionExact {
		if latest, ok := d.codec.LatestDefinitionVersion(name); ok && defVersion.Value < latest {
			d.log.Warnw("hook registered against a definition version older than the latest known schema", "name", string(name), "version", defVersion.Value, "latest", latest)
		}
	}

	return &message.Hook{
		Code:              code,
		Name:              name,
		Filter:            filter,
		Order:             spec.Order,
		DefinitionVersion: defVersion,
		ModuleName:        spec.ModuleName,
		Kind:              kind,
		Raw:               raw,
		Parsed:            parsed,
	}
}

// Unhook removes a single hook, whether it is already live in the
// registry or still queued awaiting protocol-version detection.
// Idempotent.
func (d *Dispatcher) Unhook(h message.Handle) {
	id := uuid.UUID(h)
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pendingByID[id]; ok {
		delete(d.pendingByID, id)
		for i, e := range d.pending {
			if e == entry {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				break
			}
		}
		return
	}

	if hook, ok := d.liveByID[id]; ok {
		d.registry.Remove(hook)
		delete(d.liveByID, id)
	}
}

// RemoveByModule drops every hook (live or queued) registered under
// moduleName, used by ModuleHost on unload.
func (d *Dispatcher) RemoveByModule(moduleName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registry.RemoveByModule(moduleName)

	kept := d.pending[:0]
	for _, e := range d.pending {
		if e.spec.ModuleName == moduleName {
			delete(d.pendingByID, e.id)
			continue
		}
		kept = append(kept, e)
	}
	d.pending = kept

	for id, h := range d.liveByID {
		if h.ModuleName == moduleName {
			delete(d.liveByID, id)
		}
	}
}

// SetProtocolVersion records the now-known protocol version and drains
// every queued hook registration in the order it was originally made.
// A no-op once the version has already been set.
func (d *Dispatcher) SetProtocolVersion(v int) {
	d.mu.Lock()
	if v == 0 || d.protocolVersion != 0 {
		d.mu.Unlock()
		return
	}
	d.protocolVersion = v
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, e := range pending {
		d.mu.Lock()
		hook := d.buildHookLocked(e.spec, e.version, e.kind, e.raw, e.parsed)
		d.registry.Add(hook)
		d.liveByID[e.id] = hook
		delete(d.pendingByID, e.id)
		d.mu.Unlock()
	}

	d.log.Infow("protocol version resolved; drained queued hook registrations", "version", v, "count", len(pending))
}

// WriteRaw sends buf through the full hook chain as a fake, outbound
// message, then onto the wire unless a hook silenced it.
func (d *Dispatcher) WriteRaw(buf []byte, toClient bool) error {
	out := d.Handle(buf, toClient, true)
	if out.Silenced {
		return nil
	}
	return d.send(out.Data, toClient)
}

// WriteEvent serializes event via the codec under (name, version), then
// runs it through WriteRaw the same way.
func (d *Dispatcher) WriteEvent(name string, version int, event any, toClient bool) error {
	normalized := message.NormalizeName(name)
	d.mu.Lock()
	pv := d.protocolVersion
	d.mu.Unlock()

	code, ok := d.codec.NameToCode(pv, normalized)
	if !ok {
		return fmt.Errorf("dispatch: write: %w: %s", protoerr.ErrUnknownName, name)
	}
	data, err := d.codec.Write(pv, code, message.DefinitionVersion{Kind: message.VersionExact, Value: version}, event)
	if err != nil {
		return fmt.Errorf("dispatch: write: codec write failed for %s: %w", name, err)
	}
	return d.WriteRaw(data, toClient)
}

func (d *Dispatcher) send(data []byte, toClient bool) error {
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("dispatch: write: no sender attached")
	}
	if toClient {
		return sender.SendToClient(data)
	}
	return sender.SendToServer(data)
}
