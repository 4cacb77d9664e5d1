// Package message defines the data model shared by the dispatch engine:
// opcodes, message names, versioned schema references, hook filters, and
// the hook/registry records that internal/hooks and internal/dispatch
// build on top of.
package message

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Opcode identifies a wire message type. Real wire opcodes are the 16-bit
// values the codec resolves names to (0..65535); two negative sentinels
// stand in for the registry's "any opcode" and "unresolved name" cases so
// they never collide with a legitimate opcode.
type Opcode int32

const (
	// OpcodeAny is the registry key for hooks registered against the
	// special name "*" — fires for every message regardless of opcode.
	OpcodeAny Opcode = -1
	// OpcodeUnknown is bound to hooks whose name the codec could not
	// resolve to an opcode under the current protocol version.
	OpcodeUnknown Opcode = -2
)

// MessageName is a canonical, normalized message identifier such as
// "S_LOGIN" or "C_CHECK_VERSION".
type MessageName string

// NormalizeName canonicalizes a raw hook registration name per the rule:
// the literal "sF2pPremiumUserPermission" has a hardcoded special-case
// mapping; otherwise, if the name contains no underscore, every uppercase
// letter is prefixed with an underscore and the result is upper-cased;
// any name already containing an underscore passes through unchanged.
func NormalizeName(input string) MessageName {
	if input == "sF2pPremiumUserPermission" {
		return MessageName("S_F2P_PremiumUser_Permission")
	}
	if input == "*" {
		return MessageName("*")
	}
	if strings.Contains(input, "_") {
		return MessageName(input)
	}

	var b strings.Builder
	for _, r := range input {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return MessageName(strings.ToUpper(b.String()))
}

// VersionKind distinguishes the three shapes a DefinitionVersion can take.
type VersionKind int

const (
	// VersionExact pins a hook to one specific schema revision.
	VersionExact VersionKind = iota
	// VersionLatest resolves to whatever the codec currently reports as
	// the newest schema revision for a name.
	VersionLatest
	// VersionRaw means the hook never goes through codec parse/write; it
	// only ever sees undecoded bytes.
	VersionRaw
)

// DefinitionVersion is the resolved version a hook was registered against.
type DefinitionVersion struct {
	Kind  VersionKind
	Value int // meaningful only when Kind == VersionExact
}

// Filter is a tri-state predicate over DirectionFlags: a nil field means
// "don't care", a non-nil field must equal the corresponding flag for the
// hook to fire. DefaultFilter's non-nil fields (Fake, Silenced both false)
// match ordinary, unsilenced traffic.
type Filter struct {
	Fake     *bool
	Incoming *bool
	Modified *bool
	Silenced *bool
}

// DefaultFilter returns the filter applied when a hook spec doesn't set
// one explicitly: skip fake (synthetic) traffic, skip already-silenced
// messages, don't care about direction or prior modification.
func DefaultFilter() Filter {
	f := false
	return Filter{Fake: &f, Silenced: &f}
}

// Matches reports whether flags satisfies every non-nil field of f.
func (f Filter) Matches(flags DirectionFlags) bool {
	if f.Fake != nil && *f.Fake != flags.Fake {
		return false
	}
	if f.Incoming != nil && *f.Incoming != flags.Incoming {
		return false
	}
	if f.Modified != nil && *f.Modified != flags.Modified {
		return false
	}
	if f.Silenced != nil && *f.Silenced != flags.Silenced {
		return false
	}
	return true
}

// DirectionFlags is the read-only snapshot ($fake/$incoming/$modified/
// $silenced) passed to every hook invocation for a message.
type DirectionFlags struct {
	Fake     bool
	Incoming bool
	Modified bool
	Silenced bool
}

// RawOutcomeKind tags which of the three shapes a RawCallback returned.
type RawOutcomeKind int

const (
	// RawOutcomeNone means the callback returned no explicit signal; the
	// dispatcher recomputes Modified by comparing the buffer against the
	// pre-chain snapshot (the callback may have mutated it in place).
	RawOutcomeNone RawOutcomeKind = iota
	// RawOutcomeBuffer carries a buffer the callback wants used in place
	// of the one it was given.
	RawOutcomeBuffer
	// RawOutcomeBool carries an explicit silence/un-silence signal.
	RawOutcomeBool
)

// RawOutcome is the return value of a RawCallback.
type RawOutcome struct {
	kind RawOutcomeKind
	data []byte
	flag bool
}

// RawUnchanged signals that the callback made no explicit buffer or
// silence decision.
func RawUnchanged() RawOutcome { return RawOutcome{kind: RawOutcomeNone} }

// RawBuffer signals that the callback wants buf used as the message body
// from here on.
func RawBuffer(buf []byte) RawOutcome { return RawOutcome{kind: RawOutcomeBuffer, data: buf} }

// RawSilence signals silencing (unsilence=false) or un-silencing
// (unsilence=true) of the current message.
func RawSilence(unsilence bool) RawOutcome { return RawOutcome{kind: RawOutcomeBool, flag: unsilence} }

// Kind reports which outcome shape this is.
func (o RawOutcome) Kind() RawOutcomeKind { return o.kind }

// Data returns the replacement buffer for a RawOutcomeBuffer outcome.
func (o RawOutcome) Data() []byte { return o.data }

// Flag returns the silence/un-silence signal for a RawOutcomeBool outcome.
func (o RawOutcome) Flag() bool { return o.flag }

// RawCallback sees the undecoded message body. It may mutate data in
// place, or signal its outcome explicitly via the returned RawOutcome.
type RawCallback func(ctx DirectionFlags, code Opcode, data []byte) RawOutcome

// ParsedCallback sees a codec-parsed event. Returning true clears
// silencing and re-serializes event via the codec (marking the message
// modified whether or not the callback changed event); returning false
// silences the message.
type ParsedCallback func(ctx DirectionFlags, event any) bool

// HookKind distinguishes raw hooks (see bytes) from parsed hooks (see a
// codec-decoded event).
type HookKind int

const (
	HookParsed HookKind = iota
	HookRaw
)

// Hook is one registered callback: an opcode/filter/order binding plus
// the callback itself. Identity is by pointer — two structurally equal
// Hook values created separately are distinct registrations.
type Hook struct {
	Code              Opcode
	Name              MessageName
	Filter            Filter
	Order             int32
	DefinitionVersion DefinitionVersion
	ModuleName        string
	Kind              HookKind
	Raw               RawCallback
	Parsed            ParsedCallback
}

// HookGroup is every hook registered at one Order for one opcode (or the
// "*" global slot), in registration order.
type HookGroup struct {
	Order int32
	Hooks []*Hook
}

// HookSpec is the builder used to describe a hook registration before it
// is resolved into a Hook by the dispatcher (name resolution needs the
// live protocol version, which HookSpec itself doesn't carry).
type HookSpec struct {
	Name       string
	Order      int32
	Filter     Filter
	FilterSet  bool
	ModuleName string
}

// NewHookSpec starts a HookSpec for name with the default filter.
func NewHookSpec(name string) HookSpec {
	return HookSpec{Name: name, Filter: DefaultFilter()}
}

// WithOrder returns a copy of s with Order set.
func (s HookSpec) WithOrder(order int32) HookSpec {
	s.Order = order
	return s
}

// WithFilter returns a copy of s with an explicit filter, overriding the
// default.
func (s HookSpec) WithFilter(f Filter) HookSpec {
	s.Filter = f
	s.FilterSet = true
	return s
}

// WithModule returns a copy of s tagged with the owning module's name, so
// the registry can revoke it on unload.
func (s HookSpec) WithModule(name string) HookSpec {
	s.ModuleName = name
	return s
}

// Handle is an opaque reference returned by a hook registration, used to
// unhook it later. It is valid whether the underlying Hook is already
// live in the registry or still queued awaiting protocol-version
// detection.
type Handle uuid.UUID

// NilHandle is the zero Handle; no registration ever produces it.
var NilHandle Handle
