package codec

import (
	"fmt"
	"sync"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

// Schema describes one versioned message shape: a parse/write function
// pair. TableCodec does no byte-level interpretation itself; it only
// dispatches to whichever Schema a (name, protocolVersion, definition
// version) triple resolves to.
type Schema struct {
	Version int
	// ParseFunc decodes a full, header-included message buffer (the
	// opcode is already embedded in it).
	ParseFunc func(data []byte) (any, error)
	// WriteFunc encodes event back into a full, header-included message
	// buffer; code is passed in since the event type doesn't carry it.
	WriteFunc func(code message.Opcode, event any) ([]byte, error)
}

type nameEntry struct {
	schemas map[int]Schema
}

type versionMaps struct {
	nameToCode map[message.MessageName]message.Opcode
	codeToName map[message.Opcode]message.MessageName
}

// TableCodec is a small in-memory reference Codec, used by tests and as
// cmd/proxy's default. Real deployments would swap it for a generated
// codec against the target game's actual schema table.
type TableCodec struct {
	mu        sync.RWMutex
	byVersion map[int]*versionMaps
	names     map[message.MessageName]*nameEntry
}

// NewTableCodec returns an empty TableCodec; call Register to populate it.
func NewTableCodec() *TableCodec {
	return &TableCodec{
		byVersion: make(map[int]*versionMaps),
		names:     make(map[message.MessageName]*nameEntry),
	}
}

// Register binds name to code under protocolVersion and attaches schema
// so later Parse/Write calls under protocolVersion can resolve it.
func (t *TableCodec) Register(protocolVersion int, name message.MessageName, code message.Opcode, schema Schema) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vm, ok := t.byVersion[protocolVersion]
	if !ok {
		vm = &versionMaps{
			nameToCode: make(map[message.MessageName]message.Opcode),
			codeToName: make(map[message.Opcode]message.MessageName),
		}
		t.byVersion[protocolVersion] = vm
	}
	vm.nameToCode[name] = code
	vm.codeToName[code] = name

	ne, ok := t.names[name]
	if !ok {
		ne = &nameEntry{schemas: make(map[int]Schema)}
		t.names[name] = ne
	}
	ne.schemas[schema.Version] = schema
}

// NameToCode implements Codec.
func (t *TableCodec) NameToCode(protocolVersion int, name message.MessageName) (message.Opcode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vm, ok := t.byVersion[protocolVersion]
	if !ok {
		return 0, false
	}
	code, ok := vm.nameToCode[name]
	return code, ok
}

// CodeToName implements Codec.
func (t *TableCodec) CodeToName(protocolVersion int, code message.Opcode) (message.MessageName, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vm, ok := t.byVersion[protocolVersion]
	if !ok {
		return "", false
	}
	name, ok := vm.codeToName[code]
	return name, ok
}

// LatestDefinitionVersion implements Codec.
func (t *TableCodec) LatestDefinitionVersion(name message.MessageName) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ne, ok := t.names[name]
	if !ok {
		return 0, false
	}
	latest := 0
	for v := range ne.schemas {
		if v > latest {
			latest = v
		}
	}
	return latest, latest > 0
}

func (t *TableCodec) resolveSchema(protocolVersion int, code message.Opcode, version message.DefinitionVersion) (Schema, error) {
	if version.Kind == message.VersionRaw {
		return Schema{}, fmt.Errorf("codec: resolveSchema called with a raw-version hook")
	}

	name, ok := t.CodeToName(protocolVersion, code)
	if !ok {
		return Schema{}, fmt.Errorf("%w: opcode %d has no name under protocol version %d", protoerr.ErrCodecParse, code, protocolVersion)
	}

	t.mu.RLock()
	ne, ok := t.names[name]
	t.mu.RUnlock()
	if !ok {
		return Schema{}, fmt.Errorf("%w: no schema registered for %s", protoerr.ErrCodecParse, name)
	}

	v := version.Value
	if version.Kind == message.VersionLatest {
		latest, ok := t.LatestDefinitionVersion(name)
		if !ok {
			return Schema{}, fmt.Errorf("%w: no schema registered for %s", protoerr.ErrCodecParse, name)
		}
		v = latest
	}

	t.mu.RLock()
	s, ok := ne.schemas[v]
	t.mu.RUnlock()
	if !ok {
		return Schema{}, fmt.Errorf("%w: missing schema v%d for %s", protoerr.ErrCodecParse, v, name)
	}
	return s, nil
}

// Parse implements Codec.
func (t *TableCodec) Parse(protocolVersion int, code message.Opcode, version message.DefinitionVersion, data []byte) (any, error) {
	s, err := t.resolveSchema(protocolVersion, code, version)
	if err != nil {
		return nil, err
	}
	event, err := s.ParseFunc(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCodecParse, err)
	}
	return event, nil
}

// Write implements Codec.
func (t *TableCodec) Write(protocolVersion int, code message.Opcode, version message.DefinitionVersion, event any) ([]byte, error) {
	s, err := t.resolveSchema(protocolVersion, code, version)
	if err != nil {
		return nil, err
	}
	data, err := s.WriteFunc(code, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCodecWrite, err)
	}
	return data, nil
}
