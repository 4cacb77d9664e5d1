package dispatch

import (
	"bytes"
	"fmt"

	"github.com/fenwick-labs/hookproxy/internal/codec"
	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

// Handle runs data through the merged hook chain for its opcode:
//
//  1. Extract the opcode from data's header.
//  2. If the protocol version is still unknown and the opcode is
//     C_CHECK_VERSION, attempt to parse it under the earliest known
//     schema revision and resolve the protocol version from it.
//  3. Merge global and opcode-specific hooks, globals winning order ties.
//  4. If there are no applicable hooks, return data unchanged.
//  5. Run every hook whose filter matches the current DirectionFlags,
//     raw hooks against bytes, parsed hooks against a codec-decoded
//     event; a parse failure aborts the remaining chain for this message
//     (logged, current buffer returned as-is), a hook panic is logged
//     and treated as a no-op for that hook only.
//  6. Return the final buffer and whether the message ended up silenced.
func (d *Dispatcher) Handle(data []byte, incoming, fake bool) Outcome {
	if len(data) < message.HeaderSize {
		d.log.Errorw("dispatch: handle called with a sub-header buffer", "len", len(data))
		return Outcome{Data: data}
	}
	code := message.FrameOpcode(data)

	d.mu.Lock()
	unknownVersion := d.protocolVersion == 0
	checkOpcode := d.checkVersionOpcode
	d.mu.Unlock()
	if unknownVersion && code == checkOpcode {
		d.tryDetectProtocolVersion(data)
	}

	d.mu.Lock()
	merged := d.registry.MergedIterate(code)
	protocolVersion := d.protocolVersion
	d.mu.Unlock()

	if len(merged) == 0 {
		return Outcome{Data: data}
	}

	original := append([]byte(nil), data...)
	flags := message.DirectionFlags{Fake: fake, Incoming: incoming}

	for _, hook := range merged {
		if !hook.Filter.Matches(flags) {
			continue
		}

		switch hook.Kind {
		case message.HookRaw:
			data = d.invokeRaw(hook, code, data, &flags, original)
		default:
			var aborted bool
			data, aborted = d.invokeParsed(hook, code, protocolVersion, data, &flags)
			if aborted {
				return Outcome{Data: data, Silenced: flags.Silenced}
			}
		}
	}

	return Outcome{Data: data, Silenced: flags.Silenced}
}

func (d *Dispatcher) invokeRaw(hook *message.Hook, code message.Opcode, data []byte, flags *message.DirectionFlags, original []byte) (out []byte) {
	out = data
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("hook panicked", "hook", string(hook.Name), "module", hook.ModuleName,
				"err", fmt.Errorf("%w: %v", protoerr.ErrHook, r))
		}
	}()

	outcome := hook.Raw(*flags, code, data)
	switch outcome.Kind() {
	case message.RawOutcomeBuffer:
		newData := outcome.Data()
		if !bytes.Equal(newData, data) {
			flags.Modified = true
		}
		return newData
	case message.RawOutcomeBool:
		flags.Silenced = !outcome.Flag()
		return data
	default:
		if !bytes.Equal(data, original) {
			flags.Modified = true
		}
		return data
	}
}

func (d *Dispatcher) invokeParsed(hook *message.Hook, code message.Opcode, protocolVersion int, data []byte, flags *message.DirectionFlags) (out []byte, aborted bool) {
	event, err := d.codec.Parse(protocolVersion, code, hook.DefinitionVersion, data)
	if err != nil {
		d.log.Errorw("codec parse failed; aborting remaining hook chain for this message",
			"hook", string(hook.Name), "module", hook.ModuleName, "opcode", int32(code),
			"hex", protoerr.HexDump(data), "err", err)
		return data, true
	}

	out = data
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("hook panicked", "hook", string(hook.Name), "module", hook.ModuleName,
				"err", fmt.Errorf("%w: %v", protoerr.ErrHook, r))
		}
	}()

	if !hook.Parsed(*flags, event) {
		flags.Silenced = true
		return out, false
	}

	flags.Silenced = false
	newData, err := d.codec.Write(protocolVersion, code, hook.DefinitionVersion, event)
	if err != nil {
		d.log.Errorw("codec write failed; leaving buffer unchanged",
			"hook", string(hook.Name), "module", hook.ModuleName, "opcode", int32(code),
			"hex", protoerr.HexDump(out), "err", err)
		return out, false
	}
	flags.Modified = true
	out = newData
	return out, false
}

func (d *Dispatcher) tryDetectProtocolVersion(data []byte) {
	version, err := d.codec.Parse(d.earliestVersion, d.checkVersionOpcode, message.DefinitionVersion{Kind: message.VersionExact, Value: d.earliestVersion}, data)
	if err != nil {
		d.log.Warnw("failed to parse C_CHECK_VERSION under the earliest known schema", "hex", protoerr.HexDump(data), "err", err)
		return
	}
	v, ok := extractVersionZero(version)
	if !ok {
		d.log.Warnw("C_CHECK_VERSION event did not carry a Version[0] entry with Index 0")
		return
	}
	d.SetProtocolVersion(v)
}

func extractVersionZero(event any) (int, bool) {
	var cv codec.CheckVersionEvent
	switch e := event.(type) {
	case codec.CheckVersionEvent:
		cv = e
	case *codec.CheckVersionEvent:
		cv = *e
	default:
		return 0, false
	}
	if len(cv.Version) == 0 || cv.Version[0].Index != 0 {
		return 0, false
	}
	return cv.Version[0].Value, true
}
