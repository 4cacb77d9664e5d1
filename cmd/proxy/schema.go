package main

import (
	"encoding/binary"
	"fmt"

	"github.com/fenwick-labs/hookproxy/internal/codec"
	"github.com/fenwick-labs/hookproxy/internal/config"
	"github.com/fenwick-labs/hookproxy/internal/message"
)

// ChatEvent is the parsed shape of C_CHAT/S_CHAT: a single UTF-8 text
// field. Parse returns a pointer so hooks can mutate it in place before
// the dispatcher re-serializes it.
type ChatEvent struct {
	Text string
}

// buildDemoCodec returns a TableCodec carrying just enough schema to
// exercise the pipeline end to end: C_CHECK_VERSION under the earliest
// known revision (so protocol-version auto-detection has something real
// to parse), plus a C_CHAT/S_CHAT pair the example modules hook against.
// A real deployment replaces this with a codec generated against the
// target game's actual schema table.
func buildDemoCodec(cfg *config.Config) *codec.TableCodec {
	t := codec.NewTableCodec()

	checkVersionOpcode := message.Opcode(cfg.Protocol.CheckVersionOpcode)
	earliest := cfg.Protocol.EarliestKnownVersion

	for _, pv := range []int{earliest, earliest + 1} {
		t.Register(pv, "C_CHECK_VERSION", checkVersionOpcode, codec.Schema{
			Version:   earliest,
			ParseFunc: parseCheckVersion,
			WriteFunc: writeCheckVersion,
		})
		t.Register(pv, "C_CHAT", 100, codec.Schema{Version: 1, ParseFunc: parseChat, WriteFunc: writeChat})
		t.Register(pv, "S_CHAT", 101, codec.Schema{Version: 1, ParseFunc: parseChat, WriteFunc: writeChat})
	}

	return t
}

func parseCheckVersion(data []byte) (any, error) {
	body := data[message.HeaderSize:]
	if len(body) < 4 {
		return nil, fmt.Errorf("check-version payload too short")
	}
	v := int(binary.LittleEndian.Uint32(body[:4]))
	return codec.CheckVersionEvent{Version: []codec.VersionEntry{{Index: 0, Value: v}}}, nil
}

func writeCheckVersion(code message.Opcode, event any) ([]byte, error) {
	cv, ok := event.(codec.CheckVersionEvent)
	if !ok {
		return nil, fmt.Errorf("writeCheckVersion: unexpected event type %T", event)
	}
	v := 0
	for _, e := range cv.Version {
		if e.Index == 0 {
			v = e.Value
		}
	}
	buf := make([]byte, message.HeaderSize+4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(code))
	binary.LittleEndian.PutUint32(buf[message.HeaderSize:], uint32(v))
	return buf, nil
}

func parseChat(data []byte) (any, error) {
	body := data[message.HeaderSize:]
	if len(body) < 2 {
		return nil, fmt.Errorf("chat payload too short")
	}
	n := int(binary.LittleEndian.Uint16(body[:2]))
	if n > len(body)-2 {
		return nil, fmt.Errorf("chat payload length %d exceeds buffer", n)
	}
	return &ChatEvent{Text: string(body[2 : 2+n])}, nil
}

func writeChat(code message.Opcode, event any) ([]byte, error) {
	ev, ok := event.(*ChatEvent)
	if !ok {
		return nil, fmt.Errorf("writeChat: unexpected event type %T", event)
	}
	text := []byte(ev.Text)

	total := message.HeaderSize + 2 + len(text)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(code))
	binary.LittleEndian.PutUint16(buf[message.HeaderSize:message.HeaderSize+2], uint16(len(text)))
	copy(buf[message.HeaderSize+2:], text)
	return buf, nil
}
