package codec

import (
	"errors"
	"testing"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/protoerr"
)

type pingEvent struct{ N int }

func encodePing(code message.Opcode, event any) ([]byte, error) {
	e := event.(pingEvent)
	return []byte{byte(code), byte(e.N)}, nil
}

func decodePing(data []byte) (any, error) {
	return pingEvent{N: int(data[1])}, nil
}

func newTestCodec() *TableCodec {
	t := NewTableCodec()
	t.Register(1, "C_PING", 10, Schema{Version: 1, ParseFunc: decodePing, WriteFunc: encodePing})
	t.Register(1, "C_PING", 10, Schema{Version: 2, ParseFunc: decodePing, WriteFunc: encodePing})
	return t
}

func TestNameToCodeAndCodeToName(t *testing.T) {
	c := newTestCodec()

	code, ok := c.NameToCode(1, "C_PING")
	if !ok || code != 10 {
		t.Fatalf("NameToCode = (%v, %v), want (10, true)", code, ok)
	}

	name, ok := c.CodeToName(1, 10)
	if !ok || name != "C_PING" {
		t.Fatalf("CodeToName = (%v, %v), want (C_PING, true)", name, ok)
	}

	if _, ok := c.NameToCode(2, "C_PING"); ok {
		t.Fatal("NameToCode resolved under an unregistered protocol version")
	}
}

func TestLatestDefinitionVersion(t *testing.T) {
	c := newTestCodec()
	latest, ok := c.LatestDefinitionVersion("C_PING")
	if !ok || latest != 2 {
		t.Fatalf("LatestDefinitionVersion = (%v, %v), want (2, true)", latest, ok)
	}
	if _, ok := c.LatestDefinitionVersion("UNKNOWN"); ok {
		t.Fatal("LatestDefinitionVersion resolved an unregistered name")
	}
}

func TestParseWriteRoundTrip(t *testing.T) {
	c := newTestCodec()
	data, err := c.Write(1, 10, message.DefinitionVersion{Kind: message.VersionExact, Value: 1}, pingEvent{N: 42})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	event, err := c.Parse(1, 10, message.DefinitionVersion{Kind: message.VersionExact, Value: 1}, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.(pingEvent).N != 42 {
		t.Fatalf("round trip lost data: got %+v", event)
	}
}

func TestParseResolvesLatestVersion(t *testing.T) {
	c := newTestCodec()
	_, err := c.Parse(1, 10, message.DefinitionVersion{Kind: message.VersionLatest}, []byte{10, 1})
	if err != nil {
		t.Fatalf("Parse under VersionLatest: %v", err)
	}
}

func TestResolveSchemaRejectsRawVersion(t *testing.T) {
	c := newTestCodec()
	_, err := c.Parse(1, 10, message.DefinitionVersion{Kind: message.VersionRaw}, []byte{10, 1})
	if err == nil {
		t.Fatal("Parse under VersionRaw should fail; raw hooks never reach the codec")
	}
}

func TestParseUnknownOpcodeWrapsErrCodecParse(t *testing.T) {
	c := newTestCodec()
	_, err := c.Parse(1, 999, message.DefinitionVersion{Kind: message.VersionExact, Value: 1}, []byte{0, 0})
	if !errors.Is(err, protoerr.ErrCodecParse) {
		t.Fatalf("Parse error = %v, want wrapping protoerr.ErrCodecParse", err)
	}
}
