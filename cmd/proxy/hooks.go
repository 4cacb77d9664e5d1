package main

import (
	"strings"

	"github.com/fenwick-labs/hookproxy/internal/message"
	"github.com/fenwick-labs/hookproxy/internal/module"
	"github.com/fenwick-labs/hookproxy/pkg/logger"
)

// ─── Logging module ─────────────────────────────────────────────────────

// loggingModule logs every message that reaches the dispatcher.
type loggingModule struct {
	log logger.Logger
}

func newLoggingModule(w *module.Wrapper, args ...any) (module.Instance, error) {
	log := args[0].(logger.Logger)
	m := &loggingModule{log: log}
	w.HookRaw(message.NewHookSpec("*").WithOrder(-1000).WithFilter(message.Filter{}), m.onMessage)
	return m, nil
}

func (m *loggingModule) onMessage(ctx message.DirectionFlags, code message.Opcode, data []byte) message.RawOutcome {
	dir := "client->server"
	if ctx.Incoming {
		dir = "server->client"
	}
	m.log.Debugw("message", "dir", dir, "opcode", int32(code), "len", len(data), "fake", ctx.Fake)
	return message.RawUnchanged()
}

// ─── Chat-shout module ──────────────────────────────────────────────────

// chatShoutModule intercepts the client chat command "/shout <text>",
// consumes it (the original is never forwarded), and re-injects an
// upper-cased S_CHAT toward the client in its place: intercept a command
// client-side, never let it reach the backend, respond by injecting a
// synthetic event.
type chatShoutModule struct {
	log logger.Logger
	w   *module.Wrapper
}

func newChatShoutModule(w *module.Wrapper, args ...any) (module.Instance, error) {
	log := args[0].(logger.Logger)
	m := &chatShoutModule{log: log, w: w}

	// The definition version is a string token rather than a fixed call
	// because it comes from the module's own load-time args, not a
	// compile-time constant — a config-driven deployment can pass any of
	// "latest"/"*"/"" or an exact revision number here without this file
	// changing.
	versionToken := "latest"
	if len(args) > 1 {
		versionToken = args[1].(string)
	}
	w.HookVersion(message.NewHookSpec("C_CHAT").WithModule(w.Name()), versionToken, nil, m.onChat)
	return m, nil
}

func (m *chatShoutModule) onChat(ctx message.DirectionFlags, event any) bool {
	chat, ok := event.(*ChatEvent)
	if !ok {
		return true
	}
	const prefix = "/shout "
	if !strings.HasPrefix(chat.Text, prefix) {
		return true
	}

	shouted := strings.ToUpper(strings.TrimPrefix(chat.Text, prefix))
	m.log.Infow("shout command intercepted", "text", shouted)

	if err := m.w.SendEventToClient("S_CHAT", 1, &ChatEvent{Text: shouted}); err != nil {
		m.log.Warnw("failed to inject shout reply", "err", err)
	}

	return false // silence the original /shout command; never reaches the server
}
