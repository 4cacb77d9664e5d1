package dispatch

import (
	"strconv"

	"github.com/fenwick-labs/hookproxy/internal/message"
)

// VersionArg is the caller-facing spelling of a hook's requested
// definition version: an exact revision, "whatever the codec currently
// calls latest", or "raw" (never parsed).
type VersionArg struct {
	kind  message.VersionKind
	value int
}

// ExactVersion pins a hook to schema revision v.
func ExactVersion(v int) VersionArg {
	return VersionArg{kind: message.VersionExact, value: v}
}

// LatestVersion resolves to the codec's current latest schema revision
// at the time the hook fires.
func LatestVersion() VersionArg {
	return VersionArg{kind: message.VersionLatest}
}

// RawVersion marks a hook as never parsed; it only ever sees bytes.
func RawVersion() VersionArg {
	return VersionArg{kind: message.VersionRaw}
}

// ParseVersionArg normalizes a dynamic-style version token: "raw" maps to
// RawVersion, "*"/"latest" map to LatestVersion, a parseable integer maps
// to ExactVersion, and anything else falls back to LatestVersion.
func ParseVersionArg(token string) VersionArg {
	switch token {
	case "raw":
		return RawVersion()
	case "", "*", "latest":
		return LatestVersion()
	default:
		if v, err := strconv.Atoi(token); err == nil {
			return ExactVersion(v)
		}
		return LatestVersion()
	}
}

func toDefinitionVersion(v VersionArg) message.DefinitionVersion {
	switch v.kind {
	case message.VersionExact:
		return message.DefinitionVersion{Kind: message.VersionExact, Value: v.value}
	case message.VersionRaw:
		return message.DefinitionVersion{Kind: message.VersionRaw}
	default:
		return message.DefinitionVersion{Kind: message.VersionLatest}
	}
}
