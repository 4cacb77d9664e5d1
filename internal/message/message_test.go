package message

import "testing"

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want MessageName
	}{
		{"already normalized passes through", "C_CHECK_VERSION", "C_CHECK_VERSION"},
		{"camel case gets underscored and upper-cased", "sLogin", "S_LOGIN"},
		{"wildcard passes through unchanged", "*", "*"},
		{"hardcoded special case", "sF2pPremiumUserPermission", "S_F2P_PremiumUser_Permission"},
		{"lower case alone with no underscore and no uppercase", "ping", "PING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeName(tt.in); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	yes, no := true, false

	tests := []struct {
		name  string
		f     Filter
		flags DirectionFlags
		want  bool
	}{
		{"default filter matches ordinary traffic", DefaultFilter(), DirectionFlags{}, true},
		{"default filter rejects fake traffic", DefaultFilter(), DirectionFlags{Fake: true}, false},
		{"default filter rejects already-silenced traffic", DefaultFilter(), DirectionFlags{Silenced: true}, false},
		{"nil fields don't care", Filter{}, DirectionFlags{Fake: true, Incoming: true, Modified: true, Silenced: true}, true},
		{"incoming-only filter matches incoming", Filter{Incoming: &yes}, DirectionFlags{Incoming: true}, true},
		{"incoming-only filter rejects outgoing", Filter{Incoming: &yes}, DirectionFlags{Incoming: false}, false},
		{"explicit false matches false", Filter{Modified: &no}, DirectionFlags{Modified: false}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(tt.flags); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawOutcomeConstructors(t *testing.T) {
	if k := RawUnchanged().Kind(); k != RawOutcomeNone {
		t.Errorf("RawUnchanged().Kind() = %v, want RawOutcomeNone", k)
	}

	buf := []byte{1, 2, 3}
	o := RawBuffer(buf)
	if o.Kind() != RawOutcomeBuffer {
		t.Errorf("RawBuffer().Kind() = %v, want RawOutcomeBuffer", o.Kind())
	}
	if string(o.Data()) != string(buf) {
		t.Errorf("RawBuffer().Data() = %v, want %v", o.Data(), buf)
	}

	s := RawSilence(true)
	if s.Kind() != RawOutcomeBool {
		t.Errorf("RawSilence().Kind() = %v, want RawOutcomeBool", s.Kind())
	}
	if !s.Flag() {
		t.Errorf("RawSilence(true).Flag() = false, want true")
	}
}

func TestHookSpecBuilder(t *testing.T) {
	base := NewHookSpec("sLogin")
	if base.FilterSet {
		t.Errorf("NewHookSpec should not mark FilterSet")
	}

	withOrder := base.WithOrder(5)
	if base.Order != 0 {
		t.Errorf("WithOrder mutated the receiver; base.Order = %d, want 0", base.Order)
	}
	if withOrder.Order != 5 {
		t.Errorf("withOrder.Order = %d, want 5", withOrder.Order)
	}

	withModule := withOrder.WithModule("demo")
	if withOrder.ModuleName != "" {
		t.Errorf("WithModule mutated the receiver; withOrder.ModuleName = %q, want empty", withOrder.ModuleName)
	}
	if withModule.ModuleName != "demo" {
		t.Errorf("withModule.ModuleName = %q, want %q", withModule.ModuleName, "demo")
	}
	if withModule.Order != 5 {
		t.Errorf("chained builder lost Order; got %d, want 5", withModule.Order)
	}
}

func TestNilHandleIsZero(t *testing.T) {
	var h Handle
	if h != NilHandle {
		t.Errorf("zero Handle should equal NilHandle")
	}
}
