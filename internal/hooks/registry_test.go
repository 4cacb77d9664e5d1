package hooks

import (
	"testing"

	"github.com/fenwick-labs/hookproxy/internal/message"
)

func newHook(order int32, name string) *message.Hook {
	return &message.Hook{Code: 10, Name: message.MessageName(name), Order: order, ModuleName: name}
}

func names(hooks []*message.Hook) []string {
	out := make([]string, len(hooks))
	for i, h := range hooks {
		out[i] = string(h.Name)
	}
	return out
}

func TestMergedIterateOrdersAscendingWithGlobalsWinningTies(t *testing.T) {
	r := New()

	specific10 := newHook(10, "specific-10")
	global10 := &message.Hook{Code: message.OpcodeAny, Order: 10, Name: "global-10"}
	specific5 := newHook(5, "specific-5")
	global20 := &message.Hook{Code: message.OpcodeAny, Order: 20, Name: "global-20"}

	r.Add(specific10)
	r.Add(global10)
	r.Add(specific5)
	r.Add(global20)

	got := names(r.MergedIterate(10))
	want := []string{"specific-5", "global-10", "specific-10", "global-20"}
	if len(got) != len(want) {
		t.Fatalf("MergedIterate = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MergedIterate = %v, want %v", got, want)
		}
	}
}

func TestAddPreservesRegistrationOrderWithinAGroup(t *testing.T) {
	r := New()
	a := newHook(0, "a")
	b := newHook(0, "b")
	c := newHook(0, "c")
	r.Add(a)
	r.Add(b)
	r.Add(c)

	got := names(r.MergedIterate(10))
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MergedIterate = %v, want %v", got, want)
		}
	}
}

func TestRemoveIsIdempotentAndDropsEmptyGroups(t *testing.T) {
	r := New()
	a := newHook(0, "a")
	r.Add(a)
	r.Remove(a)
	r.Remove(a) // second call must not panic

	if got := r.MergedIterate(10); len(got) != 0 {
		t.Fatalf("MergedIterate after Remove = %v, want empty", got)
	}
}

func TestRemoveByModuleDropsOnlyMatchingHooksAcrossOpcodes(t *testing.T) {
	r := New()
	modA1 := &message.Hook{Code: 1, Order: 0, Name: "a1", ModuleName: "mod-a"}
	modA2 := &message.Hook{Code: 2, Order: 0, Name: "a2", ModuleName: "mod-a"}
	modB1 := &message.Hook{Code: 1, Order: 0, Name: "b1", ModuleName: "mod-b"}

	r.Add(modA1)
	r.Add(modA2)
	r.Add(modB1)

	r.RemoveByModule("mod-a")

	if got := names(r.MergedIterate(1)); len(got) != 1 || got[0] != "b1" {
		t.Fatalf("MergedIterate(1) after RemoveByModule = %v, want [b1]", got)
	}
	if got := r.MergedIterate(2); len(got) != 0 {
		t.Fatalf("MergedIterate(2) after RemoveByModule = %v, want empty", got)
	}
}

func TestMergedIterateReturnsNilWhenNothingRegistered(t *testing.T) {
	r := New()
	if got := r.MergedIterate(999); got != nil {
		t.Fatalf("MergedIterate on empty registry = %v, want nil", got)
	}
}
