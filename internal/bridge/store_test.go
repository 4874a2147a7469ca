package bridge

import "testing"

func TestStore_SetModePublishesChangeModeEvent(t *testing.T) {
	store := NewStore(Config{})

	var got Mode
	var fired int
	store.Subscribe(KindChangeMode, ListenerFunc(func(e Event) {
		fired++
		got = e.Payload.(Mode)
	}))

	store.SetMode(ModeRouter)

	if fired != 1 {
		t.Fatalf("KindChangeMode fired %d times, want 1", fired)
	}
	if got != ModeRouter {
		t.Fatalf("mode = %v, want ROUTER", got)
	}
	if store.Mode() != ModeRouter {
		t.Fatalf("Mode() = %v, want ROUTER", store.Mode())
	}
}

func TestStore_SetModeFiresEvenWhenUnchanged(t *testing.T) {
	store := NewStore(Config{})
	store.SetMode(ModeNode)

	fired := 0
	store.Subscribe(KindChangeMode, ListenerFunc(func(e Event) { fired++ }))

	store.SetMode(ModeNode) // same mode: still publishes, per §9's open-question decision

	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestMode_String(t *testing.T) {
	if ModeNode.String() != "NODE" {
		t.Errorf("ModeNode.String() = %q, want NODE", ModeNode.String())
	}
	if ModeRouter.String() != "ROUTER" {
		t.Errorf("ModeRouter.String() = %q, want ROUTER", ModeRouter.String())
	}
}
