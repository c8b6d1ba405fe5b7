package connection

import (
	"sync"
	"testing"
)

// fakeFilesystem is a Filesystem with settable status flags.
type fakeFilesystem struct {
	mu      sync.Mutex
	closing bool
	closed  bool
}

func (f *fakeFilesystem) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFilesystem) Closing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closing
}

func (f *fakeFilesystem) setClosing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
}

// fakeTerminal is a no-op Terminal.
type fakeTerminal struct{}

func (fakeTerminal) Close() error { return nil }

func TestConnection_IdleTick_ClosesAfterTwoIdleTicks(t *testing.T) {
	c := &Connection{}

	if c.idleTick() {
		t.Fatal("first idle tick must not close")
	}
	if !c.idleTick() {
		t.Fatal("second consecutive idle tick must close")
	}
}

func TestConnection_IdleTick_PendingUserBlocks(t *testing.T) {
	c := &Connection{}
	c.AddPendingUser()

	for i := 0; i < 10; i++ {
		if c.idleTick() {
			t.Fatalf("tick %d closed despite pending user", i)
		}
	}

	c.FinishPendingUser()

	// Once the pending user is gone the regular two-tick countdown applies.
	if c.idleTick() {
		t.Fatal("first idle tick after release must not close")
	}
	if !c.idleTick() {
		t.Fatal("second idle tick after release must close")
	}
}

func TestConnection_IdleTick_TerminalBlocks(t *testing.T) {
	c := &Connection{}
	term := fakeTerminal{}
	c.AddTerminal(term)

	for i := 0; i < 5; i++ {
		if c.idleTick() {
			t.Fatalf("tick %d closed despite attached terminal", i)
		}
	}

	c.RemoveTerminal(term)

	if c.idleTick() {
		t.Fatal("first idle tick after detach must not close")
	}
	if !c.idleTick() {
		t.Fatal("second idle tick after detach must close")
	}
}

func TestConnection_IdleTick_FilesystemBlocksUntilClosing(t *testing.T) {
	c := &Connection{}
	fs := &fakeFilesystem{}
	c.AddFilesystem(fs)

	for i := 0; i < 5; i++ {
		if c.idleTick() {
			t.Fatalf("tick %d closed despite live filesystem", i)
		}
	}

	// A closing mount is pruned by the next tick and stops counting.
	fs.setClosing()

	if c.idleTick() {
		t.Fatal("first idle tick after prune must not close")
	}
	if len(c.Filesystems()) != 0 {
		t.Error("closing filesystem was not pruned")
	}
	if !c.idleTick() {
		t.Fatal("second idle tick after prune must close")
	}
}

func TestConnection_IdleTick_ActivityResetsCountdown(t *testing.T) {
	c := &Connection{}

	if c.idleTick() {
		t.Fatal("first idle tick must not close")
	}

	// A consumer shows up between the two idle ticks.
	term := fakeTerminal{}
	c.AddTerminal(term)
	if c.idleTick() {
		t.Fatal("tick with terminal must not close")
	}
	c.RemoveTerminal(term)

	// The countdown starts over.
	if c.idleTick() {
		t.Fatal("first idle tick after activity must not close")
	}
	if !c.idleTick() {
		t.Fatal("second idle tick after activity must close")
	}
}

func TestConnection_FinishPendingUser_NeverNegative(t *testing.T) {
	c := &Connection{}

	c.FinishPendingUser()
	c.FinishPendingUser()
	if got := c.PendingUsers(); got != 0 {
		t.Errorf("PendingUsers() = %d, want 0", got)
	}

	c.AddPendingUser()
	if got := c.PendingUsers(); got != 1 {
		t.Errorf("PendingUsers() = %d, want 1", got)
	}
}

func TestConnection_RemoveUnknownConsumersIgnored(t *testing.T) {
	c := &Connection{}

	c.RemoveTerminal(fakeTerminal{})
	c.RemoveFilesystem(&fakeFilesystem{})

	if len(c.Terminals()) != 0 || len(c.Filesystems()) != 0 {
		t.Error("registries must stay empty")
	}
}
