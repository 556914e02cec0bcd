package engine

import (
	"runtime"
	"testing"
	"time"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
)

func requireUnixShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test drives /bin/sh")
	}
}

func TestLaunch_StreamsMergedOutputInOrder(t *testing.T) {
	requireUnixShell(t)

	p, err := Launch(LaunchSpec{
		Command: "sh",
		Args:    []string{"-c", `echo out1; echo err1 1>&2; echo out2`},
		Dir:     t.TempDir(),
	}, time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	var got []string
	for line := range p.Lines() {
		got = append(got, line)
	}
	if code := p.Wait(); code != 0 {
		t.Fatalf("exit code = %d", code)
	}

	if len(got) != 3 {
		t.Fatalf("lines = %v", got)
	}
	// Same pipe for both streams: echo ordering is preserved.
	if got[0] != "out1" || got[1] != "err1" || got[2] != "out2" {
		t.Errorf("merged order wrong: %v", got)
	}
}

func TestLaunch_MissingBinary(t *testing.T) {
	_, err := Launch(LaunchSpec{Command: "definitely-not-a-real-simulator-binary"}, time.Second)
	if !faults.IsKind(err, faults.Launch) {
		t.Fatalf("want launch fault, got %v", err)
	}

	_, err = Launch(LaunchSpec{}, time.Second)
	if !faults.IsKind(err, faults.Launch) {
		t.Fatalf("empty command: want launch fault, got %v", err)
	}
}

func TestWait_IdempotentNonZeroExit(t *testing.T) {
	requireUnixShell(t)

	p, err := Launch(LaunchSpec{Command: "sh", Args: []string{"-c", "exit 3"}}, time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	for range p.Lines() {
	}
	if code := p.Wait(); code != 3 {
		t.Fatalf("first Wait = %d, want 3", code)
	}
	if code := p.Wait(); code != 3 {
		t.Fatalf("second Wait = %d, want 3", code)
	}
}

func TestTerminate_GracefulStop(t *testing.T) {
	requireUnixShell(t)

	// trap exits 0 on TERM, proving the graceful signal landed first.
	p, err := Launch(LaunchSpec{
		Command: "sh",
		Args:    []string{"-c", `trap 'exit 0' TERM; echo ready; while true; do sleep 0.1; done`},
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if line := <-p.Lines(); line != "ready" {
		t.Fatalf("first line = %q", line)
	}

	done := make(chan int, 1)
	go func() {
		for range p.Lines() {
		}
		done <- p.Wait()
	}()

	p.Terminate()
	p.Terminate() // second call is a no-op

	select {
	case code := <-done:
		if code != 0 {
			t.Errorf("exit code = %d, want 0 from TERM trap", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process did not stop after Terminate")
	}
}

func TestTerminate_HardKillAfterGrace(t *testing.T) {
	requireUnixShell(t)

	// Ignoring TERM forces the supervisor to escalate to KILL.
	p, err := Launch(LaunchSpec{
		Command: "sh",
		Args:    []string{"-c", `trap '' TERM; echo ready; while true; do sleep 0.1; done`},
	}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if line := <-p.Lines(); line != "ready" {
		t.Fatalf("first line = %q", line)
	}

	start := time.Now()
	p.Terminate()
	for range p.Lines() {
	}
	code := p.Wait()

	if code == 0 {
		t.Error("exit code 0 after hard kill")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("termination took %s", elapsed)
	}
}

func TestLaunch_InvalidUTF8Replaced(t *testing.T) {
	requireUnixShell(t)

	p, err := Launch(LaunchSpec{
		Command: "sh",
		Args:    []string{"-c", `printf 'ok \xff\xfe end\n'`},
	}, time.Second)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	line := <-p.Lines()
	for range p.Lines() {
	}
	p.Wait()

	for _, r := range line {
		if r == 0xFFFD {
			return
		}
	}
	t.Errorf("no replacement rune in %q", line)
}
