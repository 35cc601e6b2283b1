package ports

import (
	"context"
	"testing"
)

func TestCommandResult_Success(t *testing.T) {
	result := CommandResult{
		ExitCode: 0,
		Stdout:   "output",
	}

	if !result.Success() {
		t.Error("Success() should be true for exit code 0")
	}
}

func TestCommandResult_Failure(t *testing.T) {
	result := CommandResult{
		ExitCode: 1,
		Stderr:   "error",
	}

	if result.Success() {
		t.Error("Success() should be false for non-zero exit code")
	}
}

func TestMockCommandRunner(t *testing.T) {
	runner := NewMockCommandRunner()
	runner.AddResult("crio", []string{"version"}, CommandResult{
		ExitCode: 0,
		Stdout:   "Version:  1.33.2",
	})

	result, err := runner.Run(context.Background(), "crio", "version")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Stdout != "Version:  1.33.2" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "Version:  1.33.2")
	}
}

func TestMockCommandRunner_NotFound(t *testing.T) {
	runner := NewMockCommandRunner()

	_, err := runner.Run(context.Background(), "unknown", "command")
	if err == nil {
		t.Error("Run() should return error for unregistered command")
	}
}

func TestMockCommandRunner_RecordsCalls(t *testing.T) {
	runner := NewMockCommandRunner()
	runner.AddResult("modprobe", []string{"overlay"}, CommandResult{ExitCode: 0})
	runner.AddResult("modprobe", []string{"br_netfilter"}, CommandResult{ExitCode: 0})

	_, _ = runner.Run(context.Background(), "modprobe", "overlay")
	_, _ = runner.Run(context.Background(), "modprobe", "br_netfilter")

	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls() len = %d, want 2", len(calls))
	}
	if calls[0].Command != "modprobe" {
		t.Errorf("calls[0].Command = %q, want %q", calls[0].Command, "modprobe")
	}
	if calls[0].Args[0] != "overlay" {
		t.Errorf("calls[0].Args = %v, want [overlay]", calls[0].Args)
	}
	if !runner.CalledWith("modprobe", "br_netfilter") {
		t.Error("CalledWith(modprobe br_netfilter) should be true")
	}
	if runner.CalledWith("modprobe", "vfat") {
		t.Error("CalledWith(modprobe vfat) should be false")
	}
}

func TestMemFileSystem_RoundTrip(t *testing.T) {
	fs := NewMemFileSystem()

	if fs.Exists("/etc/fstab") {
		t.Error("Exists() should be false before write")
	}

	if err := fs.WriteFile("/etc/fstab", []byte("tmpfs /tmp tmpfs defaults 0 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := fs.ReadFile("/etc/fstab")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "tmpfs /tmp tmpfs defaults 0 0\n" {
		t.Errorf("ReadFile() = %q", data)
	}
	if fs.Perm("/etc/fstab") != 0o644 {
		t.Errorf("Perm() = %v, want 0644", fs.Perm("/etc/fstab"))
	}

	if err := fs.Remove("/etc/fstab"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := fs.ReadFile("/etc/fstab"); err == nil {
		t.Error("ReadFile() should fail after Remove()")
	}
}
