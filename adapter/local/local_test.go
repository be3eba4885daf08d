// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package local

import (
	"context"
	"os"
	"regexp"
	"testing"

	"github.com/bureau-foundation/overseer/overseer"
)

func testConfig() Config {
	return Config{
		WorkerBinary: "/bin/sleep",
		OverseerAddr: "127.0.0.1:7891",
		OverseerID:   "ov-test",
	}
}

func TestNewRequiresBinaryAndAddress(t *testing.T) {
	if _, err := New(Config{OverseerAddr: "a", OverseerID: "b"}); err == nil {
		t.Error("New accepted config without WorkerBinary")
	}
	if _, err := New(Config{WorkerBinary: "/bin/true"}); err == nil {
		t.Error("New accepted config without overseer address")
	}
	if _, err := New(testConfig()); err != nil {
		t.Errorf("New rejected valid config: %v", err)
	}
}

func TestSpawnNameFormat(t *testing.T) {
	adapter, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// /bin/sleep exits immediately on the unknown flags; that is
	// fine — the test only cares about the returned labor.
	labor, err := adapter.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer adapter.Terminate(context.Background(), labor)

	hostname, _ := os.Hostname()
	pattern := regexp.MustCompile(`^w-[0-9a-f]{6}@` + regexp.QuoteMeta(hostname) + `$`)
	if !pattern.MatchString(labor.Name) {
		t.Errorf("name %q does not match prefix-random@host", labor.Name)
	}
	if labor.Phase != overseer.PhaseSpawning {
		t.Errorf("phase = %s, want spawning", labor.Phase)
	}
	if _, ok := labor.Handle.(int); !ok {
		t.Errorf("handle = %T, want int pid", labor.Handle)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	adapter, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	labor, err := adapter.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	terminated, err := adapter.Terminate(context.Background(), labor)
	if err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	if terminated.Phase != overseer.PhaseTerminated {
		t.Errorf("phase = %s, want terminated", terminated.Phase)
	}

	// The group is gone; a second terminate must still succeed.
	if _, err := adapter.Terminate(context.Background(), terminated); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

func TestTerminateRejectsForeignHandle(t *testing.T) {
	adapter, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	labor := &overseer.Labor{Name: "w-1@host", Handle: "i-0abc"}
	if _, err := adapter.Terminate(context.Background(), labor); err == nil {
		t.Error("Terminate accepted a non-pid handle")
	}
}

func TestConnectIsNoOp(t *testing.T) {
	adapter, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := adapter.Connect(context.Background(), &overseer.Labor{Name: "w-1@host"}); err != nil {
		t.Errorf("Connect: %v", err)
	}
}
