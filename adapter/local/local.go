// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package local is the overseer adapter for workers running as OS
// processes on the overseer's own host. Spawn execs the worker shim
// binary in its own process group; Terminate kills the group, so
// release processes started by the shim die with it.
//
// Used in development and tests, and in production for fleets small
// enough to share one machine.
package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/overseer/overseer"
)

// Compile-time interface check.
var _ overseer.Adapter = (*Adapter)(nil)

// Config describes how to run local workers.
type Config struct {
	// Prefix is the worker name prefix. Default "w".
	Prefix string

	// WorkerBinary is the path to the worker shim executable.
	// Required.
	WorkerBinary string

	// OverseerAddr and OverseerID are handed to each worker so it
	// can dial back and announce itself. Required.
	OverseerAddr string
	OverseerID   string

	// CertFile, KeyFile, and CAFile are the worker's TLS identity,
	// passed through to the shim. Empty means the shim runs with
	// --insecure (tests, trusted single-host setups).
	CertFile string
	KeyFile  string
	CAFile   string

	// WorkDir is the parent directory for per-worker working
	// directories. Default os.TempDir().
	WorkDir string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Adapter spawns and kills local worker processes.
type Adapter struct {
	config   Config
	hostname string
	logger   *slog.Logger
}

// New validates the config and returns an adapter.
func New(config Config) (*Adapter, error) {
	if config.WorkerBinary == "" {
		return nil, errors.New("local adapter: WorkerBinary required")
	}
	if config.OverseerAddr == "" || config.OverseerID == "" {
		return nil, errors.New("local adapter: OverseerAddr and OverseerID required")
	}
	if config.Prefix == "" {
		config.Prefix = "w"
	}
	if config.WorkDir == "" {
		config.WorkDir = os.TempDir()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Adapter{config: config, hostname: hostname, logger: config.Logger}, nil
}

// Spawn starts one worker shim process and returns its labor. The
// process is its own group leader; the labor handle is the group's
// leader pid.
func (a *Adapter) Spawn(ctx context.Context) (*overseer.Labor, error) {
	name := fmt.Sprintf("%s-%s@%s", a.config.Prefix, randomSuffix(), a.hostname)

	workDir, err := os.MkdirTemp(a.config.WorkDir, "worker-")
	if err != nil {
		return nil, fmt.Errorf("creating worker dir: %w", err)
	}

	args := []string{
		"--name", name,
		"--overseer", a.config.OverseerAddr,
		"--overseer-id", a.config.OverseerID,
		"--workdir", workDir,
	}
	if a.config.CertFile != "" {
		args = append(args,
			"--cert", a.config.CertFile,
			"--key", a.config.KeyFile,
			"--ca", a.config.CAFile,
		)
	} else {
		args = append(args, "--insecure")
	}

	cmd := exec.Command(a.config.WorkerBinary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("starting worker: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the shim when it exits so it never lingers as a zombie.
	go func() {
		err := cmd.Wait()
		a.logger.Debug("worker process exited", "worker", name, "pid", pid, "error", err)
		os.RemoveAll(workDir)
	}()

	a.logger.Info("local worker started", "worker", name, "pid", pid)
	return &overseer.Labor{
		Name:   name,
		Handle: pid,
		Phase:  overseer.PhaseSpawning,
	}, nil
}

// Terminate kills the worker's process group. Idempotent: a group that
// is already gone is success.
func (a *Adapter) Terminate(ctx context.Context, labor *overseer.Labor) (*overseer.Labor, error) {
	pid, ok := labor.Handle.(int)
	if !ok {
		return nil, fmt.Errorf("local adapter: labor %s has handle %T, want int", labor.Name, labor.Handle)
	}

	// Negative pid addresses the whole process group: the shim plus
	// any release processes it started.
	err := unix.Kill(-pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return nil, fmt.Errorf("killing worker group %d: %w", pid, err)
	}

	terminated := *labor
	terminated.Phase = overseer.PhaseTerminated
	return &terminated, nil
}

// Connect is a no-op: local workers dial the overseer on their own as
// soon as the shim starts.
func (a *Adapter) Connect(ctx context.Context, labor *overseer.Labor) error {
	return nil
}

// randomSuffix returns 6 hex characters of OS randomness, enough to
// keep names unique within one overseer's lifetime.
func randomSuffix() string {
	var raw [3]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic("local adapter: reading randomness: " + err.Error())
	}
	return hex.EncodeToString(raw[:])
}
