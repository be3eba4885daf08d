// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/overseer/release"
	"github.com/bureau-foundation/overseer/transport"
)

// startScript is the release's entry script, relative to the
// extracted tree.
const startScript = "bin/start"

// releaseTransfer is an in-flight artifact download: a spool file plus
// a running digest.
type releaseTransfer struct {
	header transport.LoadRelease
	file   *os.File
	hasher *blake3.Hasher

	written int64
}

// beginTransfer opens the spool file for an announced release.
func (w *worker) beginTransfer(header transport.LoadRelease) (*releaseTransfer, error) {
	file, err := os.CreateTemp(w.workDir, "incoming-*.artifact")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	w.logger.Info("release transfer starting",
		"size", header.Size,
		"compression", header.Compression,
	)
	return &releaseTransfer{header: header, file: file, hasher: blake3.New()}, nil
}

func (t *releaseTransfer) write(data []byte) error {
	if _, err := t.file.Write(data); err != nil {
		return fmt.Errorf("spooling release: %w", err)
	}
	t.hasher.Write(data)
	t.written += int64(len(data))
	if t.written > t.header.Size {
		return fmt.Errorf("release overran announced size %d", t.header.Size)
	}
	return nil
}

func (t *releaseTransfer) abort() {
	t.file.Close()
	os.Remove(t.file.Name())
}

// finishTransfer verifies the spooled artifact, extracts it, and
// (re)starts the release. Returns the new endpoint id.
func (w *worker) finishTransfer(conn transport.Conn, t *releaseTransfer) (string, error) {
	defer t.abort()

	if err := t.file.Sync(); err != nil {
		return "", fmt.Errorf("flushing spool file: %w", err)
	}
	if t.written != t.header.Size {
		return "", fmt.Errorf("release is %d bytes, announced %d", t.written, t.header.Size)
	}
	digest := hex.EncodeToString(t.hasher.Sum(nil))
	if !strings.EqualFold(digest, t.header.Digest) {
		return "", fmt.Errorf("release digest mismatch: got %s, want %s", digest, t.header.Digest)
	}

	compression, err := release.CompressionFromName(t.header.Compression)
	if err != nil {
		return "", err
	}

	// Extract into a fresh tree and flip the "current" symlink only
	// after success, so a torn extract never becomes current.
	releaseDir, err := os.MkdirTemp(w.workDir, "release-")
	if err != nil {
		return "", fmt.Errorf("creating release dir: %w", err)
	}
	if err := release.Extract(t.file.Name(), compression, releaseDir); err != nil {
		os.RemoveAll(releaseDir)
		return "", err
	}

	currentLink := filepath.Join(w.workDir, "current")
	os.Remove(currentLink)
	if err := os.Symlink(releaseDir, currentLink); err != nil {
		os.RemoveAll(releaseDir)
		return "", fmt.Errorf("linking current release: %w", err)
	}

	w.stopRelease()
	return w.startRelease(conn, releaseDir, t.header)
}

// releaseProcess is the running user-code process.
type releaseProcess struct {
	pid      int
	endpoint string
	cmd      *exec.Cmd

	// stopped is set before an intentional kill so the waiter knows
	// not to announce the exit.
	stopped bool
}

// startRelease launches the extracted release's start script and
// watches it: an exit that the shim did not order is announced to the
// overseer as a GOODBYE, which re-drives load-and-pair.
func (w *worker) startRelease(conn transport.Conn, releaseDir string, header transport.LoadRelease) (string, error) {
	script := filepath.Join(releaseDir, startScript)
	if _, err := os.Stat(script); err != nil {
		return "", fmt.Errorf("release has no %s: %w", startScript, err)
	}

	var args []string
	if header.EntryModule != "" {
		args = append(args, header.EntryModule, header.EntryFunction)
	}

	cmd := exec.Command(script, args...)
	cmd.Dir = releaseDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting release: %w", err)
	}

	proc := &releaseProcess{
		pid:      cmd.Process.Pid,
		endpoint: fmt.Sprintf("%s/%d", w.name, cmd.Process.Pid),
		cmd:      cmd,
	}

	w.mu.Lock()
	w.current = proc
	w.mu.Unlock()

	w.logger.Info("release started", "pid", proc.pid, "endpoint", proc.endpoint)

	go func() {
		err := cmd.Wait()

		w.mu.Lock()
		ordered := proc.stopped
		if w.current == proc {
			w.current = nil
		}
		w.mu.Unlock()

		if ordered {
			return
		}

		reason := "exit"
		if err != nil {
			reason = err.Error()
		}
		w.logger.Warn("release process exited", "pid", proc.pid, "reason", reason)
		frame, frameErr := transport.NewFrame(transport.KindGoodbye, transport.Goodbye{
			Name:   w.name,
			Reason: reason,
		})
		if frameErr == nil {
			_ = conn.Send(frame)
		}
	}()

	return proc.endpoint, nil
}

// stopRelease kills the current release's process group, if any.
func (w *worker) stopRelease() {
	w.mu.Lock()
	proc := w.current
	if proc != nil {
		proc.stopped = true
		w.current = nil
	}
	w.mu.Unlock()

	if proc == nil {
		return
	}
	_ = unix.Kill(-proc.pid, unix.SIGKILL)
	w.logger.Info("release stopped", "pid", proc.pid)
}
