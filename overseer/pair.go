// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overseer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bureau-foundation/overseer/release"
	"github.com/bureau-foundation/overseer/transport"
)

// maxLoadAttempts bounds consecutive release delivery failures before
// the controller stops hot-retrying and surfaces a LoadFailed event.
// The pair timer re-drives the sequence afterwards, so a transiently
// broken artifact source heals without operator action.
const maxLoadAttempts = 3

// artifactCache fetches the release artifact once and hands the same
// local file to every push. Concurrent first-use is serialized; a
// failed fetch is not cached, so the next push retries it.
type artifactCache struct {
	fetcher *release.Fetcher
	ref     release.Ref

	mu       sync.Mutex
	artifact *release.Artifact
}

func (c *artifactCache) get(ctx context.Context) (*release.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact != nil {
		return c.artifact, nil
	}
	artifact, err := c.fetcher.Fetch(ctx, c.ref)
	if err != nil {
		return nil, err
	}
	c.artifact = artifact
	return artifact, nil
}

// initiatePair (re)starts the load-and-pair sequence for a labor whose
// control channel is up: arm the pair timer, invalidate any in-flight
// push, and self-post the load event. Called on node-up, on pair
// timeout, and on exit of the paired endpoint.
func (o *Overseer) initiatePair(entry *laborEntry) {
	if entry.labor.Phase == PhasePairing || entry.labor.Phase == PhaseActive {
		o.transition(entry, PhaseLoading)
	}
	entry.labor.PairID = ""
	entry.loadEpoch++
	entry.loadAttempts = 0
	o.armTimer(entry, TimerPair, o.spec.PairTimeout)
	o.mailbox.put(evLoadStart{name: entry.labor.Name})
}

// startLoad launches the background release push for the entry's
// current epoch. Runs on the controller goroutine; the push itself
// does not.
func (o *Overseer) startLoad(entry *laborEntry) {
	name := entry.labor.Name
	epoch := entry.loadEpoch
	conn := entry.conn

	go func() {
		err := o.pushRelease(o.runCtx, conn)
		if err == nil {
			// Success is reported by the worker's LoadResult frame;
			// the push goroutine only reports failures.
			return
		}
		o.mailbox.put(evLoadDone{name: name, epoch: epoch, err: err})
	}()
}

// pushRelease streams the release artifact over a control connection:
// metadata, chunks, end marker. The worker verifies the digest,
// extracts, starts the release, and answers with a LoadResult frame.
func (o *Overseer) pushRelease(ctx context.Context, conn transport.Conn) error {
	artifact, err := o.artifacts.get(ctx)
	if err != nil {
		return fmt.Errorf("fetching release: %w", err)
	}

	header := transport.LoadRelease{
		Size:        artifact.Size,
		Digest:      artifact.Digest,
		Compression: artifact.Compression.String(),
	}
	if entry := o.spec.Release.Entry; entry != nil {
		header.EntryModule = entry.Module
		header.EntryFunction = entry.Function
	}
	frame, err := transport.NewFrame(transport.KindLoadRelease, header)
	if err != nil {
		return err
	}
	if err := conn.Send(frame); err != nil {
		return fmt.Errorf("sending release header: %w", err)
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	buffer := make([]byte, transport.ChunkSize)
	for {
		n, err := file.Read(buffer)
		if n > 0 {
			chunk, err := transport.NewFrame(transport.KindReleaseChunk, transport.ReleaseChunk{Data: buffer[:n]})
			if err != nil {
				return err
			}
			if err := conn.Send(chunk); err != nil {
				return fmt.Errorf("sending release chunk: %w", err)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}
	}

	end, err := transport.NewFrame(transport.KindReleaseEnd, nil)
	if err != nil {
		return err
	}
	if err := conn.Send(end); err != nil {
		return fmt.Errorf("sending release end: %w", err)
	}
	return nil
}
