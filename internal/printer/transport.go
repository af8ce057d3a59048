package printer

import (
	"context"
	"fmt"
)

// Print delivers one composed document to the printer. The caller-level
// contract from the till: the link must be Ready, else one restore attempt
// is made before failing with ErrNotConnected; a failure partway through the
// byte stream gets exactly one whole-document retry after a short delay and
// a restore. A retry can duplicate partial output on paper; that is accepted,
// paper cannot be rolled back.
func (m *Manager) Print(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if !m.opMu.TryLock() {
		return ErrPrintInFlight
	}
	defer m.opMu.Unlock()

	if err := m.ensureReady(ctx); err != nil {
		return err
	}

	err := m.writeAll(ctx, payload)
	if err == nil {
		return nil
	}
	m.log.Warn().Err(err).Msg("print failed, retrying whole document once")

	if serr := sleepCtx(ctx, m.opts.RetryDelay); serr != nil {
		return err
	}

	// Drop the session so restore actually reopens it; a write that
	// failed without a disconnect event may be sitting on a dead link.
	m.mu.Lock()
	m.clearSessionLocked()
	if m.state == StateReady {
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	m.emit(StateDisconnected, "write failed")

	if rerr := m.restore(ctx); rerr != nil {
		return fmt.Errorf("%w: %v (restore also failed: %v)", ErrWriteFailed, err, rerr)
	}
	if err2 := m.writeAll(ctx, payload); err2 != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err2)
	}
	return nil
}

// ensureReady checks Ready state and performs at most one restore. No bytes
// are written when this fails.
func (m *Manager) ensureReady(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}

	m.mu.Lock()
	hasDevice := m.device != nil
	m.mu.Unlock()
	if !hasDevice {
		return ErrNotConnected
	}

	if err := m.restore(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// writeAll splits the payload into ChunkSize pieces and writes them in
// order with a pacing delay in between.
func (m *Manager) writeAll(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	ep := m.endpoint
	m.mu.Unlock()
	if ep == nil {
		return ErrNotConnected
	}

	size := m.opts.ChunkSize
	for off := 0; off < len(payload); off += size {
		end := off + size
		if end > len(payload) {
			end = len(payload)
		}

		if err := writeChunk(ep, payload[off:end]); err != nil {
			return fmt.Errorf("chunk at %d: %w", off, err)
		}

		if end < len(payload) {
			if err := sleepCtx(ctx, m.opts.ChunkDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeChunk writes one chunk, preferring the unacknowledged mode when the
// endpoint supports it. A failed write gets exactly one retry in the
// acknowledged mode: unacknowledged writes can fail silently under load
// while acknowledged writes at least report back.
func writeChunk(ep Endpoint, chunk []byte) error {
	var err error
	if ep.SupportsWriteNoResponse() {
		err = ep.WriteNoResponse(chunk)
	} else {
		err = ep.Write(chunk)
	}
	if err == nil {
		return nil
	}

	if ep.SupportsWrite() {
		rerr := ep.Write(chunk)
		if rerr == nil {
			return nil
		}
		return fmt.Errorf("write retry: %w", rerr)
	}
	return err
}
