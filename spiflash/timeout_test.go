package spiflash

import (
	"errors"
	"testing"
	"time"
)

// Transport wrapper whose chip never comes out of busy: every status read
// answers with the busy bit set, everything else passes through.
type stuckBusyTransport struct {
	Transport
}

func (t *stuckBusyTransport) Transceive(out []byte) ([]byte, error) {
	if len(out) > 0 && out[0] == OpReadStatus {
		in := make([]byte, len(out))
		for i := 1; i < len(in); i++ {
			in[i] = StatusBusy
		}
		return in, nil
	}
	return t.Transport.Transceive(out)
}

// Session over a stuck chip with microsecond typical durations, so the
// budget expires after a poll or two instead of stalling the test run.
func stuckSession(t *testing.T) *Session {
	t.Helper()
	g := smallChip(t)
	g.EraseBlocks = []EraseBlock{
		{Size: 4096, Opcode: OpErase4K, Typical: time.Microsecond},
	}
	g.PageProgram = time.Microsecond
	g.ChipErase = time.Microsecond
	tr := &stuckBusyTransport{Transport: NewSimTransport(g)}
	return &Session{tr: tr, geometry: g, chunkSize: DefaultChunkSize, unlocked: true}
}

func TestErase_Timeout(t *testing.T) {
	session := stuckSession(t)
	_, err := session.Erase(0x1000, 0x1000)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if timeout.Op != "erase" {
		t.Fatalf("Expected erase timeout, got %q", timeout.Op)
	}
	if timeout.Address != 0x1000 {
		t.Fatalf("Timeout at wrong address: 0x%X", timeout.Address)
	}
	if timeout.Waited <= 0 {
		t.Fatalf("Timeout carries no waited duration")
	}
}

func TestProgram_Timeout(t *testing.T) {
	session := stuckSession(t)
	result, err := session.Program(0x200, make([]byte, 16))
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if timeout.Op != "program" {
		t.Fatalf("Expected program timeout, got %q", timeout.Op)
	}
	if timeout.Address != 0x200 {
		t.Fatalf("Timeout at wrong address: 0x%X", timeout.Address)
	}
	// A timed-out chunk aborts the operation with nothing counted done
	if result.Bytes != 0 {
		t.Fatalf("Timed out program reported %d bytes done", result.Bytes)
	}
}

func TestEraseAll_Timeout(t *testing.T) {
	session := stuckSession(t)
	_, err := session.EraseAll()
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if timeout.Op != "erase-all" {
		t.Fatalf("Expected erase-all timeout, got %q", timeout.Op)
	}
}
