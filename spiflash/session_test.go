package spiflash

import (
	"bytes"
	"errors"
	"testing"
)

// The full write path on a 16 MiB chip: 128 KiB at 0x10000 must become
// exactly two 64K erases, 512 page programs of 256 bytes, and one verify
// pass over the whole region.
func TestWrite_Scenario16MiB(t *testing.T) {
	tr, session := unlockedSession(t, bigChip(t))
	tr.Commands = nil
	data := randomBytes(t, 128*1024)
	result, err := session.Write(0x10000, data, WriteOptions{})
	if err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	if result.Verify != VerifyPassed {
		t.Fatalf("Expected verify to pass, got %s", result.Verify)
	}
	var erases, programs []SimCommand
	verifyBytes := 0
	for _, c := range tr.Commands {
		switch c.Op {
		case OpErase64K:
			erases = append(erases, c)
		case OpErase4K, OpErase32K:
			t.Fatalf("Unexpected small erase at 0x%X", c.Address)
		case OpPageProgram:
			programs = append(programs, c)
			if c.N != 256 {
				t.Fatalf("Program chunk of %d bytes at 0x%X, expected 256", c.N, c.Address)
			}
		case OpFastRead:
			verifyBytes += c.N
		}
	}
	if len(erases) != 2 || erases[0].Address != 0x10000 || erases[1].Address != 0x20000 {
		t.Fatalf("Expected 64K erases at 0x10000 and 0x20000, got %v", erases)
	}
	if len(programs) != 512 {
		t.Fatalf("Expected 512 page programs, got %d", len(programs))
	}
	if verifyBytes != len(data) {
		t.Fatalf("Verify read %d bytes, expected %d", verifyBytes, len(data))
	}
	readback, err := session.Read(0x10000, len(data))
	if err != nil {
		t.Fatalf("Readback failed: %s", err)
	}
	if !bytes.Equal(readback, data) {
		t.Fatalf("Readback doesn't match source")
	}
}

func TestWrite_RoundTripUnaligned(t *testing.T) {
	_, session := unlockedSession(t, smallChip(t))
	data := randomBytes(t, 5000)
	result, err := session.Write(0x1234, data, WriteOptions{})
	if err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	if result.Bytes != len(data) {
		t.Fatalf("Expected %d bytes written, got %d", len(data), result.Bytes)
	}
	readback, err := session.Read(0x1234, len(data))
	if err != nil {
		t.Fatalf("Read failed: %s", err)
	}
	if !bytes.Equal(readback, data) {
		t.Fatalf("Round trip mismatch")
	}
}

func TestWrite_AutoEraseCoversWholeBlocks(t *testing.T) {
	tr, session := unlockedSession(t, smallChip(t))
	// Pre-existing data in the same 4K block as the write target
	tr.RawWrite(0x0000, []byte{0x00, 0x11, 0x22})
	if _, err := session.Write(0x800, randomBytes(t, 16), WriteOptions{}); err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	// The covering erase wiped the whole block, old data included
	if got := tr.RawRead(0, 3); CountErased(got) != 3 {
		t.Fatalf("Expected covering erase to reset block start, got % X", got)
	}
}

func TestWrite_NoVerifyStatus(t *testing.T) {
	_, session := unlockedSession(t, smallChip(t))
	result, err := session.Write(0, randomBytes(t, 64), WriteOptions{NoVerify: true})
	if err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	if result.Verify != VerifyNotRequested {
		t.Fatalf("Expected verify not requested, got %s", result.Verify)
	}
}

func TestWrite_NoEraseOnErasedRegion(t *testing.T) {
	tr, session := unlockedSession(t, smallChip(t))
	if _, err := session.Erase(0, 0x1000); err != nil {
		t.Fatalf("Erase failed: %s", err)
	}
	tr.Commands = nil
	if _, err := session.Write(0, randomBytes(t, 64), WriteOptions{NoErase: true}); err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	if n := countCommands(tr, OpErase4K); n != 0 {
		t.Fatalf("NoErase write still erased %d blocks", n)
	}
}

func TestWrite_ProtectionGate(t *testing.T) {
	tr, session := simSession(t, smallChip(t))
	_, err := session.Write(0, []byte{1}, WriteOptions{})
	var protected *WriteProtectedError
	if !errors.As(err, &protected) {
		t.Fatalf("Expected WriteProtectedError, got %v", err)
	}
	if len(tr.Commands) != 0 {
		t.Fatalf("Protected write leaked %d commands to the transport", len(tr.Commands))
	}
}

func TestWrite_AutoUnlock(t *testing.T) {
	g := smallChip(t)
	tr := NewSimTransport(g)
	session, err := NewSession(tr, &Options{AutoUnlock: true})
	if err != nil {
		t.Fatalf("Couldn't open session: %s", err)
	}
	data := randomBytes(t, 32)
	if _, err := session.Write(0, data, WriteOptions{}); err != nil {
		t.Fatalf("Auto-unlock write failed: %s", err)
	}
	if !bytes.Equal(tr.RawRead(0, 32), data) {
		t.Fatalf("Auto-unlock write didn't land")
	}
}

func TestLockRestoresProtection(t *testing.T) {
	_, session := unlockedSession(t, smallChip(t))
	if _, err := session.Write(0, []byte{0xAB}, WriteOptions{}); err != nil {
		t.Fatalf("Unlocked write failed: %s", err)
	}
	if err := session.Lock(); err != nil {
		t.Fatalf("Lock failed: %s", err)
	}
	_, err := session.Write(0x1000, []byte{0xCD}, WriteOptions{})
	var protected *WriteProtectedError
	if !errors.As(err, &protected) {
		t.Fatalf("Expected WriteProtectedError after lock, got %v", err)
	}
}

func TestSessionConfiguresClock(t *testing.T) {
	g := smallChip(t)
	tr, _ := simSession(t, g)
	if tr.ClockHz() != g.MaxClockHz {
		t.Fatalf("Expected clock %d, got %d", g.MaxClockHz, tr.ClockHz())
	}
}
