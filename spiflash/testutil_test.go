package spiflash

import (
	"math/rand"
	"testing"
)

func registryChip(t *testing.T, id ChipID) ChipGeometry {
	t.Helper()
	g, ok := LookupChip(id)
	if !ok {
		t.Fatalf("Chip %s missing from registry!", id)
	}
	return g
}

// A W25Q32-shaped sim: 4 MiB, 256 byte pages, 4K/32K/64K erases.
func smallChip(t *testing.T) ChipGeometry {
	return registryChip(t, ChipID{0xEF, 0x40, 0x16})
}

// The 16 MiB W25Q128 used by the big write scenario.
func bigChip(t *testing.T) ChipGeometry {
	return registryChip(t, ChipID{0xEF, 0x40, 0x18})
}

func simSession(t *testing.T, g ChipGeometry) (*SimTransport, *Session) {
	t.Helper()
	tr := NewSimTransport(g)
	session, err := NewSession(tr, nil)
	if err != nil {
		t.Fatalf("Couldn't open session on sim: %s", err)
	}
	return tr, session
}

func unlockedSession(t *testing.T, g ChipGeometry) (*SimTransport, *Session) {
	t.Helper()
	tr, session := simSession(t, g)
	if err := session.Unlock(); err != nil {
		t.Fatalf("Couldn't unlock sim: %s", err)
	}
	return tr, session
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	// Deterministic data keeps failures reproducible
	rng := rand.New(rand.NewSource(int64(n)))
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("Couldn't generate test data: %s", err)
	}
	return data
}

func countCommands(tr *SimTransport, op byte) int {
	count := 0
	for _, c := range tr.Commands {
		if c.Op == op {
			count++
		}
	}
	return count
}
