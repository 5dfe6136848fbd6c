package spiflash

import (
	"fmt"
)

// One decoded command the simulated chip received. Status polls and ID
// probes are not recorded; they'd drown out the interesting traffic.
type SimCommand struct {
	Op      byte
	Address uint32
	N       int
}

// SimTransport emulates a serial NOR chip in memory: programming only clears
// bits (and wraps within the page, like real silicon), erase resets whole
// blocks to 0xFF, and mutations are silently ignored while the block
// protection bits are set or the write-enable latch wasn't raised. Useful
// for dry runs ("sim:" device URLs) and as the test double for everything in
// this package.
type SimTransport struct {
	geometry ChipGeometry
	mem      []byte
	status   byte
	selected bool
	clockHz  uint32

	// Commands is the trace of mutating and data commands received, in
	// order. Tests assert against it.
	Commands []SimCommand
}

// NewSimTransport builds a chip with the given geometry, fully erased and
// with the block protection bits set, the way chips tend to leave the
// factory.
func NewSimTransport(g ChipGeometry) *SimTransport {
	mem := make([]byte, g.Capacity)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &SimTransport{geometry: g, mem: mem, status: StatusProtectMask}
}

func (t *SimTransport) SelectChip() error {
	if t.selected {
		return fmt.Errorf("chip select already asserted")
	}
	t.selected = true
	return nil
}

func (t *SimTransport) DeselectChip() error {
	if !t.selected {
		return fmt.Errorf("chip select not asserted")
	}
	t.selected = false
	return nil
}

func (t *SimTransport) ConfigureClock(hz uint32) error {
	t.clockHz = hz
	return nil
}

func (t *SimTransport) Close() error { return nil }

func (t *SimTransport) Transceive(out []byte) ([]byte, error) {
	if !t.selected {
		return nil, fmt.Errorf("transceive without chip select")
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty exchange")
	}
	in := make([]byte, len(out))
	switch out[0] {
	case OpJedecID:
		if len(out) >= 4 {
			in[1] = t.geometry.ID[0]
			in[2] = t.geometry.ID[1]
			in[3] = t.geometry.ID[2]
		}
	case OpReadStatus:
		for i := 1; i < len(in); i++ {
			in[i] = t.status
		}
	case OpWriteEnable:
		t.status |= StatusWEL
		t.record(out[0], 0, 0)
	case OpWriteDisable:
		t.status &^= StatusWEL
		t.record(out[0], 0, 0)
	case OpWriteStatus:
		if t.status&StatusWEL != 0 && len(out) >= 2 {
			t.status = out[1] & StatusProtectMask
			t.record(out[0], 0, 1)
		}
	case OpRead, OpFastRead:
		dataOff := 4
		if out[0] == OpFastRead {
			dataOff = 5
		}
		if len(out) < dataOff {
			return nil, fmt.Errorf("short read command")
		}
		address := t.address(out)
		for i := dataOff; i < len(out); i++ {
			in[i] = t.mem[(address+uint32(i-dataOff))%t.geometry.Capacity]
		}
		t.record(out[0], address, len(out)-dataOff)
	case OpPageProgram:
		if len(out) < 5 {
			return nil, fmt.Errorf("short program command")
		}
		address := t.address(out)
		if t.writable() {
			t.program(address, out[4:])
		}
		t.status &^= StatusWEL
		t.record(out[0], address, len(out)-4)
	case OpEraseChip, OpEraseChipAlt:
		if t.writable() {
			for i := range t.mem {
				t.mem[i] = 0xFF
			}
		}
		t.status &^= StatusWEL
		t.record(OpEraseChip, 0, len(t.mem))
	default:
		if block, ok := t.eraseBlock(out[0]); ok {
			if len(out) < 4 {
				return nil, fmt.Errorf("short erase command")
			}
			address := t.address(out) &^ (block.Size - 1)
			if t.writable() {
				for i := uint32(0); i < block.Size; i++ {
					t.mem[(address+i)%t.geometry.Capacity] = 0xFF
				}
			}
			t.status &^= StatusWEL
			t.record(out[0], address, int(block.Size))
		}
		// Unrecognized opcodes answer with zeros, like a confused chip.
	}
	return in, nil
}

// Programming can only clear bits, and a write crossing the page boundary
// wraps back to the start of the same page. Both behaviors are modeled so a
// chunking bug in the engine shows up as real corruption in tests.
func (t *SimTransport) program(address uint32, data []byte) {
	page := t.geometry.PageSize
	base := address &^ (page - 1)
	offset := address & (page - 1)
	for i, b := range data {
		a := base + (offset+uint32(i))%page
		t.mem[a%t.geometry.Capacity] &= b
	}
}

func (t *SimTransport) writable() bool {
	return t.status&StatusWEL != 0 && t.status&StatusProtectMask == 0
}

func (t *SimTransport) eraseBlock(opcode byte) (EraseBlock, bool) {
	for _, b := range t.geometry.EraseBlocks {
		if b.Opcode == opcode {
			return b, true
		}
	}
	return EraseBlock{}, false
}

func (t *SimTransport) address(out []byte) uint32 {
	return uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3])
}

func (t *SimTransport) record(op byte, address uint32, n int) {
	t.Commands = append(t.Commands, SimCommand{Op: op, Address: address, N: n})
}

// RawWrite pokes memory directly, bypassing the SPI model. For tests that
// need out-of-band corruption or pre-seeded content.
func (t *SimTransport) RawWrite(address uint32, data []byte) {
	copy(t.mem[address:], data)
}

// RawRead peeks memory directly.
func (t *SimTransport) RawRead(address uint32, length int) []byte {
	out := make([]byte, length)
	copy(out, t.mem[address:])
	return out
}

// MutationCount returns how many received commands could have altered the
// array (programs and erases). The protection-gate tests use this to prove
// nothing reached the chip.
func (t *SimTransport) MutationCount() int {
	count := 0
	for _, c := range t.Commands {
		switch c.Op {
		case OpPageProgram, OpEraseChip:
			count++
		default:
			if _, ok := t.eraseBlock(c.Op); ok {
				count++
			}
		}
	}
	return count
}

// ClockHz reports the last configured clock rate.
func (t *SimTransport) ClockHz() uint32 { return t.clockHz }
