package spiflash

// The serial NOR command set shared by basically every SPI flash out there.
// Opcodes cross-checked against the Winbond W25Q and Micron N25Q datasheets.
const (
	OpJedecID      = 0x9F
	OpRead         = 0x03
	OpFastRead     = 0x0B
	OpWriteEnable  = 0x06
	OpWriteDisable = 0x04
	OpPageProgram  = 0x02
	OpErase4K      = 0x20
	OpErase32K     = 0x52
	OpErase64K     = 0xD8
	OpEraseChip    = 0xC7
	OpEraseChipAlt = 0x60 // some vendors use this instead of 0xC7
	OpReadStatus   = 0x05
	OpWriteStatus  = 0x01
)

// Status register bits (RDSR).
const (
	StatusBusy        = 1 << 0
	StatusWEL         = 1 << 1
	StatusBP0         = 1 << 2
	StatusBP1         = 1 << 3
	StatusBP2         = 1 << 4
	StatusProtectMask = StatusBP0 | StatusBP1 | StatusBP2
)

// Transport is the byte-exchange primitive the engine drives. Every command
// is one Transceive bracketed by chip select; out and in are always the same
// length (SPI is full duplex). The transport is shared and outlives any
// session using it.
type Transport interface {
	Transceive(out []byte) ([]byte, error)
	SelectChip() error
	DeselectChip() error
	ConfigureClock(hz uint32) error
	Close() error
}

// Produce a fast-read command for length bytes at the given address. The
// response carries the data after the opcode, address and dummy byte.
func ReadCommand(address uint32, length int) []byte {
	cmd := make([]byte, readOverhead+length)
	cmd[0] = OpFastRead
	putAddress(cmd[1:], address)
	// cmd[4] dummy, rest clocked out as zeros while data comes back
	return cmd
}

// Bytes of a read command before the data phase starts (opcode + 24 bit
// address + one dummy byte).
const readOverhead = 5

// Produce a page-program command. The caller is responsible for not crossing
// a page boundary; the chip wraps within the page if you do.
func PageProgramCommand(address uint32, data []byte) []byte {
	cmd := make([]byte, 4+len(data))
	cmd[0] = OpPageProgram
	putAddress(cmd[1:], address)
	copy(cmd[4:], data)
	return cmd
}

// Produce an erase command for one block using the geometry's opcode.
func EraseCommand(opcode byte, address uint32) []byte {
	cmd := make([]byte, 4)
	cmd[0] = opcode
	putAddress(cmd[1:], address)
	return cmd
}

func JedecIDCommand() []byte { return []byte{OpJedecID, 0, 0, 0} }

func WriteEnableCommand() []byte { return []byte{OpWriteEnable} }

func WriteDisableCommand() []byte { return []byte{OpWriteDisable} }

func ReadStatusCommand() []byte { return []byte{OpReadStatus, 0} }

func WriteStatusCommand(value byte) []byte { return []byte{OpWriteStatus, value} }

func ChipEraseCommand(opcode byte) []byte { return []byte{opcode} }

func putAddress(dst []byte, address uint32) {
	dst[0] = byte(address >> 16)
	dst[1] = byte(address >> 8)
	dst[2] = byte(address)
}

// A helper which brackets every command with chip select and which skips all
// further work once an error has been latched. Lets a sequence of commands
// run without an error check after each one; check IsPass at the end.
type commandPass struct {
	tr  Transport
	err error
}

func (cp *commandPass) Exchange(out []byte) []byte {
	if cp.err != nil {
		return nil
	}
	if err := cp.tr.SelectChip(); err != nil {
		cp.err = err
		return nil
	}
	in, err := cp.tr.Transceive(out)
	if derr := cp.tr.DeselectChip(); err == nil {
		err = derr
	}
	if err != nil {
		cp.err = err
		return nil
	}
	if len(in) != len(out) {
		cp.err = &ReadError{Message: "transport returned short exchange"}
		return nil
	}
	return in
}

func (cp *commandPass) IsPass() error { return cp.err }
