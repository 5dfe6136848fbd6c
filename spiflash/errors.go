package spiflash

import (
	"errors"
	"fmt"
	"time"
)

// Internal marker from the busy-wait loop; always wrapped into a
// TimeoutError with the operation and address before leaving the package.
var errStillBusy = errors.New("device still busy")

// The chip answered the JEDEC ID probe but we have no geometry for it.
type UnknownDeviceError struct {
	ID ChipID
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device %02X %02X %02X (%s)",
		e.ID[0], e.ID[1], e.ID[2], ManufacturerName(e.ID[0]))
}

// Bus or transport level failure. The state of the bus after one of these is
// unknown, so nothing retries automatically.
type ReadError struct {
	Message string
	Err     error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read error: %s: %s", e.Message, e.Err)
	}
	return fmt.Sprintf("read error: %s", e.Message)
}

func (e *ReadError) Unwrap() error { return e.Err }

// A mutating operation was attempted while protection is (as far as the
// session knows) still active. The chip itself would silently ignore the
// command, which is much worse than failing here.
type WriteProtectedError struct {
	Op string
}

func (e *WriteProtectedError) Error() string {
	return fmt.Sprintf("%s rejected: device is write protected (unlock first)", e.Op)
}

// Erase range that cannot be covered exactly by the chip's granularities.
type MisalignedRangeError struct {
	Start       uint32
	Length      uint32
	Granularity uint32
}

func (e *MisalignedRangeError) Error() string {
	return fmt.Sprintf("erase range 0x%X+0x%X not coverable by %d byte granularity",
		e.Start, e.Length, e.Granularity)
}

type AddressRangeError struct {
	Start    uint32
	Length   int
	Capacity uint32
}

func (e *AddressRangeError) Error() string {
	return fmt.Sprintf("range 0x%X+%d exceeds capacity %d", e.Start, e.Length, e.Capacity)
}

// The busy bit never cleared within the budget. The chip is in an
// indeterminate state; callers must re-erase before retrying a program.
type TimeoutError struct {
	Op      string
	Address uint32
	Waited  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s at 0x%X still busy after %s", e.Op, e.Address, e.Waited)
}

// Readback did not match. Offset is relative to the start of the verified
// region, so callers can retry narrowly if they want.
type VerifyError struct {
	Offset int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed at offset %d", e.Offset)
}
