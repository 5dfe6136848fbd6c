package spiflash

import (
	"log"
	"time"
)

const (
	// Chunk used for read and program orchestration when the caller doesn't
	// care. Each program command is still bounded by the page size.
	DefaultChunkSize = 4096

	// Timeout budget is the datasheet's typical duration times this.
	timeoutMultiplier = 20

	busyPollInterval = 200 * time.Microsecond
)

// Called after each completed chunk of an erase/program/read so callers can
// draw progress. done and total are byte counts.
type ProgressFunc func(done int, total int)

type Options struct {
	// Chunk size for read and program loops; DefaultChunkSize when zero.
	ChunkSize int
	// Unlock automatically before the first mutating operation instead of
	// failing WriteProtected.
	AutoUnlock bool
	Progress   ProgressFunc
}

// Session owns a resolved chip behind a shared transport. A session buffers
// nothing between calls; each operation is self contained over the range it
// targets. Only one session may drive a given transport at a time.
type Session struct {
	tr         Transport
	geometry   ChipGeometry
	chunkSize  int
	autoUnlock bool
	progress   ProgressFunc
	unlocked   bool
}

// NewSession identifies the chip on the transport and configures the clock
// to the chip's safe maximum. The transport stays owned by the caller.
func NewSession(tr Transport, opts *Options) (*Session, error) {
	g, err := Identify(tr)
	if err != nil {
		return nil, err
	}
	if err := tr.ConfigureClock(g.MaxClockHz); err != nil {
		return nil, err
	}
	s := &Session{tr: tr, geometry: g, chunkSize: DefaultChunkSize}
	if opts != nil {
		if opts.ChunkSize > 0 {
			s.chunkSize = opts.ChunkSize
		}
		s.autoUnlock = opts.AutoUnlock
		s.progress = opts.Progress
	}
	return s, nil
}

func (s *Session) Capacity() uint32 { return s.geometry.Capacity }

func (s *Session) Geometry() ChipGeometry { return s.geometry }

// VerifyStatus of a write operation.
type VerifyStatus int

const (
	VerifyNotRequested VerifyStatus = iota
	VerifyPassed
	VerifyFailed
)

func (v VerifyStatus) String() string {
	switch v {
	case VerifyPassed:
		return "passed"
	case VerifyFailed:
		return "failed"
	}
	return "not requested"
}

// OperationResult is the outcome of an erase or write.
type OperationResult struct {
	Bytes   int
	Elapsed time.Duration
	Verify  VerifyStatus
	// First mismatching offset, relative to the operation's start address.
	// Only meaningful when Verify == VerifyFailed.
	VerifyOffset int
}

// Unlock clears the block protection bits so erase and program commands take
// effect. Chips silently ignore mutations while protected, so the session
// refuses to issue them until this has run.
func (s *Session) Unlock() error {
	cp := commandPass{tr: s.tr}
	cp.Exchange(WriteEnableCommand())
	cp.Exchange(WriteStatusCommand(0))
	if err := cp.IsPass(); err != nil {
		return &ReadError{Message: "unlock failed", Err: err}
	}
	if err := s.waitIdle(10 * time.Millisecond); err != nil {
		return err
	}
	sr, err := s.readStatus()
	if err != nil {
		return err
	}
	if sr&StatusProtectMask != 0 {
		return &WriteProtectedError{Op: "unlock"}
	}
	s.unlocked = true
	return nil
}

// Lock restores the block protection bits. Never called implicitly; skipping
// it simply leaves the chip writable.
func (s *Session) Lock() error {
	cp := commandPass{tr: s.tr}
	cp.Exchange(WriteEnableCommand())
	cp.Exchange(WriteStatusCommand(StatusProtectMask))
	if err := cp.IsPass(); err != nil {
		return &ReadError{Message: "lock failed", Err: err}
	}
	if err := s.waitIdle(10 * time.Millisecond); err != nil {
		return err
	}
	s.unlocked = false
	return nil
}

// Gate in front of every mutating operation. Fails fast, before any command
// reaches the chip.
func (s *Session) checkWritable(op string) error {
	if s.unlocked {
		return nil
	}
	if s.autoUnlock {
		log.Printf("Auto-unlocking device for %s\n", op)
		return s.Unlock()
	}
	return &WriteProtectedError{Op: op}
}

// WriteOptions opt OUT of the write contract: by default every write is
// erase, program, verify.
type WriteOptions struct {
	NoErase  bool
	NoVerify bool
}

// Write is the central composition: erase the minimal covering block range,
// program the data, then read it back and compare. On a verify mismatch the
// result carries the first bad offset and the error is a *VerifyError.
func (s *Session) Write(address uint32, data []byte, opts WriteOptions) (OperationResult, error) {
	result := OperationResult{}
	if err := s.checkRange(address, len(data)); err != nil {
		return result, err
	}
	if err := s.checkWritable("write"); err != nil {
		return result, err
	}
	began := time.Now()
	if !opts.NoErase {
		min := s.geometry.MinEraseSize()
		eraseStart := AlignDown32(address, min)
		eraseEnd := AlignUp32(address+uint32(len(data)), min)
		if _, err := s.Erase(eraseStart, eraseEnd-eraseStart); err != nil {
			return result, err
		}
	}
	programmed, err := s.Program(address, data)
	result.Bytes = programmed.Bytes
	result.Elapsed = time.Since(began)
	if err != nil {
		return result, err
	}
	if !opts.NoVerify {
		offset, err := s.Verify(address, data)
		result.Elapsed = time.Since(began)
		if err != nil {
			return result, err
		}
		if offset >= 0 {
			result.Verify = VerifyFailed
			result.VerifyOffset = offset
			return result, &VerifyError{Offset: offset}
		}
		result.Verify = VerifyPassed
	}
	return result, nil
}

func (s *Session) checkRange(address uint32, length int) error {
	if length < 0 || uint64(address)+uint64(length) > uint64(s.geometry.Capacity) {
		return &AddressRangeError{Start: address, Length: length, Capacity: s.geometry.Capacity}
	}
	return nil
}

func (s *Session) readStatus() (byte, error) {
	cp := commandPass{tr: s.tr}
	in := cp.Exchange(ReadStatusCommand())
	if err := cp.IsPass(); err != nil {
		return 0, &ReadError{Message: "status read failed", Err: err}
	}
	return in[1], nil
}

// waitIdle polls the busy bit until it clears or the budget (typical x
// multiplier) runs out. A timeout leaves the chip in an indeterminate state.
func (s *Session) waitIdle(typical time.Duration) error {
	budget := typical * timeoutMultiplier
	deadline := time.Now().Add(budget)
	for {
		sr, err := s.readStatus()
		if err != nil {
			return err
		}
		if sr&StatusBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errStillBusy
		}
		time.Sleep(busyPollInterval)
	}
}

func (s *Session) reportProgress(done, total int) {
	if s.progress != nil {
		s.progress(done, total)
	}
}
