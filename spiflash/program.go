package spiflash

import (
	"errors"
	"time"
)

// Program writes pre-erased flash. It does NOT erase first; erase-before-
// write orchestration belongs to Session.Write. Data is split so no command
// exceeds the page size or crosses a page boundary: the chip wraps within
// the page on a crossing write, silently corrupting the start of the page.
// A failed or timed-out chunk aborts the whole operation; partial programs
// leave undefined state, so the caller must re-erase before retrying.
func (s *Session) Program(address uint32, data []byte) (OperationResult, error) {
	result := OperationResult{}
	if err := s.checkRange(address, len(data)); err != nil {
		return result, err
	}
	if err := s.checkWritable("program"); err != nil {
		return result, err
	}
	page := s.geometry.PageSize
	began := time.Now()
	total := len(data)
	written := 0
	for written < total {
		a := address + uint32(written)
		n := int(page - a%page) // stay inside this page
		if n > total-written {
			n = total - written
		}
		if n > s.chunkSize {
			n = s.chunkSize
		}
		if err := s.programChunk(a, data[written:written+n]); err != nil {
			result.Bytes = written
			result.Elapsed = time.Since(began)
			return result, err
		}
		written += n
		s.reportProgress(written, total)
	}
	result.Bytes = written
	result.Elapsed = time.Since(began)
	return result, nil
}

func (s *Session) programChunk(address uint32, chunk []byte) error {
	cp := commandPass{tr: s.tr}
	cp.Exchange(WriteEnableCommand())
	cp.Exchange(PageProgramCommand(address, chunk))
	if err := cp.IsPass(); err != nil {
		return &ReadError{Message: "page program command failed", Err: err}
	}
	if err := s.waitIdle(s.geometry.PageProgram); err != nil {
		if errors.Is(err, errStillBusy) {
			return &TimeoutError{Op: "program", Address: address,
				Waited: s.geometry.PageProgram * timeoutMultiplier}
		}
		return err
	}
	return nil
}
