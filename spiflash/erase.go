package spiflash

import (
	"errors"
	"time"
)

// One erase command of the plan.
type eraseStep struct {
	address uint32
	block   EraseBlock
}

// planErase covers [start, start+length) exactly with erase commands,
// greedily taking the largest granularity that fits the remaining length and
// whose own alignment is satisfied. Larger blocks erase faster per byte, so
// this minimizes total command count. Fails MisalignedRange when start isn't
// aligned to the smallest granularity or the remainder can't be covered.
func planErase(g *ChipGeometry, start, length uint32) ([]eraseStep, error) {
	min := g.MinEraseSize()
	if start%min != 0 {
		return nil, &MisalignedRangeError{Start: start, Length: length, Granularity: min}
	}
	var steps []eraseStep
	address := start
	remaining := length
	for remaining > 0 {
		picked := false
		for i := len(g.EraseBlocks) - 1; i >= 0; i-- {
			b := g.EraseBlocks[i]
			if b.Size <= remaining && address%b.Size == 0 {
				steps = append(steps, eraseStep{address: address, block: b})
				address += b.Size
				remaining -= b.Size
				picked = true
				break
			}
		}
		if !picked {
			return nil, &MisalignedRangeError{Start: start, Length: length, Granularity: min}
		}
	}
	return steps, nil
}

// Erase resets [address, address+length) to 0xFF. The range must be exactly
// coverable by the chip's granularities. A range spanning the whole chip is
// still erased block by block; only EraseAll issues the chip-erase opcode.
func (s *Session) Erase(address, length uint32) (OperationResult, error) {
	result := OperationResult{}
	if err := s.checkRange(address, int(length)); err != nil {
		return result, err
	}
	steps, err := planErase(&s.geometry, address, length)
	if err != nil {
		return result, err
	}
	if err := s.checkWritable("erase"); err != nil {
		return result, err
	}
	began := time.Now()
	done := 0
	for _, step := range steps {
		if err := s.eraseStep(step); err != nil {
			result.Bytes = done
			result.Elapsed = time.Since(began)
			return result, err
		}
		done += int(step.block.Size)
		s.reportProgress(done, int(length))
	}
	result.Bytes = done
	result.Elapsed = time.Since(began)
	return result, nil
}

func (s *Session) eraseStep(step eraseStep) error {
	cp := commandPass{tr: s.tr}
	cp.Exchange(WriteEnableCommand())
	cp.Exchange(EraseCommand(step.block.Opcode, step.address))
	if err := cp.IsPass(); err != nil {
		return &ReadError{Message: "erase command failed", Err: err}
	}
	if err := s.waitIdle(step.block.Typical); err != nil {
		if errors.Is(err, errStillBusy) {
			return &TimeoutError{Op: "erase", Address: step.address,
				Waited: step.block.Typical * timeoutMultiplier}
		}
		return err
	}
	return nil
}

// EraseAll wipes the entire chip with the single chip-erase opcode. This is
// deliberately a separate entry point: a range erase never promotes to it,
// no matter what the range happens to equal.
func (s *Session) EraseAll() (OperationResult, error) {
	result := OperationResult{}
	if err := s.checkWritable("erase-all"); err != nil {
		return result, err
	}
	began := time.Now()
	cp := commandPass{tr: s.tr}
	cp.Exchange(WriteEnableCommand())
	cp.Exchange(ChipEraseCommand(OpEraseChip))
	if err := cp.IsPass(); err != nil {
		return result, &ReadError{Message: "chip erase command failed", Err: err}
	}
	if err := s.waitIdle(s.geometry.ChipErase); err != nil {
		if errors.Is(err, errStillBusy) {
			return result, &TimeoutError{Op: "erase-all",
				Waited: s.geometry.ChipErase * timeoutMultiplier}
		}
		return result, err
	}
	result.Bytes = int(s.geometry.Capacity)
	result.Elapsed = time.Since(began)
	return result, nil
}
