package spiflash

// Read returns length bytes starting at address. The chip streams reads of
// any length; chunking exists only to bound buffers and give the progress
// callback something to report. Reads never mutate and never busy-wait.
func (s *Session) Read(address uint32, length int) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	done := 0
	for done < length {
		n := length - done
		if n > s.chunkSize {
			n = s.chunkSize
		}
		cp := commandPass{tr: s.tr}
		in := cp.Exchange(ReadCommand(address+uint32(done), n))
		if err := cp.IsPass(); err != nil {
			return nil, &ReadError{Message: "read command failed", Err: err}
		}
		copy(out[done:], in[readOverhead:])
		done += n
		s.reportProgress(done, length)
	}
	return out, nil
}
