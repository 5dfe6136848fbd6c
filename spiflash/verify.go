package spiflash

// Verify re-reads len(expected) bytes at address and compares byte for byte.
// Returns the offset of the first mismatch relative to address, or -1 when
// everything matches. Purely a read; always safe to run again.
func (s *Session) Verify(address uint32, expected []byte) (int, error) {
	actual, err := s.Read(address, len(expected))
	if err != nil {
		return 0, err
	}
	for i := range expected {
		if actual[i] != expected[i] {
			return i, nil
		}
	}
	return -1, nil
}
