package spiflash

import (
	"log"
)

// Identify probes the chip with the JEDEC ID command and resolves its
// geometry from the registry. An all-0xFF or all-0x00 answer means nothing is
// driving the bus (no chip, bad wiring, dead device) and is reported as a
// ReadError rather than an unknown chip.
func Identify(tr Transport) (ChipGeometry, error) {
	cp := commandPass{tr: tr}
	in := cp.Exchange(JedecIDCommand())
	if err := cp.IsPass(); err != nil {
		return ChipGeometry{}, &ReadError{Message: "JEDEC ID probe failed", Err: err}
	}
	id := ChipID{in[1], in[2], in[3]}
	if (id[0] == 0xFF && id[1] == 0xFF && id[2] == 0xFF) ||
		(id[0] == 0x00 && id[1] == 0x00 && id[2] == 0x00) {
		return ChipGeometry{}, &ReadError{
			Message: "no device answered the JEDEC ID probe (bus reads " + id.String() + ")",
		}
	}
	g, ok := LookupChip(id)
	if !ok {
		return ChipGeometry{}, &UnknownDeviceError{ID: id}
	}
	log.Printf("Identified %s\n", g.String())
	return g, nil
}
