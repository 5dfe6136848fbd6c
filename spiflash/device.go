package spiflash

import (
	"fmt"
	"io"
	"math/bits"
	"sort"
	"time"

	"github.com/pelletier/go-toml"
)

// JEDEC manufacturer names keyed by the first ID byte.
var jedecManufacturerNames = map[byte]string{
	0x01: "Spansion",
	0x14: "Cypress",
	0x1C: "EON",
	0x1F: "Adesto(Atmel)",
	0x20: "Micron",
	0x37: "AMIC",
	0x9D: "ISSI",
	0xBF: "Microchip",
	0xC2: "Macronix",
	0xC8: "Giga Device",
	0xEF: "Winbond",
}

func ManufacturerName(id byte) string {
	if name, ok := jedecManufacturerNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", id)
}

// ChipID is the 3 bytes a chip answers the JEDEC ID probe with:
// manufacturer, device type, capacity code.
type ChipID [3]byte

func (id ChipID) String() string {
	return fmt.Sprintf("%02X%02X%02X", id[0], id[1], id[2])
}

// One erase granularity the chip supports, with its opcode and the typical
// duration from the datasheet. Timeouts are derived from Typical.
type EraseBlock struct {
	Size    uint32
	Opcode  byte
	Typical time.Duration
}

// ChipGeometry describes everything the engine needs to drive one chip
// model. Resolved once at identification time and never mutated.
type ChipGeometry struct {
	ID       ChipID
	Name     string
	Capacity uint32
	PageSize uint32
	// Ascending by size. The erase planner picks greedily from the back.
	EraseBlocks []EraseBlock
	PageProgram time.Duration
	ChipErase   time.Duration
	MaxClockHz  uint32
}

func (g *ChipGeometry) Manufacturer() string { return ManufacturerName(g.ID[0]) }

func (g *ChipGeometry) MinEraseSize() uint32 { return g.EraseBlocks[0].Size }

func (g *ChipGeometry) MaxEraseSize() uint32 {
	return g.EraseBlocks[len(g.EraseBlocks)-1].Size
}

func (g *ChipGeometry) String() string {
	return fmt.Sprintf("%s %s (%s, %d bytes)", g.Manufacturer(), g.Name, g.ID, g.Capacity)
}

// The common 4K/32K/64K layout shared by most chips in the registry.
func standardEraseBlocks() []EraseBlock {
	return []EraseBlock{
		{Size: 4096, Opcode: OpErase4K, Typical: 60 * time.Millisecond},
		{Size: 32768, Opcode: OpErase32K, Typical: 160 * time.Millisecond},
		{Size: 65536, Opcode: OpErase64K, Typical: 400 * time.Millisecond},
	}
}

// Typical datasheet figures, not worst cases. The busy-wait multiplies these
// by a safety factor before declaring a timeout.
var chipRegistry = map[ChipID]ChipGeometry{
	{0xEF, 0x40, 0x15}: {
		ID: ChipID{0xEF, 0x40, 0x15}, Name: "W25Q16", Capacity: 2 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 3 * time.Millisecond, ChipErase: 25 * time.Second,
		MaxClockHz: 50_000_000,
	},
	{0xEF, 0x40, 0x16}: {
		ID: ChipID{0xEF, 0x40, 0x16}, Name: "W25Q32", Capacity: 4 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 3 * time.Millisecond, ChipErase: 50 * time.Second,
		MaxClockHz: 50_000_000,
	},
	{0xEF, 0x40, 0x17}: {
		ID: ChipID{0xEF, 0x40, 0x17}, Name: "W25Q64", Capacity: 8 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 3 * time.Millisecond, ChipErase: 100 * time.Second,
		MaxClockHz: 50_000_000,
	},
	{0xEF, 0x40, 0x18}: {
		ID: ChipID{0xEF, 0x40, 0x18}, Name: "W25Q128", Capacity: 16 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 3 * time.Millisecond, ChipErase: 200 * time.Second,
		MaxClockHz: 50_000_000,
	},
	{0x20, 0xBA, 0x16}: {
		ID: ChipID{0x20, 0xBA, 0x16}, Name: "N25Q032", Capacity: 4 << 20,
		PageSize: 256,
		EraseBlocks: []EraseBlock{
			{Size: 4096, Opcode: OpErase4K, Typical: 800 * time.Millisecond},
			{Size: 65536, Opcode: OpErase64K, Typical: 3 * time.Second},
		},
		PageProgram: 5 * time.Millisecond, ChipErase: 60 * time.Second,
		MaxClockHz: 54_000_000,
	},
	{0xC2, 0x20, 0x18}: {
		ID: ChipID{0xC2, 0x20, 0x18}, Name: "MX25L12835F", Capacity: 16 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 4 * time.Millisecond, ChipErase: 240 * time.Second,
		MaxClockHz: 50_000_000,
	},
	{0xC8, 0x40, 0x17}: {
		ID: ChipID{0xC8, 0x40, 0x17}, Name: "GD25Q64", Capacity: 8 << 20,
		PageSize: 256, EraseBlocks: standardEraseBlocks(),
		PageProgram: 3 * time.Millisecond, ChipErase: 120 * time.Second,
		MaxClockHz: 80_000_000,
	},
}

func LookupChip(id ChipID) (ChipGeometry, bool) {
	g, ok := chipRegistry[id]
	return g, ok
}

// All registered chips, sorted by name. Mostly for tooling output.
func KnownChips() []ChipGeometry {
	chips := make([]ChipGeometry, 0, len(chipRegistry))
	for _, g := range chipRegistry {
		chips = append(chips, g)
	}
	sort.Slice(chips, func(i, j int) bool { return chips[i].Name < chips[j].Name })
	return chips
}

// RegisterChip adds (or replaces) a geometry in the registry.
func RegisterChip(g ChipGeometry) error {
	if g.Capacity == 0 || g.PageSize == 0 {
		return fmt.Errorf("chip %s: capacity and page size must be set", g.Name)
	}
	if len(g.EraseBlocks) == 0 {
		return fmt.Errorf("chip %s: at least one erase granularity required", g.Name)
	}
	sort.Slice(g.EraseBlocks, func(i, j int) bool {
		return g.EraseBlocks[i].Size < g.EraseBlocks[j].Size
	})
	for _, b := range g.EraseBlocks {
		if b.Size == 0 || g.Capacity%b.Size != 0 {
			return fmt.Errorf("chip %s: erase size %d doesn't divide capacity %d",
				g.Name, b.Size, g.Capacity)
		}
	}
	chipRegistry[g.ID] = g
	return nil
}

// On-disk form of a user supplied chip registry. Sizes accept the usual
// suffixed notation ("16M", "4K") so the file reads like a datasheet.
type chipRegistryFile struct {
	Chip []struct {
		Name       string  `toml:"name"`
		ID         []int64 `toml:"id"`
		Capacity   string  `toml:"capacity"`
		Page       int64   `toml:"page"`
		MaxClockHz int64   `toml:"max_clock_hz"`
		Erase      []struct {
			Size      string `toml:"size"`
			Opcode    int64  `toml:"opcode"`
			TypicalMs int64  `toml:"typical_ms"`
		} `toml:"erase"`
		PageProgramMs int64 `toml:"page_program_ms"`
		ChipEraseMs   int64 `toml:"chip_erase_ms"`
	} `toml:"chip"`
}

// LoadChipRegistry merges chip definitions from a TOML document into the
// registry, returning how many were added.
func LoadChipRegistry(r io.Reader) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var file chipRegistryFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("couldn't parse chip registry: %w", err)
	}
	for i, c := range file.Chip {
		if len(c.ID) != 3 {
			return i, fmt.Errorf("chip %q: id must be 3 bytes", c.Name)
		}
		capacity, err := ParseSize(c.Capacity)
		if err != nil {
			return i, fmt.Errorf("chip %q: bad capacity: %w", c.Name, err)
		}
		g := ChipGeometry{
			ID:          ChipID{byte(c.ID[0]), byte(c.ID[1]), byte(c.ID[2])},
			Name:        c.Name,
			Capacity:    uint32(capacity),
			PageSize:    uint32(c.Page),
			PageProgram: time.Duration(c.PageProgramMs) * time.Millisecond,
			ChipErase:   time.Duration(c.ChipEraseMs) * time.Millisecond,
			MaxClockHz:  uint32(c.MaxClockHz),
		}
		if g.PageSize == 0 {
			g.PageSize = 256
		}
		if g.PageProgram == 0 {
			g.PageProgram = 5 * time.Millisecond
		}
		for _, e := range c.Erase {
			size, err := ParseSize(e.Size)
			if err != nil {
				return i, fmt.Errorf("chip %q: bad erase size: %w", c.Name, err)
			}
			g.EraseBlocks = append(g.EraseBlocks, EraseBlock{
				Size:    uint32(size),
				Opcode:  byte(e.Opcode),
				Typical: time.Duration(e.TypicalMs) * time.Millisecond,
			})
		}
		if err := RegisterChip(g); err != nil {
			return i, err
		}
	}
	return len(file.Chip), nil
}

// SimGeometry builds a geometry for the simulated transport: given capacity,
// 256 byte pages, 4K/64K erases. The ID is deliberately outside any real
// manufacturer's space, with the JEDEC-style log2 capacity code.
func SimGeometry(capacity uint32) ChipGeometry {
	return ChipGeometry{
		ID:       ChipID{0x00, 0x51, byte(bits.Len32(capacity - 1))},
		Name:     "simulated",
		Capacity: capacity,
		PageSize: 256,
		EraseBlocks: []EraseBlock{
			{Size: 4096, Opcode: OpErase4K, Typical: 60 * time.Millisecond},
			{Size: 65536, Opcode: OpErase64K, Typical: 400 * time.Millisecond},
		},
		PageProgram: 3 * time.Millisecond,
		ChipErase:   10 * time.Second,
		MaxClockHz:  1_000_000,
	}
}
