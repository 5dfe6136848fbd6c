package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/xingxinonline/gospiflash/spiflash"
)

// Dump the built-in chip registry as json. Handy for checking what a given
// build supports, and as a starting point for a --chips overlay file.
func main() {
	chips := spiflash.KnownChips()
	out := make([]map[string]interface{}, 0, len(chips))
	for _, g := range chips {
		entry := make(map[string]interface{})
		entry["Id"] = g.ID.String()
		entry["Manufacturer"] = g.Manufacturer()
		entry["Name"] = g.Name
		entry["Capacity"] = g.Capacity
		entry["PageSize"] = g.PageSize
		erases := make([]map[string]interface{}, 0, len(g.EraseBlocks))
		for _, b := range g.EraseBlocks {
			erases = append(erases, map[string]interface{}{
				"Size":    b.Size,
				"Opcode":  fmt.Sprintf("0x%02X", b.Opcode),
				"Typical": b.Typical.String(),
			})
		}
		entry["EraseBlocks"] = erases
		entry["MaxClockHz"] = g.MaxClockHz
		out = append(out, entry)
	}
	rawjson, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalln("Couldn't serialize json: ", err)
	}
	fmt.Println(string(rawjson))
}
