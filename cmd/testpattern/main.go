package main

import (
	"fmt"
	"os"

	"github.com/xingxinonline/gospiflash/spiflash"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: go run main.go <filename> <length>")
		return
	}

	// Get the length (accepts "64K" style sizes)
	length, err := spiflash.ParseSize(os.Args[2])
	if err != nil {
		fmt.Println("Error: can't parse length: ", err)
		return
	}

	// Open the binary file
	filename := os.Args[1]
	file, err := os.Create(filename)
	if err != nil {
		fmt.Println("Error opening file:", err)
		return
	}
	defer file.Close()

	data := make([]byte, length)

	// Write very obvious data: constantly increasing values. Reading this
	// back from a chip makes address mixups jump out immediately.
	for i := int64(0); i < length; i++ {
		data[i] = uint8(i & 0xFF)
	}

	_, err = file.Write(data)
	if err != nil {
		fmt.Println("Error writing file: ", err)
		return
	}

	fmt.Println("Wrote file ", filename)
}
