package cvm

import (
	"encoding/hex"
	"strings"
)

// HexDump logs data in hexdump -C format, one line per log entry.
func HexDump(data []byte) {
	for _, line := range strings.Split(strings.TrimSuffix(hex.Dump(data), "\n"), "\n") {
		if line != "" {
			log.Info(line)
		}
	}
}
