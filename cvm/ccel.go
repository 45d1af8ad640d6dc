package cvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CCEL ACPI table: standard 36 byte ACPI header, then
// cc_type(1) cc_subtype(1) reserved(2) log_area_minimum_length(8) log_area_start_address(8).
const (
	ccelSignature  = "CCEL"
	ccelTableLen   = 56
	ccelLAMLOffset = 40
)

// ReadCCEL returns the CC event log at logPath. If the CCEL ACPI table at tablePath exists,
// its signature is checked and the log is cut to the log area length it declares.
func ReadCCEL(logPath, tablePath string) ([]byte, error) {
	eventLog, err := os.ReadFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("reading CC event log: %w", err)
	}

	table, err := os.ReadFile(tablePath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debugf("No CCEL table at %s, using the whole event log", tablePath)
		return eventLog, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading CCEL table: %w", err)
	}

	logAreaLen, err := parseCCELTable(table)
	if err != nil {
		return nil, err
	}
	if logAreaLen < uint64(len(eventLog)) {
		eventLog = eventLog[:logAreaLen]
	}
	return eventLog, nil
}

// parseCCELTable returns the log area minimum length of a CCEL ACPI table.
func parseCCELTable(table []byte) (uint64, error) {
	if len(table) < ccelTableLen {
		return 0, fmt.Errorf("parsing CCEL table: table is too short (%d bytes)", len(table))
	}
	if string(table[0:4]) != ccelSignature {
		return 0, fmt.Errorf("parsing CCEL table: invalid signature %q", table[0:4])
	}
	return binary.LittleEndian.Uint64(table[ccelLAMLOffset : ccelLAMLOffset+8]), nil
}
