package tcg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

/*
	Event log layout (TCG PC Client Platform Firmware Profile, crypto agile format):

	  TCG_PCClientPCREvent (first record, SHA1 "log format")
	    UINT32 pcrIndex
	    UINT32 eventType            EV_NO_ACTION
	    BYTE   digest[20]           zero
	    UINT32 eventDataSize
	    TCG_EfiSpecIDEvent event
	      BYTE   signature[16]      "Spec ID Event03\0"
	      UINT32 platformClass
	      UINT8  specVersionMinor, specVersionMajor, specErrata, uintnSize
	      UINT32 numberOfAlgorithms
	      { UINT16 algorithmId; UINT16 digestSize }[numberOfAlgorithms]
	      UINT8  vendorInfoSize
	      BYTE   vendorInfo[vendorInfoSize]

	  TCG_PCR_EVENT2 (every following record)
	    UINT32 pcrIndex
	    UINT32 eventType
	    UINT32 digestCount
	    { UINT16 algorithmId; BYTE digest[digestSize(algorithmId)] }[digestCount]
	    UINT32 eventSize
	    BYTE   event[eventSize]

	Scanning stops at a record with pcrIndex 0xFFFFFFFF or at the end of the buffer.
*/

const (
	// endOfLogIndex marks unused space after the last record.
	endOfLogIndex       = 0xFFFFFFFF
	specIDDigestSize    = 20
	specIDSignatureSize = 16
)

var (
	// ErrParse is returned for event logs that are empty, truncated or malformed.
	ErrParse = errors.New("malformed event log")
	// ErrRange is returned by Select for out of range windows.
	ErrRange = errors.New("event selection out of range")
)

// AlgorithmSize is one digest algorithm declared by the Spec ID event.
type AlgorithmSize struct {
	AlgID      tpm2.TPMAlgID
	DigestSize uint16
}

// SpecIDEvent is the first record of a crypto agile event log.
type SpecIDEvent struct {
	IMRIndex         uint32
	EventType        EventType
	Digest           [specIDDigestSize]byte
	EventSize        uint32
	Signature        [specIDSignatureSize]byte
	PlatformClass    uint32
	SpecVersionMinor uint8
	SpecVersionMajor uint8
	SpecErrata       uint8
	UintnSize        uint8
	Algorithms       []AlgorithmSize
	VendorInfo       []byte
}

// DigestSize returns the size the log declares for alg.
func (s *SpecIDEvent) DigestSize(alg tpm2.TPMAlgID) (int, bool) {
	for _, a := range s.Algorithms {
		if a.AlgID == alg {
			return int(a.DigestSize), true
		}
	}
	return 0, false
}

// IMREvent is one measurement record.
type IMREvent struct {
	// IMRIndex is the index as recorded in the log. On TDX, index 0 is MRTD and
	// index i > 0 is RTMR i-1.
	IMRIndex  uint32
	EventType EventType
	Digests   []Digest
	Event     []byte
}

// EventLog is a decoded event log.
type EventLog struct {
	Raw    []byte
	SpecID *SpecIDEvent
	Events []IMREvent
}

// Count returns the number of measurement records, not counting the Spec ID event.
func (l *EventLog) Count() int {
	return len(l.Events)
}

// Select returns count events beginning at start, in log order.
func (l *EventLog) Select(start, count int) ([]IMREvent, error) {
	total := len(l.Events)
	if start < 0 || start >= total {
		return nil, fmt.Errorf("%w: start %d, log holds %d events", ErrRange, start, total)
	}
	if count <= 0 || count > total-start {
		return nil, fmt.Errorf("%w: count %d from start %d, log holds %d events", ErrRange, count, start, total)
	}
	return l.Events[start : start+count], nil
}

// ParseEventLog decodes a TCG crypto agile event log.
func ParseEventLog(raw []byte) (*EventLog, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no event log data", ErrParse)
	}

	eventLog := &EventLog{Raw: raw}
	c := &cursor{buf: raw}

	specID, err := parseSpecIDEvent(c)
	if err != nil {
		return nil, fmt.Errorf("parsing spec id event: %w", err)
	}
	if specID == nil {
		return eventLog, nil
	}
	eventLog.SpecID = specID

	for c.remaining() > 0 {
		start := c.off
		event, err := parseIMREvent(c, specID)
		if err != nil {
			return nil, fmt.Errorf("parsing event %d at offset %d: %w", len(eventLog.Events), start, err)
		}
		if event == nil {
			break
		}
		eventLog.Events = append(eventLog.Events, *event)
	}

	return eventLog, nil
}

// parseSpecIDEvent returns nil if the log contains no records.
func parseSpecIDEvent(c *cursor) (*SpecIDEvent, error) {
	imr, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if imr == endOfLogIndex {
		return nil, nil
	}
	eventType, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if EventType(eventType) != EvNoAction {
		return nil, fmt.Errorf("%w: first record has type %s, expected %s", ErrParse, EventType(eventType), EvNoAction)
	}

	specID := &SpecIDEvent{IMRIndex: imr, EventType: EventType(eventType)}
	digest, err := c.next(specIDDigestSize)
	if err != nil {
		return nil, err
	}
	specID.Digest = [specIDDigestSize]byte(digest)
	if specID.EventSize, err = c.uint32(); err != nil {
		return nil, err
	}
	body, err := c.next(int(specID.EventSize))
	if err != nil {
		return nil, err
	}

	e := &cursor{buf: body}
	signature, err := e.next(specIDSignatureSize)
	if err != nil {
		return nil, err
	}
	specID.Signature = [specIDSignatureSize]byte(signature)
	if specID.PlatformClass, err = e.uint32(); err != nil {
		return nil, err
	}
	version, err := e.next(4)
	if err != nil {
		return nil, err
	}
	specID.SpecVersionMinor, specID.SpecVersionMajor = version[0], version[1]
	specID.SpecErrata, specID.UintnSize = version[2], version[3]

	numAlgorithms, err := e.uint32()
	if err != nil {
		return nil, err
	}
	// Every entry takes 4 bytes; reject counts the body cannot hold before allocating.
	if uint64(numAlgorithms)*4 > uint64(e.remaining()) {
		return nil, fmt.Errorf("%w: %d algorithms declared, %d bytes left", ErrParse, numAlgorithms, e.remaining())
	}
	for i := uint32(0); i < numAlgorithms; i++ {
		id, err := e.uint16()
		if err != nil {
			return nil, err
		}
		size, err := e.uint16()
		if err != nil {
			return nil, err
		}
		specID.Algorithms = append(specID.Algorithms, AlgorithmSize{AlgID: tpm2.TPMAlgID(id), DigestSize: size})
	}

	vendorSize, err := e.uint8()
	if err != nil {
		return nil, err
	}
	if specID.VendorInfo, err = e.next(int(vendorSize)); err != nil {
		return nil, err
	}

	return specID, nil
}

// parseIMREvent returns nil at the end of log marker.
func parseIMREvent(c *cursor, specID *SpecIDEvent) (*IMREvent, error) {
	imr, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if imr == endOfLogIndex {
		return nil, nil
	}
	eventType, err := c.uint32()
	if err != nil {
		return nil, err
	}
	event := &IMREvent{IMRIndex: imr, EventType: EventType(eventType)}

	digestCount, err := c.uint32()
	if err != nil {
		return nil, err
	}
	// The smallest digest entry is the 2 byte algorithm id.
	if uint64(digestCount)*2 > uint64(c.remaining()) {
		return nil, fmt.Errorf("%w: %d digests declared, %d bytes left", ErrParse, digestCount, c.remaining())
	}
	for i := uint32(0); i < digestCount; i++ {
		id, err := c.uint16()
		if err != nil {
			return nil, err
		}
		alg := tpm2.TPMAlgID(id)
		size, ok := specID.DigestSize(alg)
		if !ok {
			return nil, fmt.Errorf("%w: unknown algorithm 0x%04x in event log", ErrParse, id)
		}
		hash, err := c.next(size)
		if err != nil {
			return nil, err
		}
		event.Digests = append(event.Digests, Digest{AlgID: alg, Hash: hash})
	}

	eventSize, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if event.Event, err = c.next(int(eventSize)); err != nil {
		return nil, err
	}

	return event, nil
}

// cursor reads little-endian fields from a buffer and reports truncation as ErrParse.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) next(n int) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, fmt.Errorf("%w: truncated at offset %d (need %d bytes, have %d)", ErrParse, c.off, n, c.remaining())
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) uint8() (uint8, error) {
	b, err := c.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) uint16() (uint16, error) {
	b, err := c.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
