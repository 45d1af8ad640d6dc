package types

import (
	"encoding/binary"

	"github.com/edgelesssys/go-cctrusted/tdx"
)

// span is a half-open byte range [start, end) within a TD report.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// reportLayout lists the spans of a TD report that depend on the TDX module version.
// Everything else sits at the same offset for all versions.
type reportLayout struct {
	teeTCBSVN2     span
	teeTCBReserved span
	servTDHash     span
	tdInfoReserved span
}

var reportLayouts = map[tdx.Version]reportLayout{
	tdx.Version10: {
		teeTCBReserved: span{384, 495},
		tdInfoReserved: span{912, 1024},
	},
	tdx.Version15: {
		teeTCBSVN2:     span{384, 400},
		teeTCBReserved: span{400, 495},
		servTDHash:     span{912, 960},
		tdInfoReserved: span{960, 1024},
	},
}

const (
	reportMacOffset  = 0
	teeTCBInfoOffset = 256
	reservedOffset   = 495
	tdInfoOffset     = 512
)

// TDReport is a decoded TD report, as returned by the TDX guest driver.
type TDReport struct {
	Version    tdx.Version
	ReportMac  ReportMac
	TEETCBInfo TEETCBInfo
	Reserved   [17]byte
	TDInfo     TDInfo
}

// ReportMac is the MAC-protected header of a TD report.
type ReportMac struct {
	ReportType     [4]byte
	Reserved1      [12]byte
	CPUSVN         [16]byte
	TEETCBInfoHash [48]byte
	TEEInfoHash    [48]byte
	ReportData     [64]byte
	Reserved2      [32]byte
	MAC            [32]byte
}

// TEETCBInfo describes the TDX module the TD runs on.
type TEETCBInfo struct {
	Valid        [8]byte
	TEETCBSVN    [16]byte
	MRSEAM       [48]byte
	MRSIGNERSEAM [48]byte
	Attributes   [8]byte
	TEETCBSVN2   [16]byte // TDX 1.5 only, zero on TDX 1.0
	Reserved     []byte
}

// TDInfo holds the measurements of the TD.
type TDInfo struct {
	Attributes    [8]byte
	XFAM          [8]byte
	MRTD          [48]byte
	MRCONFIGID    [48]byte
	MROWNER       [48]byte
	MROWNERCONFIG [48]byte
	RTMR          [4][48]byte
	ServTDHash    [48]byte // TDX 1.5 only, zero on TDX 1.0
	Reserved      []byte
}

// ParseTDReport decodes a raw TD report. The version selects the layout of the
// version dependent fields and must match the guest device the report came from.
func ParseTDReport(raw []byte, version tdx.Version) (TDReport, error) {
	layout, ok := reportLayouts[version]
	if !ok {
		return TDReport{}, malformed("no TD report layout for TDX version %s", version)
	}
	if len(raw) != tdx.ReportLen {
		return TDReport{}, malformed("TD report must be %d bytes (received: %d bytes)", tdx.ReportLen, len(raw))
	}

	report := TDReport{
		Version:    version,
		ReportMac:  parseReportMac(raw[reportMacOffset:teeTCBInfoOffset]),
		TEETCBInfo: parseTEETCBInfo(raw[teeTCBInfoOffset:reservedOffset]),
		Reserved:   [17]byte(raw[reservedOffset:tdInfoOffset]),
		TDInfo:     parseTDInfo(raw[tdInfoOffset:]),
	}

	if layout.teeTCBSVN2.len() > 0 {
		report.TEETCBInfo.TEETCBSVN2 = [16]byte(raw[layout.teeTCBSVN2.start:layout.teeTCBSVN2.end])
	}
	report.TEETCBInfo.Reserved = clone(raw[layout.teeTCBReserved.start:layout.teeTCBReserved.end])
	if layout.servTDHash.len() > 0 {
		report.TDInfo.ServTDHash = [48]byte(raw[layout.servTDHash.start:layout.servTDHash.end])
	}
	report.TDInfo.Reserved = clone(raw[layout.tdInfoReserved.start:layout.tdInfoReserved.end])

	return report, nil
}

func parseReportMac(raw []byte) ReportMac {
	return ReportMac{
		ReportType:     [4]byte(raw[0:4]),
		Reserved1:      [12]byte(raw[4:16]),
		CPUSVN:         [16]byte(raw[16:32]),
		TEETCBInfoHash: [48]byte(raw[32:80]),
		TEEInfoHash:    [48]byte(raw[80:128]),
		ReportData:     [64]byte(raw[128:192]),
		Reserved2:      [32]byte(raw[192:224]),
		MAC:            [32]byte(raw[224:256]),
	}
}

// parseTEETCBInfo decodes the fields common to all versions.
func parseTEETCBInfo(raw []byte) TEETCBInfo {
	return TEETCBInfo{
		Valid:        [8]byte(raw[0:8]),
		TEETCBSVN:    [16]byte(raw[8:24]),
		MRSEAM:       [48]byte(raw[24:72]),
		MRSIGNERSEAM: [48]byte(raw[72:120]),
		Attributes:   [8]byte(raw[120:128]),
	}
}

// parseTDInfo decodes the fields common to all versions.
func parseTDInfo(raw []byte) TDInfo {
	info := TDInfo{
		Attributes:    [8]byte(raw[0:8]),
		XFAM:          [8]byte(raw[8:16]),
		MRTD:          [48]byte(raw[16:64]),
		MRCONFIGID:    [48]byte(raw[64:112]),
		MROWNER:       [48]byte(raw[112:160]),
		MROWNERCONFIG: [48]byte(raw[160:208]),
	}
	for i := range info.RTMR {
		start := 208 + i*48
		info.RTMR[i] = [48]byte(raw[start : start+48])
	}
	return info
}

// TDAttributes returns the TD attributes as a little-endian integer, matching QuoteBody.TDAttributes.
func (i TDInfo) TDAttributes() uint64 {
	return binary.LittleEndian.Uint64(i.Attributes[:])
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
