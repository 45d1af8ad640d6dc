//go:build linux

package tdx

import (
	"fmt"
	"unsafe"

	"github.com/google/go-configfs-tsm/configfs/configfsi"
	"github.com/google/go-configfs-tsm/configfs/linuxtsm"
	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

// IOCTL calls for report and quote generation.
// https://github.com/torvalds/linux/blob/v6.6/include/uapi/linux/tdx-guest.h
var (
	requestReport10 = ioctl.IOWR('T', 0x01, 8)
	requestReport15 = ioctl.IOWR('T', 0x01, unsafe.Sizeof(reportRequest15{}))
	requestQuote10  = ioctl.IOR('T', 0x02, 8)
	requestQuote15  = ioctl.IOR('T', 0x04, unsafe.Sizeof(quoteRequest{}))
)

/*
reportRequest10 is the structure used to create TD reports on TDX 1.0 drivers.

	struct tdx_report_req {
	       __u8  subtype;
	       __u64 reportdata;
	       __u32 rpd_len;
	       __u64 tdreport;
	       __u32 tdr_len;
	};
*/
type reportRequest10 struct {
	subtype          uint8
	reportData       *[ReportDataLen]byte
	reportDataLength uint32
	tdReport         *[ReportLen]byte
	tdReportLength   uint32
}

// reportRequest15 is the structure used to create TD reports on TDX 1.5 drivers.
type reportRequest15 struct {
	reportData [ReportDataLen]byte
	tdReport   [ReportLen]byte
}

// quoteRequest points the driver at the envelope shared with the QGS.
type quoteRequest struct {
	buf    *byte
	length uint64
}

func requestTDReport(tdx device, version Version, reportData [ReportDataLen]byte) ([ReportLen]byte, error) {
	switch version {
	case Version10:
		return ioctlReport10(tdx, reportData)
	case Version15:
		return ioctlReport15(tdx, reportData)
	default:
		return [ReportLen]byte{}, fmt.Errorf("%w: unsupported TDX version %d", ErrDevice, version)
	}
}

func ioctlReport10(tdx device, reportData [ReportDataLen]byte) ([ReportLen]byte, error) {
	var tdReport [ReportLen]byte
	req := reportRequest10{
		subtype:          0,
		reportData:       &reportData,
		reportDataLength: ReportDataLen,
		tdReport:         &tdReport,
		tdReportLength:   ReportLen,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), requestReport10, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return [ReportLen]byte{}, fmt.Errorf("%w: TDX_CMD_GET_REPORT: %w", ErrIoctl, errno)
	}
	return tdReport, nil
}

func ioctlReport15(tdx device, reportData [ReportDataLen]byte) ([ReportLen]byte, error) {
	req := reportRequest15{reportData: reportData}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), requestReport15, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return [ReportLen]byte{}, fmt.Errorf("%w: TDX_CMD_GET_REPORT0: %w", ErrIoctl, errno)
	}
	return req.tdReport, nil
}

// requestQuote hands envelope to the driver, which writes the QGS response back into it.
func requestQuote(tdx device, version Version, envelope []byte) error {
	var cmd uintptr
	switch version {
	case Version10:
		cmd = requestQuote10
	case Version15:
		cmd = requestQuote15
	default:
		return fmt.Errorf("%w: unsupported TDX version %d", ErrDevice, version)
	}
	if len(envelope) != envelopeSize {
		return fmt.Errorf("%w: quote envelope must be %d bytes, got %d", ErrProtocol, envelopeSize, len(envelope))
	}

	req := quoteRequest{buf: &envelope[0], length: QuoteBufferLen}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, tdx.Fd(), cmd, uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("%w: TDX_CMD_GET_QUOTE: %w", ErrIoctl, errno)
	}
	return nil
}

func newConfigfsClient() (configfsi.Client, error) {
	return linuxtsm.MakeClient()
}
