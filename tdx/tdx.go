// Package tdx provides functionality to interact with the Intel TDX guest device:
// deriving report data, requesting TD reports and quotes through the guest driver's
// ioctl interface, and requesting quotes through the configfs-tsm report interface.
package tdx

import (
	"errors"
	"fmt"
	"os"

	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/google/go-tpm/tpm2"
	"github.com/sirupsen/logrus"
)

const (
	// GuestDevice10 is the path to the TDX 1.0 guest device.
	GuestDevice10 = "/dev/tdx-guest"
	// GuestDevice15 is the path to the TDX 1.5 guest device.
	GuestDevice15 = "/dev/tdx_guest"

	// ReportDataLen is the size of the user defined data bound into a TD report.
	ReportDataLen = 64
	// ReportLen is the size of a TD report.
	ReportLen = 1024
	// QuoteBufferLen is the size of the buffer shared with the QGS.
	// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L103
	QuoteBufferLen = 4 * 4 * 1024

	// RTMRMaxIndex is the index of the last runtime measurement register.
	RTMRMaxIndex = 3
	// RTMRCount is the number of runtime measurement registers.
	RTMRCount = RTMRMaxIndex + 1
	// DefaultAlgorithm is the digest algorithm of MRTD and the RTMRs.
	DefaultAlgorithm = tcg.AlgSHA384
)

var (
	// ErrEncoding is returned for nonce or user data that is not valid base64.
	ErrEncoding = errors.New("invalid base64 encoding")
	// ErrDevice is returned if the guest device is missing or cannot be opened.
	ErrDevice = errors.New("TDX guest device unavailable")
	// ErrIoctl is returned if the guest driver rejects a request.
	ErrIoctl = errors.New("TDX guest ioctl failed")
	// ErrProtocol is returned if the QGS response does not have the expected format.
	ErrProtocol = errors.New("unexpected QGS response")
)

var log = logrus.WithField("service", "tdx")

// Version is the generation of the TDX module, as exposed by the guest driver.
type Version int

// Supported TDX module generations.
const (
	VersionUnknown Version = iota
	Version10
	Version15
)

func (v Version) String() string {
	switch v {
	case Version10:
		return "1.0"
	case Version15:
		return "1.5"
	default:
		return "unknown"
	}
}

// DevicePath returns the guest device node of v.
func (v Version) DevicePath() string {
	switch v {
	case Version10:
		return GuestDevice10
	case Version15:
		return GuestDevice15
	default:
		return ""
	}
}

// DetectVersion returns the TDX module generation by probing the guest device nodes.
func DetectVersion() (Version, error) {
	return detectVersion(exists)
}

func detectVersion(exists func(path string) bool) (Version, error) {
	for _, v := range []Version{Version10, Version15} {
		if exists(v.DevicePath()) {
			return v, nil
		}
	}
	return VersionUnknown, fmt.Errorf("%w: neither %s nor %s exists", ErrDevice, GuestDevice10, GuestDevice15)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewRTMR creates a validated runtime measurement register value.
func NewRTMR(index int, alg tpm2.TPMAlgID, digest []byte) (tcg.IMR, error) {
	return tcg.NewIMR(RTMRMaxIndex, index, alg, digest)
}

// Evidence is the result of a quote request.
type Evidence struct {
	// TDReport is the raw report the quote was generated from.
	// It is nil for providers that do not expose it.
	TDReport []byte
	Quote    []byte
}

// QuoteProvider generates quotes bound to the given report data.
type QuoteProvider interface {
	GenerateQuote(reportData [ReportDataLen]byte) (Evidence, error)
}

// device is a handle to the TDX guest device.
type device interface {
	Fd() uintptr
}

// Device requests reports and quotes through the TDX guest device.
// Every request opens and closes the device node.
type Device struct {
	version Version
	path    string
}

// NewDevice detects the TDX module generation and returns a Device for it.
func NewDevice() (*Device, error) {
	version, err := DetectVersion()
	if err != nil {
		return nil, err
	}
	return NewDeviceForVersion(version)
}

// NewDeviceForVersion returns a Device for the guest device node of version.
func NewDeviceForVersion(version Version) (*Device, error) {
	path := version.DevicePath()
	if path == "" {
		return nil, fmt.Errorf("%w: unsupported TDX version %d", ErrDevice, version)
	}
	return &Device{version: version, path: path}, nil
}

// Version returns the TDX module generation the device speaks.
func (d *Device) Version() Version {
	return d.version
}

// GetTDReport returns a TD report binding reportData.
func (d *Device) GetTDReport(reportData [ReportDataLen]byte) ([ReportLen]byte, error) {
	tdx, err := d.open()
	if err != nil {
		return [ReportLen]byte{}, err
	}
	defer tdx.Close()

	log.Debugf("Requesting TD report from %s (TDX %s)", d.path, d.version)
	report, err := requestTDReport(tdx, d.version, reportData)
	if err != nil {
		return [ReportLen]byte{}, fmt.Errorf("getting TD report: %w", err)
	}
	return report, nil
}

// GetQuote wraps tdReport in a QGS request and returns the signed quote.
func (d *Device) GetQuote(tdReport [ReportLen]byte) ([]byte, error) {
	tdx, err := d.open()
	if err != nil {
		return nil, err
	}
	defer tdx.Close()

	envelope := newQuoteEnvelope(tdReport)
	log.Debugf("Requesting quote from %s (TDX %s)", d.path, d.version)
	if err := requestQuote(tdx, d.version, envelope); err != nil {
		return nil, fmt.Errorf("getting quote: %w", err)
	}

	quote, err := parseQuoteEnvelope(envelope)
	if err != nil {
		return nil, fmt.Errorf("getting quote: %w", err)
	}
	log.Debugf("Received quote of %d bytes", len(quote))
	return quote, nil
}

// GenerateQuote requests a TD report for reportData and turns it into a quote.
func (d *Device) GenerateQuote(reportData [ReportDataLen]byte) (Evidence, error) {
	tdReport, err := d.GetTDReport(reportData)
	if err != nil {
		return Evidence{}, err
	}
	quote, err := d.GetQuote(tdReport)
	if err != nil {
		return Evidence{}, err
	}
	return Evidence{TDReport: tdReport[:], Quote: quote}, nil
}

func (d *Device) open() (*os.File, error) {
	tdx, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrDevice, d.path, err)
	}
	return tdx, nil
}
