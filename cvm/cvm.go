// Package cvm selects and drives the attestation backend of the confidential VM the
// process runs in. Build returns a CVM for the detected (or configured) TEE type;
// only TDX has a backend.
package cvm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/google/go-tpm/tpm2"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedTee is returned by Build for TEE types without a backend.
var ErrUnsupportedTee = errors.New("unsupported TEE type")

var log = logrus.WithField("service", "cvm")

// TeeType is the kind of trusted execution environment.
type TeeType int32

// Known TEE types.
const (
	TeeNone TeeType = -1
	TeeTPM  TeeType = 0
	TeeTDX  TeeType = 1
	TeeSEV  TeeType = 2
	TeeCCA  TeeType = 3
)

func (t TeeType) String() string {
	switch t {
	case TeeTPM:
		return "TPM"
	case TeeTDX:
		return "TDX"
	case TeeSEV:
		return "SEV"
	case TeeCCA:
		return "CCA"
	default:
		return "NONE"
	}
}

// ParseTeeType parses the name of a TEE type, case insensitive.
func ParseTeeType(name string) (TeeType, error) {
	for _, t := range []TeeType{TeeNone, TeeTPM, TeeTDX, TeeSEV, TeeCCA} {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return TeeNone, fmt.Errorf("%w: %q", ErrUnsupportedTee, name)
}

// teeDevices is probed in order by DetectTeeType.
var teeDevices = []struct {
	path string
	tee  TeeType
}{
	{"/dev/tpm0", TeeTPM},
	{"/dev/tdx-guest", TeeTDX},
	{"/dev/tdx_guest", TeeTDX},
	{"/dev/sev-guest", TeeSEV},
}

// DetectTeeType returns the TEE type of the first guest device node found,
// or TeeNone if there is none.
func DetectTeeType() TeeType {
	return detectTeeType(func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func detectTeeType(exists func(string) bool) TeeType {
	for _, dev := range teeDevices {
		if exists(dev.path) {
			return dev.tee
		}
	}
	return TeeNone
}

// Evidence is the result of a report request.
type Evidence struct {
	ReportData [64]byte
	// TDReport is nil if the quote provider does not expose it.
	TDReport    []byte
	Quote       []byte
	GeneratedAt time.Time
}

// CVM is the attestation backend of a confidential VM.
type CVM interface {
	TeeType() TeeType
	DefaultAlgorithm() tcg.Algorithm
	MeasurementCount() int
	// ProcessCCReport requests evidence bound to the base64 encoded nonce and user data.
	ProcessCCReport(nonce, userData string) (Evidence, error)
	// ProcessCCMeasurement returns measurement register index of the last processed evidence.
	ProcessCCMeasurement(index int, alg tpm2.TPMAlgID) (tcg.IMR, error)
	// ProcessCCEventLog reads and parses the boot event log.
	ProcessCCEventLog() (*tcg.EventLog, error)
	// Dump logs the last processed evidence.
	Dump() error
}

// Build returns the backend for the TEE type named in cfg, detecting it if cfg.Tee is "auto" or empty.
func Build(cfg Config) (CVM, error) {
	tee, err := cfg.teeType()
	if err != nil {
		return nil, err
	}
	log.WithField("tee", tee).Info("Building confidential VM backend")

	switch tee {
	case TeeTDX:
		vm, err := NewTdxVM(cfg)
		if err != nil {
			return nil, err
		}
		return vm, nil
	default:
		return nil, fmt.Errorf("building confidential VM backend: %w: %s", ErrUnsupportedTee, tee)
	}
}
