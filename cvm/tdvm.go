package cvm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/edgelesssys/go-cctrusted/tdx"
	"github.com/edgelesssys/go-cctrusted/tdx/types"
	"github.com/google/go-tpm/tpm2"
	"k8s.io/utils/clock"
)

// errNoEvidence is returned by Dump before any evidence was processed.
var errNoEvidence = errors.New("no evidence processed yet")

// TdxVM is the CVM backend of an Intel TDX trust domain.
type TdxVM struct {
	cfg      Config
	version  tdx.Version
	provider tdx.QuoteProvider
	clock    clock.PassiveClock

	mux  sync.Mutex
	last *Evidence
}

// NewTdxVM returns a TDX backend using the quote provider selected in cfg.
func NewTdxVM(cfg Config) (*TdxVM, error) {
	var provider tdx.QuoteProvider
	var version tdx.Version

	switch cfg.QuoteProvider {
	case "", ProviderIoctl:
		dev, err := tdx.NewDevice()
		if err != nil {
			return nil, fmt.Errorf("opening TDX guest device: %w", err)
		}
		provider, version = dev, dev.Version()
	case ProviderConfigfs:
		p, err := tdx.NewConfigfsProvider()
		if err != nil {
			return nil, err
		}
		// The device node is only needed to know the TD report layout,
		// which configfs does not return anyway.
		if version, err = tdx.DetectVersion(); err != nil {
			log.WithError(err).Debug("Unknown TDX version")
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown quote provider %q", cfg.QuoteProvider)
	}

	log.WithField("version", version).WithField("provider", cfg.QuoteProvider).Info("Using TDX backend")
	return newTdxVM(cfg, version, provider, clock.RealClock{}), nil
}

func newTdxVM(cfg Config, version tdx.Version, provider tdx.QuoteProvider, clk clock.PassiveClock) *TdxVM {
	return &TdxVM{
		cfg:      cfg,
		version:  version,
		provider: provider,
		clock:    clk,
	}
}

// TeeType returns TeeTDX.
func (v *TdxVM) TeeType() TeeType {
	return TeeTDX
}

// Version returns the TDX module generation.
func (v *TdxVM) Version() tdx.Version {
	return v.version
}

// DefaultAlgorithm returns SHA-384, the algorithm of all TDX measurement registers.
func (v *TdxVM) DefaultAlgorithm() tcg.Algorithm {
	alg, _ := tcg.LookupAlgorithm(tdx.DefaultAlgorithm)
	return alg
}

// MeasurementCount returns the number of RTMRs.
func (v *TdxVM) MeasurementCount() int {
	return tdx.RTMRCount
}

// ProcessCCReport requests a quote bound to SHA-512(nonce || userData).
func (v *TdxVM) ProcessCCReport(nonce, userData string) (Evidence, error) {
	reportData, err := tdx.DeriveReportData(nonce, userData)
	if err != nil {
		return Evidence{}, fmt.Errorf("processing CC report: %w", err)
	}
	return v.generate(reportData)
}

func (v *TdxVM) generate(reportData [tdx.ReportDataLen]byte) (Evidence, error) {
	generated, err := v.provider.GenerateQuote(reportData)
	if err != nil {
		return Evidence{}, fmt.Errorf("processing CC report: %w", err)
	}

	evidence := Evidence{
		ReportData:  reportData,
		TDReport:    generated.TDReport,
		Quote:       generated.Quote,
		GeneratedAt: v.clock.Now(),
	}

	v.mux.Lock()
	v.last = &evidence
	v.mux.Unlock()
	return evidence, nil
}

func (v *TdxVM) lastEvidence() (Evidence, bool) {
	v.mux.Lock()
	defer v.mux.Unlock()
	if v.last == nil {
		return Evidence{}, false
	}
	return *v.last, true
}

// ProcessCCMeasurement returns RTMR index. The value is taken from the last processed evidence,
// or from fresh evidence bound to zeroed report data if there is none.
func (v *TdxVM) ProcessCCMeasurement(index int, alg tpm2.TPMAlgID) (tcg.IMR, error) {
	if index < 0 || index > tdx.RTMRMaxIndex {
		return tcg.IMR{}, fmt.Errorf("processing CC measurement: %w: RTMR %d", tcg.ErrIndexOutOfRange, index)
	}
	if _, err := tcg.LookupAlgorithm(alg); err != nil {
		return tcg.IMR{}, fmt.Errorf("processing CC measurement: %w", err)
	}
	if alg != tdx.DefaultAlgorithm {
		return tcg.IMR{}, fmt.Errorf("processing CC measurement: %w: RTMRs only hold %s digests", tcg.ErrUnknownAlgorithm, v.DefaultAlgorithm())
	}

	evidence, ok := v.lastEvidence()
	if !ok {
		var err error
		if evidence, err = v.generate([tdx.ReportDataLen]byte{}); err != nil {
			return tcg.IMR{}, err
		}
	}

	rtmrs, err := v.rtmrs(evidence)
	if err != nil {
		return tcg.IMR{}, fmt.Errorf("processing CC measurement: %w", err)
	}
	return tdx.NewRTMR(index, alg, rtmrs[index][:])
}

// rtmrs decodes the RTMRs from the TD report if there is one, and from the quote otherwise.
func (v *TdxVM) rtmrs(evidence Evidence) ([tdx.RTMRCount][48]byte, error) {
	if evidence.TDReport != nil && v.version != tdx.VersionUnknown {
		report, err := types.ParseTDReport(evidence.TDReport, v.version)
		if err != nil {
			return [tdx.RTMRCount][48]byte{}, err
		}
		return report.TDInfo.RTMR, nil
	}

	quote, err := types.ParseQuote(evidence.Quote)
	if err != nil {
		return [tdx.RTMRCount][48]byte{}, err
	}
	return quote.Body.RTMR, nil
}

// ProcessCCEventLog reads and parses the CCEL event log.
func (v *TdxVM) ProcessCCEventLog() (*tcg.EventLog, error) {
	raw, err := ReadCCEL(v.cfg.EventLogPath, v.cfg.CCELTablePath)
	if err != nil {
		return nil, fmt.Errorf("processing CC event log: %w", err)
	}
	eventLog, err := tcg.ParseEventLog(raw)
	if err != nil {
		return nil, fmt.Errorf("processing CC event log: %w", err)
	}
	log.Debugf("Parsed %d events from %s", eventLog.Count(), v.cfg.EventLogPath)
	return eventLog, nil
}

// Dump logs a hexdump of the last processed quote.
func (v *TdxVM) Dump() error {
	evidence, ok := v.lastEvidence()
	if !ok {
		return fmt.Errorf("dumping CC report: %w", errNoEvidence)
	}
	log.WithField("generatedAt", evidence.GeneratedAt).Infof("TDX quote (%d bytes)", len(evidence.Quote))
	HexDump(evidence.Quote)
	return nil
}
