// Package sdk is the public API for collecting confidential computing evidence:
// reports (quotes), measurement registers and the boot event log, plus event log replay.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/edgelesssys/go-cctrusted/ccnp"
	"github.com/edgelesssys/go-cctrusted/cvm"
	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/edgelesssys/go-cctrusted/tdx/types"
	"github.com/google/go-tpm/tpm2"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// ErrNoBackend is returned by operations that need the local TEE when only a remote report source is available.
var ErrNoBackend = errors.New("no local confidential VM backend")

var log = logrus.WithField("service", "sdk")

// Config configures the SDK.
type Config struct {
	cvm.Config
	// UseCCNP requests reports from the ccnp quote server instead of the local TEE.
	UseCCNP    bool   `json:"useCCNP"`
	CCNPSocket string `json:"ccnpSocket"`
}

// DefaultConfig returns a Config using the local TEE.
func DefaultConfig() Config {
	return Config{
		Config:     cvm.DefaultConfig(),
		CCNPSocket: ccnp.DefaultSocket,
	}
}

// LoadConfig reads a JSON config file. Fields missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// CCReport is the evidence returned by GetCCReport.
type CCReport struct {
	Quote       []byte
	TeeType     cvm.TeeType
	GeneratedAt time.Time
}

// ReplayResult is the replayed value of one measurement register, checked against the live register.
type ReplayResult struct {
	tcg.ReplayResult
	// Verified is set if the replayed value equals the register value of the TEE.
	Verified bool
}

// remoteSource is a report source outside of the local TEE.
type remoteSource interface {
	GetCCReport(ctx context.Context, nonce, userData string) (ccnp.Report, error)
	Close() error
}

// SDK collects evidence from the confidential VM the process runs in.
type SDK struct {
	vm     cvm.CVM
	remote remoteSource
	clock  clock.PassiveClock
}

// New returns an SDK for the TEE described by cfg.
// With UseCCNP set, the SDK still works if the local TEE is not accessible,
// but only GetCCReport, DumpCCReport and ParseCCReport are available then.
func New(cfg Config) (*SDK, error) {
	vm, err := cvm.Build(cfg.Config)
	if err != nil && !cfg.UseCCNP {
		return nil, err
	}
	if err != nil {
		log.WithError(err).Warn("Local TEE not accessible, only remote reports are available")
		vm = nil
	}

	var remote remoteSource
	if cfg.UseCCNP {
		client, err := ccnp.Dial(cfg.CCNPSocket)
		if err != nil {
			return nil, err
		}
		remote = client
	}
	return newSDK(vm, remote, clock.RealClock{}), nil
}

func newSDK(vm cvm.CVM, remote remoteSource, clk clock.PassiveClock) *SDK {
	return &SDK{vm: vm, remote: remote, clock: clk}
}

// Close releases the connection to the remote report source, if any.
func (s *SDK) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}

// TeeType returns the type of the local TEE, or cvm.TeeNone if there is no local backend.
func (s *SDK) TeeType() cvm.TeeType {
	if s.vm == nil {
		return cvm.TeeNone
	}
	return s.vm.TeeType()
}

func (s *SDK) backend() (cvm.CVM, error) {
	if s.vm == nil {
		return nil, ErrNoBackend
	}
	return s.vm, nil
}

// GetCCReport returns a report bound to the base64 encoded nonce and user data.
// The extra arguments are passed on to report providers; none of the current providers takes any.
func (s *SDK) GetCCReport(ctx context.Context, nonce, userData string, extra map[string]any) (CCReport, error) {
	for key := range extra {
		log.Debugf("Ignoring unknown report argument %q", key)
	}

	if s.remote != nil {
		report, err := s.remote.GetCCReport(ctx, nonce, userData)
		if err != nil {
			return CCReport{}, fmt.Errorf("getting CC report: %w", err)
		}
		tee, err := cvm.ParseTeeType(report.QuoteType)
		if err != nil {
			return CCReport{}, fmt.Errorf("getting CC report: %w", err)
		}
		return CCReport{Quote: report.Quote, TeeType: tee, GeneratedAt: s.clock.Now()}, nil
	}

	vm, err := s.backend()
	if err != nil {
		return CCReport{}, err
	}
	evidence, err := vm.ProcessCCReport(nonce, userData)
	if err != nil {
		return CCReport{}, err
	}
	return CCReport{Quote: evidence.Quote, TeeType: vm.TeeType(), GeneratedAt: evidence.GeneratedAt}, nil
}

// DumpCCReport logs a hexdump of report.
func (s *SDK) DumpCCReport(report []byte) {
	cvm.HexDump(report)
}

// ParseCCReport decodes a TDX quote.
func (s *SDK) ParseCCReport(report []byte) (types.QuoteV4, error) {
	quote, err := types.ParseQuote(report)
	if err != nil {
		return types.QuoteV4{}, fmt.Errorf("parsing CC report: %w", err)
	}
	return quote, nil
}

// GetMeasurementCount returns the number of measurement registers of the TEE.
func (s *SDK) GetMeasurementCount() (int, error) {
	vm, err := s.backend()
	if err != nil {
		return 0, err
	}
	return vm.MeasurementCount(), nil
}

// GetCCMeasurement returns measurement register index.
func (s *SDK) GetCCMeasurement(index int, alg tpm2.TPMAlgID) (tcg.IMR, error) {
	vm, err := s.backend()
	if err != nil {
		return tcg.IMR{}, err
	}
	return vm.ProcessCCMeasurement(index, alg)
}

// GetDefaultAlgorithm returns the digest algorithm of the TEE's measurement registers.
func (s *SDK) GetDefaultAlgorithm() (tcg.Algorithm, error) {
	vm, err := s.backend()
	if err != nil {
		return tcg.Algorithm{}, err
	}
	return vm.DefaultAlgorithm(), nil
}

// GetCCEventLog returns events of the boot event log.
// Without arguments, all events are returned. GetCCEventLog(start) returns the events from start
// to the end of the log, GetCCEventLog(start, count) returns count events beginning at start.
func (s *SDK) GetCCEventLog(params ...int) ([]tcg.IMREvent, error) {
	if len(params) > 2 {
		return nil, fmt.Errorf("getting CC event log: %w: expected at most start and count, got %d arguments", tcg.ErrRange, len(params))
	}

	vm, err := s.backend()
	if err != nil {
		return nil, err
	}
	eventLog, err := vm.ProcessCCEventLog()
	if err != nil {
		return nil, err
	}

	switch len(params) {
	case 0:
		return eventLog.Events, nil
	case 1:
		return eventLog.Select(params[0], eventLog.Count()-params[0])
	default:
		return eventLog.Select(params[0], params[1])
	}
}

// ReplayCCEventLog replays events and checks every resulting register against the TEE.
// Log index i is checked against measurement register i-1, so index 0 (MRTD on TDX) is never verified.
func (s *SDK) ReplayCCEventLog(events []tcg.IMREvent) ([]ReplayResult, error) {
	replayed, err := tcg.Replay(events)
	if err != nil {
		return nil, err
	}

	results := make([]ReplayResult, 0, len(replayed))
	for _, r := range replayed {
		result := ReplayResult{ReplayResult: r}
		if r.IMRIndex > 0 && s.vm != nil && int(r.IMRIndex) <= s.vm.MeasurementCount() {
			measured, err := s.vm.ProcessCCMeasurement(int(r.IMRIndex)-1, r.Digest.AlgID)
			switch {
			case errors.Is(err, tcg.ErrUnknownAlgorithm):
				log.WithError(err).Debugf("Not verifying register %d", r.IMRIndex-1)
			case err != nil:
				return nil, fmt.Errorf("replaying CC event log: %w", err)
			default:
				result.Verified = r.Matches(measured.Digest)
			}
		}
		results = append(results, result)
	}
	return results, nil
}
