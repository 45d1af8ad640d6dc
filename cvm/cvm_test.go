package cvm

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgelesssys/go-cctrusted/tcg"
	"github.com/edgelesssys/go-cctrusted/tdx"
	"github.com/edgelesssys/go-cctrusted/tdx/types"
	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDetectTeeType(t *testing.T) {
	testCases := map[string]struct {
		devices []string
		want    TeeType
	}{
		"tdx 1.0":           {devices: []string{"/dev/tdx-guest"}, want: TeeTDX},
		"tdx 1.5":           {devices: []string{"/dev/tdx_guest"}, want: TeeTDX},
		"sev":               {devices: []string{"/dev/sev-guest"}, want: TeeSEV},
		"tpm probed first":  {devices: []string{"/dev/tdx_guest", "/dev/tpm0"}, want: TeeTPM},
		"tdx before sev":    {devices: []string{"/dev/sev-guest", "/dev/tdx-guest"}, want: TeeTDX},
		"no device":         {want: TeeNone},
		"unrelated devices": {devices: []string{"/dev/null"}, want: TeeNone},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			exists := func(path string) bool {
				for _, d := range tc.devices {
					if d == path {
						return true
					}
				}
				return false
			}
			assert.Equal(tc.want, detectTeeType(exists))
		})
	}
}

func TestParseTeeType(t *testing.T) {
	assert := assert.New(t)

	tee, err := ParseTeeType("tdx")
	assert.NoError(err)
	assert.Equal(TeeTDX, tee)
	tee, err = ParseTeeType("SEV")
	assert.NoError(err)
	assert.Equal(TeeSEV, tee)
	_, err = ParseTeeType("sgx")
	assert.ErrorIs(err, ErrUnsupportedTee)

	assert.Equal("NONE", TeeNone.String())
	assert.Equal("CCA", TeeCCA.String())
}

func TestBuildUnsupported(t *testing.T) {
	for _, tee := range []string{"none", "tpm", "sev", "cca"} {
		t.Run(tee, func(t *testing.T) {
			assert := assert.New(t)

			cfg := DefaultConfig()
			cfg.Tee = tee
			vm, err := Build(cfg)
			assert.ErrorIs(err, ErrUnsupportedTee)
			assert.Nil(vm)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(os.WriteFile(path, []byte(`{"tee": "tdx", "quoteProvider": "configfs"}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(err)
	assert.Equal("tdx", cfg.Tee)
	assert.Equal(ProviderConfigfs, cfg.QuoteProvider)
	assert.Equal(DefaultEventLogPath, cfg.EventLogPath)

	require.NoError(os.WriteFile(path, []byte(`{`), 0o600))
	_, err = LoadConfig(path)
	assert.Error(err)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(err)
}

func TestProcessCCReport(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	provider := &fakeProvider{evidence: tdx.Evidence{Quote: []byte("quote")}}
	vm := newTdxVM(DefaultConfig(), tdx.Version15, provider, testclock.NewFakeClock(testTime))

	nonce := base64.StdEncoding.EncodeToString([]byte("nonce"))
	evidence, err := vm.ProcessCCReport(nonce, "")
	require.NoError(err)

	want, err := tdx.DeriveReportData(nonce, "")
	require.NoError(err)
	assert.Equal(want, provider.reportData)
	assert.Equal(want, evidence.ReportData)
	assert.Equal([]byte("quote"), evidence.Quote)
	assert.Equal(testTime, evidence.GeneratedAt)

	_, err = vm.ProcessCCReport("not-base64!!", "")
	assert.ErrorIs(err, tdx.ErrEncoding)

	provider.err = tdx.ErrIoctl
	_, err = vm.ProcessCCReport(nonce, "")
	assert.ErrorIs(err, tdx.ErrIoctl)
}

func TestProcessCCMeasurement(t *testing.T) {
	rtmr2 := bytes.Repeat([]byte{0x22}, 48)

	tdReport := make([]byte, tdx.ReportLen)
	copy(tdReport[720+2*48:], rtmr2)

	quote := types.QuoteV4{
		Header: types.QuoteHeader{Version: types.QuoteVersion4, TEEType: types.TEETypeTDX},
		Signature: types.ECDSA256QuoteV4AuthData{
			CertificationData: types.CertificationData{Type: types.PCK_ID_PCK_CERT_CHAIN, Data: []byte("chain")},
		},
	}
	quote.Body.RTMR[2] = [48]byte(rtmr2)

	testCases := map[string]struct {
		evidence tdx.Evidence
		version  tdx.Version
		index    int
		alg      tpm2.TPMAlgID
		want     []byte
		wantErr  error
	}{
		"from TD report": {
			evidence: tdx.Evidence{TDReport: tdReport, Quote: []byte("not a quote")},
			version:  tdx.Version10,
			index:    2,
			alg:      tcg.AlgSHA384,
			want:     rtmr2,
		},
		"from quote": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			version:  tdx.Version15,
			index:    2,
			alg:      tcg.AlgSHA384,
			want:     rtmr2,
		},
		"unknown version uses quote": {
			evidence: tdx.Evidence{TDReport: []byte{0x01}, Quote: quote.Marshal()},
			version:  tdx.VersionUnknown,
			index:    2,
			alg:      tcg.AlgSHA384,
			want:     rtmr2,
		},
		"zero register": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			version:  tdx.Version15,
			index:    0,
			alg:      tcg.AlgSHA384,
			want:     make([]byte, 48),
		},
		"index too large": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			index:    4,
			alg:      tcg.AlgSHA384,
			wantErr:  tcg.ErrIndexOutOfRange,
		},
		"negative index": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			index:    -1,
			alg:      tcg.AlgSHA384,
			wantErr:  tcg.ErrIndexOutOfRange,
		},
		"unknown algorithm": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			index:    0,
			alg:      0x99,
			wantErr:  tcg.ErrUnknownAlgorithm,
		},
		"wrong algorithm": {
			evidence: tdx.Evidence{Quote: quote.Marshal()},
			index:    0,
			alg:      tcg.AlgSHA256,
			wantErr:  tcg.ErrUnknownAlgorithm,
		},
		"malformed quote": {
			evidence: tdx.Evidence{Quote: []byte("short")},
			version:  tdx.Version15,
			index:    0,
			alg:      tcg.AlgSHA384,
			wantErr:  types.ErrParse,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			provider := &fakeProvider{evidence: tc.evidence}
			vm := newTdxVM(DefaultConfig(), tc.version, provider, testclock.NewFakeClock(testTime))

			rtmr, err := vm.ProcessCCMeasurement(tc.index, tc.alg)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.index, rtmr.Index)
			assert.Equal(tc.alg, rtmr.Digest.AlgID)
			assert.Equal(tc.want, rtmr.Digest.Hash)
			// No evidence was processed before, so zeroed report data was requested.
			assert.Equal(1, provider.calls)
			assert.Equal([tdx.ReportDataLen]byte{}, provider.reportData)
		})
	}
}

func TestProcessCCMeasurementReusesEvidence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tdReport := make([]byte, tdx.ReportLen)
	provider := &fakeProvider{evidence: tdx.Evidence{TDReport: tdReport}}
	vm := newTdxVM(DefaultConfig(), tdx.Version15, provider, testclock.NewFakeClock(testTime))

	_, err := vm.ProcessCCReport(base64.StdEncoding.EncodeToString([]byte("nonce")), "")
	require.NoError(err)
	for i := 0; i < vm.MeasurementCount(); i++ {
		_, err := vm.ProcessCCMeasurement(i, tcg.AlgSHA384)
		assert.NoError(err)
	}
	assert.Equal(1, provider.calls)
}

func TestProcessCCEventLog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.EventLogPath = filepath.Join(dir, "CCEL.data")
	cfg.CCELTablePath = filepath.Join(dir, "CCEL")

	eventLog := testEventLog()
	// Firmware leaves the rest of the log area filled with 0xFF.
	require.NoError(os.WriteFile(cfg.EventLogPath, append(eventLog, bytes.Repeat([]byte{0xFF}, 64)...), 0o600))
	vm := newTdxVM(cfg, tdx.Version15, &fakeProvider{}, testclock.NewFakeClock(testTime))

	parsed, err := vm.ProcessCCEventLog()
	require.NoError(err)
	assert.Equal(2, parsed.Count())
	assert.EqualValues(1, parsed.Events[0].IMRIndex)
	assert.Len(parsed.Events[0].Digests[0].Hash, 48)

	cfg.EventLogPath = filepath.Join(dir, "missing")
	vm = newTdxVM(cfg, tdx.Version15, &fakeProvider{}, testclock.NewFakeClock(testTime))
	_, err = vm.ProcessCCEventLog()
	assert.Error(err)
}

func TestReadCCEL(t *testing.T) {
	eventLog := bytes.Repeat([]byte{0xAA}, 100)

	testCases := map[string]struct {
		table   []byte
		want    []byte
		wantErr bool
	}{
		"no table": {
			want: eventLog,
		},
		"log area shorter than file": {
			table: ccelTable("CCEL", 40),
			want:  eventLog[:40],
		},
		"log area longer than file": {
			table: ccelTable("CCEL", 1<<16),
			want:  eventLog,
		},
		"wrong signature": {
			table:   ccelTable("DSDT", 40),
			wantErr: true,
		},
		"short table": {
			table:   ccelTable("CCEL", 40)[:36],
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			dir := t.TempDir()
			logPath := filepath.Join(dir, "data")
			tablePath := filepath.Join(dir, "CCEL")
			require.NoError(os.WriteFile(logPath, eventLog, 0o600))
			if tc.table != nil {
				require.NoError(os.WriteFile(tablePath, tc.table, 0o600))
			}

			got, err := ReadCCEL(logPath, tablePath)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestDump(t *testing.T) {
	assert := assert.New(t)

	vm := newTdxVM(DefaultConfig(), tdx.Version15, &fakeProvider{evidence: tdx.Evidence{Quote: []byte("quote")}}, testclock.NewFakeClock(testTime))
	assert.ErrorIs(vm.Dump(), errNoEvidence)

	_, err := vm.ProcessCCReport("", "")
	assert.NoError(err)
	assert.NoError(vm.Dump())
	assert.NotPanics(func() { HexDump(nil) })
}

type fakeProvider struct {
	evidence   tdx.Evidence
	err        error
	calls      int
	reportData [tdx.ReportDataLen]byte
}

func (p *fakeProvider) GenerateQuote(reportData [tdx.ReportDataLen]byte) (tdx.Evidence, error) {
	p.calls++
	p.reportData = reportData
	if p.err != nil {
		return tdx.Evidence{}, p.err
	}
	return p.evidence, nil
}

func ccelTable(signature string, logAreaLen uint64) []byte {
	table := make([]byte, ccelTableLen)
	copy(table, signature)
	binary.LittleEndian.PutUint32(table[4:8], ccelTableLen)
	binary.LittleEndian.PutUint64(table[ccelLAMLOffset:], logAreaLen)
	return table
}

// testEventLog returns a SHA-384 log with a Spec ID record and two events.
func testEventLog() []byte {
	var specID []byte
	specID = append(specID, []byte("Spec ID Event03\x00")...)
	specID = binary.LittleEndian.AppendUint32(specID, 0)
	specID = append(specID, 0, 2, 0, 2)
	specID = binary.LittleEndian.AppendUint32(specID, 1)
	specID = binary.LittleEndian.AppendUint16(specID, uint16(tcg.AlgSHA384))
	specID = binary.LittleEndian.AppendUint16(specID, 48)
	specID = append(specID, 0)

	var raw []byte
	raw = binary.LittleEndian.AppendUint32(raw, 0)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(tcg.EvNoAction))
	raw = append(raw, make([]byte, 20)...)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(specID)))
	raw = append(raw, specID...)

	for _, imr := range []uint32{1, 2} {
		raw = binary.LittleEndian.AppendUint32(raw, imr)
		raw = binary.LittleEndian.AppendUint32(raw, uint32(tcg.EvEventTag))
		raw = binary.LittleEndian.AppendUint32(raw, 1)
		raw = binary.LittleEndian.AppendUint16(raw, uint16(tcg.AlgSHA384))
		raw = append(raw, bytes.Repeat([]byte{byte(imr)}, 48)...)
		raw = binary.LittleEndian.AppendUint32(raw, 4)
		raw = append(raw, []byte("data")...)
	}
	return raw
}
