package tdx

import (
	"fmt"
	"strings"

	"github.com/google/go-configfs-tsm/configfs/configfsi"
	"github.com/google/go-configfs-tsm/report"
)

// ConfigfsProvider generates quotes through the kernel's configfs-tsm report interface
// (/sys/kernel/config/tsm/report). The kernel does not expose the intermediate TD report.
type ConfigfsProvider struct {
	client configfsi.Client
}

// NewConfigfsProvider returns a provider backed by the host's configfs.
func NewConfigfsProvider() (*ConfigfsProvider, error) {
	client, err := newConfigfsClient()
	if err != nil {
		return nil, fmt.Errorf("creating configfs-tsm client: %w", err)
	}
	return NewConfigfsProviderWithClient(client), nil
}

// NewConfigfsProviderWithClient returns a provider backed by client.
func NewConfigfsProviderWithClient(client configfsi.Client) *ConfigfsProvider {
	return &ConfigfsProvider{client: client}
}

// GenerateQuote returns a quote binding reportData.
func (p *ConfigfsProvider) GenerateQuote(reportData [ReportDataLen]byte) (Evidence, error) {
	log.Debug("Requesting quote through configfs-tsm")
	resp, err := report.Get(p.client, &report.Request{
		InBlob:     reportData[:],
		GetAuxBlob: false,
	})
	if err != nil {
		return Evidence{}, fmt.Errorf("getting quote through configfs-tsm: %w", err)
	}
	if provider := strings.TrimSpace(resp.Provider); provider != "" && provider != "tdx_guest" {
		return Evidence{}, fmt.Errorf("%w: configfs-tsm report provider is %q, expected tdx_guest", ErrDevice, provider)
	}
	return Evidence{Quote: resp.OutBlob}, nil
}
