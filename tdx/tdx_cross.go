//go:build !linux
// +build !linux

package tdx

import (
	"fmt"

	"github.com/google/go-configfs-tsm/configfs/configfsi"
)

func requestTDReport(_ device, _ Version, _ [ReportDataLen]byte) ([ReportLen]byte, error) {
	return [ReportLen]byte{}, fmt.Errorf("%w: requesting TD reports is only supported on linux", ErrDevice)
}

func requestQuote(_ device, _ Version, _ []byte) error {
	return fmt.Errorf("%w: requesting quotes is only supported on linux", ErrDevice)
}

func newConfigfsClient() (configfsi.Client, error) {
	return nil, fmt.Errorf("%w: configfs-tsm is only supported on linux", ErrDevice)
}
