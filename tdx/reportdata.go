package tdx

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// DeriveReportData binds a base64 encoded nonce and optional base64 encoded user data
// into the 64 bytes of report data: SHA-512(nonce || userData).
// An empty userData is treated as absent.
func DeriveReportData(nonce, userData string) ([ReportDataLen]byte, error) {
	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return [ReportDataLen]byte{}, fmt.Errorf("%w: nonce: %w", ErrEncoding, err)
	}

	hasher := sha512.New()
	hasher.Write(rawNonce)
	if userData != "" {
		rawUserData, err := base64.StdEncoding.DecodeString(userData)
		if err != nil {
			return [ReportDataLen]byte{}, fmt.Errorf("%w: user data: %w", ErrEncoding, err)
		}
		hasher.Write(rawUserData)
	}

	return [ReportDataLen]byte(hasher.Sum(nil)), nil
}

// EncodeReportData returns the base64 form of report data, as it is compared against
// the report data field of a parsed quote.
func EncodeReportData(reportData [ReportDataLen]byte) string {
	return base64.StdEncoding.EncodeToString(reportData[:])
}
