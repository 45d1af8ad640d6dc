/*
# TDX Evidence Types

This package contains the data types of TDX attestation evidence, and functions to
decode them from and encode them to their binary representation:

  - TD reports, as returned by the guest driver (ParseTDReport). The layout of a TD report
    depends on the TDX module generation, so every decode and encode takes a tdx.Version.
  - Quotes, as returned by the Quote Generation Service (ParseQuote). Only quote version 4
    is supported.

All structures are fixed-offset and little-endian.

## TD Report Format

	┌─────────────────────────────────┐  0
	│         ReportMac               │
	│  type, cpusvn, tee_tcb_info     │
	│  hash, tee_info hash,           │
	│  report_data, mac (256 bytes)   │
	├─────────────────────────────────┤  256
	│         TEETCBInfo (239 bytes)  │
	│  valid, tee_tcb_svn, mrseam,    │
	│  mrsignerseam, attributes,      │
	│  tee_tcb_svn2 (1.5 only)        │
	├─────────────────────────────────┤  495
	│         Reserved (17 bytes)     │
	├─────────────────────────────────┤  512
	│         TDInfo (512 bytes)      │
	│  attributes, xfam, mrtd,        │
	│  mrconfigid, mrowner,           │
	│  mrownerconfig, rtmr0..3,       │
	│  servtd_hash (1.5 only)         │
	└─────────────────────────────────┘  1024

## TDX Quote Format

	To give a *rough* understanding of how a TDX quote is formed see the graphic below:


	                                ┌──────────────────────────┐                           ┌─────────────────────────┐
	                                │                          │                           │                         │
	                                │                          ▼                           │                         ▼
	        QuoteV4                 │                 ECDSA256QuoteV4AuthData              │            QEReportCertificationData
	        ParseQuote              │                   parseSignature                     │          parseQEReportCertificationData
	┌─────────────────────────┐     │     ┌───────────────────────────────────────────┐    │     ┌─────────────────────────────────────┐
	│      QuoteHeader        │     │     │                Signature                  │    │     │                                     │
	│       (48 bytes)        │     │     │                (64 bytes)                 │    │     │                                     │
	├─────────────────────────┤     │     ├───────────────────────────────────────────┤    │     │            EnclaveReport            │
	│                         │     │     │                PublicKey                  │    │     │             (384 bytes)             │
	│      TDQuoteBody        │     │     │                (64 bytes)                 │    │     │                                     │
	│       (584 bytes)       │     │     ├───────────────────────────────────────────┤    │     │                                     │
	│                         │     │     │             CertificationData             │    │     ├─────────────────────────────────────┤
	│                         │     │     │ ┌───────────────────────────────────────┐ │    │     │             Signature               │
	│                         │     │     │ │                 Type                  │ │    │     │             (64 bytes)              │
	├─────────────────────────┤     │     │ │               (2 bytes)               │ │    │     ├─────────────────────────────────────┤
	│     SignatureLength     │     │     │ ├───────────────────────────────────────┤ │    │     │             QEAuthData              │
	│        (4 bytes)        │     │     │ │            ParsedDataSize             │ │    │     │       size (2 bytes) + data         │
	├─────────────────────────┤     │     │ │               (4 bytes)               │ │    │     ├─────────────────────────────────────┤
	│                         │     │     │ ├───────────────────────────────────────┤ │    │     │          CertificationData          │
	│       Signature         │     │     │ │                 Data                  │ │    │     │ parseQEReportInnerCertificationData │
	│ ECDSA256QuoteV4AuthData ├─────┘     │ │   type 6: QEReportCertificationData   ├─┼────┘     │                                     │
	│       (variable)        │           │ │   type 1-5, 7: raw bytes              │ │          │  type 5: PEM certificate chain,     │
	│                         │           │ └───────────────────────────────────────┘ │          │  terminated with \0 byte            │
	└─────────────────────────┘           └───────────────────────────────────────────┘          └─────────────────────────────────────┘
*/
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned for truncated or malformed structures.
	ErrParse = errors.New("malformed TDX structure")
	// ErrUnsupportedVersion is returned for quote versions this package cannot decode.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported quote version", ErrParse)
)

// malformed returns an error wrapping ErrParse.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}
