package types

import (
	"encoding/binary"
	"fmt"
)

/*
   TDX quote parser (SGX Quote 4 / SGX Report 2)
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h#L113
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report2.h#L61
*/

const (
	// TEETypeSGX is the type number referenced in the Quote header for SGX quotes.
	TEETypeSGX = 0x0
	// TEETypeTDX is the type number referenced in the Quote header for TDX quotes.
	TEETypeTDX = 0x81

	// QuoteVersion4 is the only quote version ParseQuote decodes.
	QuoteVersion4 = 4
	// QuoteVersion5 is the TDX 1.5 quote format. Decoding it is not implemented.
	QuoteVersion5 = 5

	// maxQuoteSize caps the input accepted by ParseQuote.
	maxQuoteSize = 1 << 20

	quoteHeaderSize   = 48
	quoteBodySize     = 584
	signatureLenSize  = 4
	quoteV4MinSize    = quoteHeaderSize + quoteBodySize + signatureLenSize
	enclaveReportSize = 384
	ecdsaSigSize      = 64
	certDataHeaderLen = 6
	authDataHeaderLen = ecdsaSigSize + ecdsaSigSize + certDataHeaderLen
	qeReportHeaderLen = enclaveReportSize + ecdsaSigSize + 2
)

// Certification data types, as tagged in the CertificationData record of a quote signature.
const (
	PCK_ID_PLAIN_PPID                   = 1
	PCK_ID_ENCRYPTED_PPID_2048          = 2
	PCK_ID_ENCRYPTED_PPID_3072          = 3
	PCK_ID_PCK_CERTIFICATE              = 4
	PCK_ID_PCK_CERT_CHAIN               = 5 // PEM encoded, \0 byte terminated
	PCK_ID_QE_REPORT_CERTIFICATION_DATA = 6 // nested QEReportCertificationData
	PCK_ID_PLATFORM_MANIFEST            = 7
)

// QuoteHeader is the header of a TDX quote.
type QuoteHeader struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	Reserved           uint32
	QEVendorID         [16]byte
	UserData           [20]byte
}

// QuoteBody is the TD report body signed into a v4 quote.
type QuoteBody struct {
	TEETCBSVN      [16]byte
	MRSEAM         [48]byte // SHA384
	MRSIGNERSEAM   [48]byte // SHA384
	SEAMAttributes uint64
	TDAttributes   uint64
	XFAM           uint64
	MRTD           [48]byte    // SHA384
	MRCONFIGID     [48]byte    // SHA384
	MROWNER        [48]byte    // SHA384
	MROWNERCONFIG  [48]byte    // SHA384
	RTMR           [4][48]byte // runtime measurements
	ReportData     [64]byte
}

// QuoteV4 is a TDX quote of version 4.
type QuoteV4 struct {
	Header          QuoteHeader
	Body            QuoteBody
	SignatureLength uint32
	Signature       ECDSA256QuoteV4AuthData
}

// ParseQuote parses a TDX quote. The expected input is the complete quote.
// Quotes of any version other than 4 fail with ErrUnsupportedVersion.
func ParseQuote(rawQuote []byte) (QuoteV4, error) {
	quoteLength := len(rawQuote)
	if quoteLength > maxQuoteSize {
		return QuoteV4{}, malformed("quote is too large (over 1 MiB, received: %d bytes)", quoteLength)
	}
	if quoteLength < quoteHeaderSize {
		return QuoteV4{}, malformed("quote header is truncated (received: %d bytes)", quoteLength)
	}

	header := parseQuoteHeader(rawQuote[:quoteHeaderSize])
	switch header.Version {
	case QuoteVersion4:
		return parseQuoteV4(header, rawQuote)
	case QuoteVersion5:
		return QuoteV4{}, fmt.Errorf("%w: TDX 1.5 quotes (version %d) cannot be decoded yet", ErrUnsupportedVersion, header.Version)
	default:
		return QuoteV4{}, fmt.Errorf("%w (got: %d)", ErrUnsupportedVersion, header.Version)
	}
}

func parseQuoteHeader(raw []byte) QuoteHeader {
	return QuoteHeader{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
		TEEType:            binary.LittleEndian.Uint32(raw[4:8]),
		Reserved:           binary.LittleEndian.Uint32(raw[8:12]),
		QEVendorID:         [16]byte(raw[12:28]),
		UserData:           [20]byte(raw[28:48]),
	}
}

func parseQuoteV4(header QuoteHeader, rawQuote []byte) (QuoteV4, error) {
	quoteLength := len(rawQuote)
	if quoteLength <= quoteV4MinSize {
		return QuoteV4{}, malformed("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}
	if header.TEEType != TEETypeTDX {
		return QuoteV4{}, malformed("quote does not appear to be a TDX quote (expected TEEType: %d, got: %d)", TEETypeTDX, header.TEEType)
	}

	body := parseQuoteBody(rawQuote[quoteHeaderSize : quoteHeaderSize+quoteBodySize])

	signatureLength := binary.LittleEndian.Uint32(rawQuote[632:636])
	endSignature := uint64(quoteV4MinSize) + uint64(signatureLength)
	if endSignature > uint64(quoteLength) {
		return QuoteV4{}, malformed("quote SignatureLength is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", signatureLength, quoteLength-quoteV4MinSize)
	}

	signature, err := parseSignature(rawQuote[quoteV4MinSize:endSignature])
	if err != nil {
		return QuoteV4{}, err
	}

	return QuoteV4{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		Signature:       signature,
	}, nil
}

func parseQuoteBody(raw []byte) QuoteBody {
	body := QuoteBody{
		TEETCBSVN:      [16]byte(raw[0:16]),
		MRSEAM:         [48]byte(raw[16:64]),
		MRSIGNERSEAM:   [48]byte(raw[64:112]),
		SEAMAttributes: binary.LittleEndian.Uint64(raw[112:120]),
		TDAttributes:   binary.LittleEndian.Uint64(raw[120:128]),
		XFAM:           binary.LittleEndian.Uint64(raw[128:136]),
		MRTD:           [48]byte(raw[136:184]),
		MRCONFIGID:     [48]byte(raw[184:232]),
		MROWNER:        [48]byte(raw[232:280]),
		MROWNERCONFIG:  [48]byte(raw[280:328]),
		ReportData:     [64]byte(raw[520:584]),
	}
	for i := range body.RTMR {
		start := 328 + i*48
		body.RTMR[i] = [48]byte(raw[start : start+48])
	}
	return body
}

/*
   TDX quote signature parsing
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/QuoteVerification/QuoteStructures.h
*/

// ECDSA256QuoteV4AuthData is the signature of a TDX v4 quote.
type ECDSA256QuoteV4AuthData struct {
	Signature         [64]byte
	PublicKey         [64]byte
	CertificationData CertificationData
}

// CertificationData is a typed record carrying the certification material of a quote.
// For type PCK_ID_QE_REPORT_CERTIFICATION_DATA, Data holds a QEReportCertificationData.
// For every other known type, Data holds the raw []byte payload.
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           any
}

// Size returns the real size of CertificationData's Data field in bytes.
func (c CertificationData) Size() uint32 {
	switch data := c.Data.(type) {
	case QEReportCertificationData:
		inner := certDataHeaderLen + int(data.CertificationData.Size())
		return uint32(qeReportHeaderLen + len(data.QEAuthData.Data) + inner)
	case []byte:
		return uint32(len(data))
	default:
		return 0
	}
}

// QEReportCertificationData holds the Quoting Enclave (QE) report, embedded as CertificationData in ECDSA256QuoteV4AuthData.
type QEReportCertificationData struct {
	EnclaveReport     EnclaveReport
	Signature         [64]byte // ECDSA256 signature
	QEAuthData        QEAuthData
	CertificationData CertificationData // usually the PEM encoded PCK cert chain
}

// EnclaveReport is the report of a Quoting Enclave.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// QEAuthData holds the Quoting Enclave (QE) authentication data.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// parseSignature parses the signature block of a v4 quote.
func parseSignature(signature []byte) (ECDSA256QuoteV4AuthData, error) {
	signatureLength := len(signature)
	if signatureLength < authDataHeaderLen {
		return ECDSA256QuoteV4AuthData{}, malformed("signature is too short to be parsed (received: %d bytes)", signatureLength)
	}

	quoteSignature := ECDSA256QuoteV4AuthData{
		Signature: [64]byte(signature[0:64]),
		PublicKey: [64]byte(signature[64:128]),
	}

	certData, err := parseCertificationData(signature[128:], true)
	if err != nil {
		return ECDSA256QuoteV4AuthData{}, err
	}
	quoteSignature.CertificationData = certData

	return quoteSignature, nil
}

// parseCertificationData parses a type/size/data record. Nested QE report certification data
// is only decoded when allowNested is set, so a QE report cannot recurse into itself.
func parseCertificationData(raw []byte, allowNested bool) (CertificationData, error) {
	rawLength := len(raw)
	if rawLength < certDataHeaderLen {
		return CertificationData{}, malformed("CertificationData is too short to be parsed (received: %d bytes)", rawLength)
	}

	certData := CertificationData{
		Type:           binary.LittleEndian.Uint16(raw[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(raw[2:6]),
	}
	if certData.Type < PCK_ID_PLAIN_PPID || certData.Type > PCK_ID_PLATFORM_MANIFEST {
		return CertificationData{}, malformed("unknown CertificationData type %d", certData.Type)
	}

	end := uint64(certDataHeaderLen) + uint64(certData.ParsedDataSize)
	if end > uint64(rawLength) {
		return CertificationData{}, malformed("CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", certData.ParsedDataSize, rawLength-certDataHeaderLen)
	}
	data := raw[certDataHeaderLen:end]

	if certData.Type != PCK_ID_QE_REPORT_CERTIFICATION_DATA {
		certData.Data = data
		return certData, nil
	}
	if !allowNested {
		return CertificationData{}, malformed("nested QE report certification data")
	}
	qeReport, err := parseQEReportCertificationData(data)
	if err != nil {
		return CertificationData{}, err
	}
	certData.Data = qeReport
	return certData, nil
}

// parseQEReportCertificationData parses a Quoting Enclave (QE) report embedded as CertificationData in ECDSA256QuoteV4AuthData.
func parseQEReportCertificationData(qeReportCertData []byte) (QEReportCertificationData, error) {
	qeReportCertDataLength := len(qeReportCertData)
	if qeReportCertDataLength < qeReportHeaderLen {
		return QEReportCertificationData{}, malformed("QEReportCertificationData is too short to be parsed (received: %d bytes)", qeReportCertDataLength)
	}

	qeReport := QEReportCertificationData{
		EnclaveReport: parseEnclaveReport(qeReportCertData[0:enclaveReportSize]),
		Signature:     [64]byte(qeReportCertData[384:448]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(qeReportCertData[448:450]),
		},
	}

	endQEAuthData := qeReportHeaderLen + int(qeReport.QEAuthData.ParsedDataSize)
	if endQEAuthData > qeReportCertDataLength {
		return QEReportCertificationData{}, malformed("QEAuthData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", qeReport.QEAuthData.ParsedDataSize, qeReportCertDataLength-qeReportHeaderLen)
	}
	qeReport.QEAuthData.Data = qeReportCertData[qeReportHeaderLen:endQEAuthData]

	innerCertData, err := parseCertificationData(qeReportCertData[endQEAuthData:], false)
	if err != nil {
		return QEReportCertificationData{}, err
	}
	qeReport.CertificationData = innerCertData

	return qeReport, nil
}

func parseEnclaveReport(raw []byte) EnclaveReport {
	return EnclaveReport{
		CPUSVN:     [16]byte(raw[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:  [28]byte(raw[20:48]),
		Attributes: [16]byte(raw[48:64]),
		MRENCLAVE:  [32]byte(raw[64:96]),
		Reserved2:  [32]byte(raw[96:128]),
		MRSIGNER:   [32]byte(raw[128:160]),
		Reserved3:  [96]byte(raw[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(raw[258:260]),
		Reserved4:  [60]byte(raw[260:320]),
		ReportData: [64]byte(raw[320:384]),
	}
}
