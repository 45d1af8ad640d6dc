package tdx

import (
	"encoding/binary"
	"fmt"
)

/*
	The quote request travels from the guest to the Quote Generation Service (QGS) in a
	buffer shared with the VMM. The kernel driver consumes the outer envelope, the QGS
	the message inside it:

	  envelope (tdx_quote_hdr)
	    u64  version        1
	    u64  status         filled by the VMM
	    u32  in_len         message size + 4, filled by the TD
	    u32  out_len        response size + 4, filled by the VMM
	    be32 data_len       size of the message that follows
	    u8   data[16384]    qgs_msg_get_quote_req on input, qgs_msg_get_quote_resp on output

	  qgs_msg_header
	    u16 major_version, u16 minor_version, u32 type, u32 size, u32 error_code

	  qgs_msg_get_quote_req                   qgs_msg_get_quote_resp
	    qgs_msg_header                          qgs_msg_header
	    u32 report_size                         u32 selected_id_size
	    u32 id_list_size                        u32 quote_size
	    u8  report[report_size]                 u8  selected_id[selected_id_size]
	    u8  id_list[id_list_size]               u8  quote[quote_size]

	https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h
*/

// QGS message types.
const (
	qgsGetQuoteRequestType = iota
	qgsGetQuoteResponseType
)

const (
	qgsMajorVersion = 1
	qgsMinorVersion = 0

	qgsHeaderSize           = 16
	// qgsGetQuoteRequestSize covers header, report_size and id_list_size plus the TD report.
	qgsGetQuoteRequestSize  = qgsHeaderSize + 8 + ReportLen
	qgsGetQuoteResponseSize = qgsHeaderSize + 8

	envelopeVersion    = 1
	envelopeHeaderSize = 24
	envelopeLengthSize = 4
	// envelopeSize is the full buffer handed to the driver.
	envelopeSize       = envelopeHeaderSize + envelopeLengthSize + QuoteBufferLen
)

// qgsMessageHeader is the common header of all QGS messages.
type qgsMessageHeader struct {
	majorVersion uint16
	minorVersion uint16
	messageType  uint32
	size         uint32 // size of the whole message including this header
	errorCode    uint32
}

func (h qgsMessageHeader) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.majorVersion)
	binary.LittleEndian.PutUint16(b[2:4], h.minorVersion)
	binary.LittleEndian.PutUint32(b[4:8], h.messageType)
	binary.LittleEndian.PutUint32(b[8:12], h.size)
	binary.LittleEndian.PutUint32(b[12:16], h.errorCode)
}

func unmarshalQGSMessageHeader(b []byte) qgsMessageHeader {
	return qgsMessageHeader{
		majorVersion: binary.LittleEndian.Uint16(b[0:2]),
		minorVersion: binary.LittleEndian.Uint16(b[2:4]),
		messageType:  binary.LittleEndian.Uint32(b[4:8]),
		size:         binary.LittleEndian.Uint32(b[8:12]),
		errorCode:    binary.LittleEndian.Uint32(b[12:16]),
	}
}

// newQuoteEnvelope builds the buffer passed to the GET_QUOTE ioctl, carrying a
// QGS GET_QUOTE request for tdReport.
func newQuoteEnvelope(tdReport [ReportLen]byte) []byte {
	envelope := make([]byte, envelopeSize)
	binary.LittleEndian.PutUint64(envelope[0:8], envelopeVersion)
	binary.LittleEndian.PutUint64(envelope[8:16], 0)
	binary.LittleEndian.PutUint32(envelope[16:20], qgsGetQuoteRequestSize+envelopeLengthSize)
	binary.LittleEndian.PutUint32(envelope[20:24], 0)
	binary.BigEndian.PutUint32(envelope[24:28], qgsGetQuoteRequestSize)

	msg := envelope[envelopeHeaderSize+envelopeLengthSize:]
	qgsMessageHeader{
		majorVersion: qgsMajorVersion,
		minorVersion: qgsMinorVersion,
		messageType:  qgsGetQuoteRequestType,
		size:         qgsGetQuoteRequestSize,
	}.marshal(msg)
	binary.LittleEndian.PutUint32(msg[16:20], ReportLen) // report_size, cannot be 0
	binary.LittleEndian.PutUint32(msg[20:24], 0)         // id_list_size
	copy(msg[24:24+ReportLen], tdReport[:])

	return envelope
}

// parseQuoteEnvelope validates the envelope after the driver returned and extracts the quote.
func parseQuoteEnvelope(envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderSize+envelopeLengthSize+qgsGetQuoteResponseSize {
		return nil, fmt.Errorf("%w: quote buffer too short (%d bytes)", ErrProtocol, len(envelope))
	}

	status := binary.LittleEndian.Uint64(envelope[8:16])
	outLen := binary.LittleEndian.Uint32(envelope[20:24])
	respSize := binary.BigEndian.Uint32(envelope[24:28])
	if uint64(outLen) != uint64(respSize)+envelopeLengthSize {
		return nil, fmt.Errorf("%w: wrong quote size (out_len: %d, message size: %d, status: 0x%x)", ErrProtocol, outLen, respSize, status)
	}

	msg := envelope[envelopeHeaderSize+envelopeLengthSize:]
	if uint64(respSize) > uint64(len(msg)) {
		return nil, fmt.Errorf("%w: response message of %d bytes exceeds buffer of %d bytes", ErrProtocol, respSize, len(msg))
	}
	if respSize < qgsGetQuoteResponseSize {
		return nil, fmt.Errorf("%w: response message too short (%d bytes)", ErrProtocol, respSize)
	}
	msg = msg[:respSize]

	header := unmarshalQGSMessageHeader(msg)
	if header.majorVersion != qgsMajorVersion || header.minorVersion != qgsMinorVersion ||
		header.messageType != qgsGetQuoteResponseType || header.errorCode != 0 {
		return nil, fmt.Errorf("%w: QGS response error (version: %d.%d, type: %d, error code: 0x%x)",
			ErrProtocol, header.majorVersion, header.minorVersion, header.messageType, header.errorCode)
	}

	selectedIDSize := binary.LittleEndian.Uint32(msg[16:20])
	quoteSize := binary.LittleEndian.Uint32(msg[20:24])
	start := uint64(qgsGetQuoteResponseSize) + uint64(selectedIDSize)
	end := start + uint64(quoteSize)
	if end > uint64(len(msg)) {
		return nil, fmt.Errorf("%w: quote of %d bytes after selected id of %d bytes exceeds response of %d bytes",
			ErrProtocol, quoteSize, selectedIDSize, len(msg))
	}

	quote := make([]byte, quoteSize)
	copy(quote, msg[start:end])
	return quote, nil
}
