package types

import (
	"encoding/binary"

	"github.com/edgelesssys/go-cctrusted/tdx"
)

// Marshal serializes an EnclaveReport to its binary representation found in a Quote Enclave (QE) report.
func (er *EnclaveReport) Marshal() [384]byte {
	var result [384]byte
	copy(result[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], er.MiscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(result[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], er.ISVSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}

// Marshal serializes a quote header into its binary representation found in a raw quote.
func (qh *QuoteHeader) Marshal() [48]byte {
	var result [48]byte
	binary.LittleEndian.PutUint16(result[0:2], qh.Version)
	binary.LittleEndian.PutUint16(result[2:4], qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], qh.TEEType)
	binary.LittleEndian.PutUint32(result[8:12], qh.Reserved)
	copy(result[12:28], qh.QEVendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes a quote body into its binary representation found in a raw quote.
func (qb *QuoteBody) Marshal() [584]byte {
	var result [584]byte
	copy(result[0:16], qb.TEETCBSVN[:])
	copy(result[16:64], qb.MRSEAM[:])
	copy(result[64:112], qb.MRSIGNERSEAM[:])
	binary.LittleEndian.PutUint64(result[112:120], qb.SEAMAttributes)
	binary.LittleEndian.PutUint64(result[120:128], qb.TDAttributes)
	binary.LittleEndian.PutUint64(result[128:136], qb.XFAM)
	copy(result[136:184], qb.MRTD[:])
	copy(result[184:232], qb.MRCONFIGID[:])
	copy(result[232:280], qb.MROWNER[:])
	copy(result[280:328], qb.MROWNERCONFIG[:])
	for i, rtmr := range qb.RTMR {
		copy(result[328+i*48:376+i*48], rtmr[:])
	}
	copy(result[520:584], qb.ReportData[:])

	return result
}

// Marshal serializes a certification data record. The size field is recomputed from Data,
// so a record built by hand does not need ParsedDataSize set.
func (c *CertificationData) Marshal() []byte {
	result := make([]byte, certDataHeaderLen, certDataHeaderLen+int(c.Size()))
	binary.LittleEndian.PutUint16(result[0:2], c.Type)
	binary.LittleEndian.PutUint32(result[2:6], c.Size())

	switch data := c.Data.(type) {
	case QEReportCertificationData:
		result = append(result, data.Marshal()...)
	case []byte:
		result = append(result, data...)
	}
	return result
}

// Marshal serializes QE report certification data.
func (q *QEReportCertificationData) Marshal() []byte {
	enclaveReport := q.EnclaveReport.Marshal()
	result := append([]byte{}, enclaveReport[:]...)
	result = append(result, q.Signature[:]...)
	result = binary.LittleEndian.AppendUint16(result, uint16(len(q.QEAuthData.Data)))
	result = append(result, q.QEAuthData.Data...)
	return append(result, q.CertificationData.Marshal()...)
}

// Marshal serializes the signature block of a v4 quote.
func (s *ECDSA256QuoteV4AuthData) Marshal() []byte {
	result := append([]byte{}, s.Signature[:]...)
	result = append(result, s.PublicKey[:]...)
	return append(result, s.CertificationData.Marshal()...)
}

// Marshal serializes a v4 quote. The signature length is recomputed from the signature block.
func (q QuoteV4) Marshal() []byte {
	header := q.Header.Marshal()
	body := q.Body.Marshal()
	signature := q.Signature.Marshal()

	result := make([]byte, 0, quoteV4MinSize+len(signature))
	result = append(result, header[:]...)
	result = append(result, body[:]...)
	result = binary.LittleEndian.AppendUint32(result, uint32(len(signature)))
	return append(result, signature...)
}

// Marshal serializes a TD report using the layout of its Version.
func (r *TDReport) Marshal() ([tdx.ReportLen]byte, error) {
	var result [tdx.ReportLen]byte
	layout, ok := reportLayouts[r.Version]
	if !ok {
		return result, malformed("no TD report layout for TDX version %s", r.Version)
	}

	mac := r.ReportMac
	copy(result[0:4], mac.ReportType[:])
	copy(result[4:16], mac.Reserved1[:])
	copy(result[16:32], mac.CPUSVN[:])
	copy(result[32:80], mac.TEETCBInfoHash[:])
	copy(result[80:128], mac.TEEInfoHash[:])
	copy(result[128:192], mac.ReportData[:])
	copy(result[192:224], mac.Reserved2[:])
	copy(result[224:256], mac.MAC[:])

	tcb := r.TEETCBInfo
	copy(result[256:264], tcb.Valid[:])
	copy(result[264:280], tcb.TEETCBSVN[:])
	copy(result[280:328], tcb.MRSEAM[:])
	copy(result[328:376], tcb.MRSIGNERSEAM[:])
	copy(result[376:384], tcb.Attributes[:])
	if layout.teeTCBSVN2.len() > 0 {
		copy(result[layout.teeTCBSVN2.start:layout.teeTCBSVN2.end], tcb.TEETCBSVN2[:])
	}
	copy(result[layout.teeTCBReserved.start:layout.teeTCBReserved.end], tcb.Reserved)

	copy(result[reservedOffset:tdInfoOffset], r.Reserved[:])

	info := r.TDInfo
	copy(result[512:520], info.Attributes[:])
	copy(result[520:528], info.XFAM[:])
	copy(result[528:576], info.MRTD[:])
	copy(result[576:624], info.MRCONFIGID[:])
	copy(result[624:672], info.MROWNER[:])
	copy(result[672:720], info.MROWNERCONFIG[:])
	for i, rtmr := range info.RTMR {
		copy(result[720+i*48:768+i*48], rtmr[:])
	}
	if layout.servTDHash.len() > 0 {
		copy(result[layout.servTDHash.start:layout.servTDHash.end], info.ServTDHash[:])
	}
	copy(result[layout.tdInfoReserved.start:layout.tdInfoReserved.end], info.Reserved)

	return result, nil
}
