package tdx

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuoteEnvelope(t *testing.T) {
	assert := assert.New(t)

	var tdReport [ReportLen]byte
	for i := range tdReport {
		tdReport[i] = byte(i)
	}
	envelope := newQuoteEnvelope(tdReport)

	assert.Len(envelope, 24+4+16384)
	// version, status, in_len, out_len, big-endian message size
	assert.EqualValues(1, binary.LittleEndian.Uint64(envelope[0:8]))
	assert.EqualValues(0, binary.LittleEndian.Uint64(envelope[8:16]))
	assert.EqualValues(1052, binary.LittleEndian.Uint32(envelope[16:20]))
	assert.EqualValues(0, binary.LittleEndian.Uint32(envelope[20:24]))
	assert.Equal([]byte{0x00, 0x00, 0x04, 0x18}, envelope[24:28])

	// QGS header: major, minor, GET_QUOTE_REQ, size, error code
	msg := envelope[28:]
	assert.EqualValues(1, binary.LittleEndian.Uint16(msg[0:2]))
	assert.EqualValues(0, binary.LittleEndian.Uint16(msg[2:4]))
	assert.EqualValues(0, binary.LittleEndian.Uint32(msg[4:8]))
	assert.EqualValues(1048, binary.LittleEndian.Uint32(msg[8:12]))
	assert.EqualValues(0, binary.LittleEndian.Uint32(msg[12:16]))
	// report_size, id_list_size
	assert.EqualValues(1024, binary.LittleEndian.Uint32(msg[16:20]))
	assert.EqualValues(0, binary.LittleEndian.Uint32(msg[20:24]))
	assert.Equal(tdReport[:], msg[24:24+1024])
	assert.Equal(make([]byte, 16384-1048), msg[1048:])
}

func TestParseQuoteEnvelope(t *testing.T) {
	quote := bytes.Repeat([]byte{0xAB}, 600)

	testCases := map[string]struct {
		envelope func() []byte
		want     []byte
		wantErr  bool
	}{
		"valid response": {
			envelope: func() []byte { return qgsResponse(quote, nil, respOpts{}) },
			want:     quote,
		},
		"quote follows selected id": {
			envelope: func() []byte { return qgsResponse(quote, []byte{1, 2, 3, 4}, respOpts{}) },
			want:     quote,
		},
		"empty quote": {
			envelope: func() []byte { return qgsResponse(nil, nil, respOpts{}) },
			want:     []byte{},
		},
		"out_len mismatch": {
			envelope: func() []byte { return qgsResponse(quote, nil, respOpts{outLenDelta: 1}) },
			wantErr:  true,
		},
		"out_len smaller than prefix": {
			envelope: func() []byte {
				envelope := qgsResponse(quote, nil, respOpts{})
				binary.LittleEndian.PutUint32(envelope[20:24], 2)
				return envelope
			},
			wantErr: true,
		},
		"wrong major version": {
			envelope: func() []byte { return qgsResponse(quote, nil, respOpts{major: 2}) },
			wantErr:  true,
		},
		"request type echoed": {
			envelope: func() []byte { return qgsResponse(quote, nil, respOpts{echoRequest: true}) },
			wantErr:  true,
		},
		"QGS error code": {
			envelope: func() []byte { return qgsResponse(quote, nil, respOpts{errorCode: 0x12001}) },
			wantErr:  true,
		},
		"quote size exceeds message": {
			envelope: func() []byte {
				envelope := qgsResponse(quote, nil, respOpts{})
				binary.LittleEndian.PutUint32(envelope[28+20:28+24], 601)
				return envelope
			},
			wantErr: true,
		},
		"message size exceeds buffer": {
			envelope: func() []byte {
				envelope := qgsResponse(quote, nil, respOpts{})
				binary.BigEndian.PutUint32(envelope[24:28], QuoteBufferLen+1)
				binary.LittleEndian.PutUint32(envelope[20:24], QuoteBufferLen+5)
				return envelope
			},
			wantErr: true,
		},
		"untouched request": {
			envelope: func() []byte { return newQuoteEnvelope([ReportLen]byte{}) },
			wantErr:  true,
		},
		"short buffer": {
			envelope: func() []byte { return make([]byte, 20) },
			wantErr:  true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := parseQuoteEnvelope(tc.envelope())
			if tc.wantErr {
				assert.ErrorIs(err, ErrProtocol)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestQuoteEnvelopeRoundTrip(t *testing.T) {
	require := require.New(t)

	// The driver answers in place: the request buffer becomes the response.
	envelope := newQuoteEnvelope([ReportLen]byte{0x01})
	copy(envelope, qgsResponse([]byte("quote"), nil, respOpts{}))

	quote, err := parseQuoteEnvelope(envelope)
	require.NoError(err)
	require.Equal([]byte("quote"), quote)
}

func FuzzParseQuoteEnvelope(f *testing.F) {
	f.Add(qgsResponse([]byte("quote"), nil, respOpts{}))
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parseQuoteEnvelope(a) })
	})
}

type respOpts struct {
	major       uint16
	echoRequest bool
	errorCode   uint32
	outLenDelta uint32
}

// qgsResponse builds an envelope as the driver leaves it after a successful GET_QUOTE.
func qgsResponse(quote, selectedID []byte, opts respOpts) []byte {
	major := uint16(qgsMajorVersion)
	if opts.major != 0 {
		major = opts.major
	}
	msgType := uint32(qgsGetQuoteResponseType)
	if opts.echoRequest {
		msgType = qgsGetQuoteRequestType
	}

	msgSize := uint32(qgsGetQuoteResponseSize + len(selectedID) + len(quote))
	envelope := make([]byte, envelopeSize)
	binary.LittleEndian.PutUint64(envelope[0:8], envelopeVersion)
	binary.LittleEndian.PutUint32(envelope[16:20], qgsGetQuoteRequestSize+4)
	binary.LittleEndian.PutUint32(envelope[20:24], msgSize+4+opts.outLenDelta)
	binary.BigEndian.PutUint32(envelope[24:28], msgSize)

	msg := envelope[28:]
	qgsMessageHeader{
		majorVersion: major,
		minorVersion: qgsMinorVersion,
		messageType:  msgType,
		size:         msgSize,
		errorCode:    opts.errorCode,
	}.marshal(msg)
	binary.LittleEndian.PutUint32(msg[16:20], uint32(len(selectedID)))
	binary.LittleEndian.PutUint32(msg[20:24], uint32(len(quote)))
	copy(msg[24:], selectedID)
	copy(msg[24+len(selectedID):], quote)
	return envelope
}
