package ccnp

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for messages that are not valid protobuf or carry an invalid quote.
var ErrMalformed = errors.New("malformed ccnp message")

// GetQuoteRequest asks the quote server for a quote.
//
//	message GetQuoteRequest { string nonce = 1; string user_data = 2; }
type GetQuoteRequest struct {
	Nonce    string
	UserData string
}

// GetQuoteResponse carries a base64 encoded quote.
//
//	message GetQuoteResponse { string quote = 1; string quote_type = 2; }
type GetQuoteResponse struct {
	Quote     string
	QuoteType string
}

// message is implemented by all wire messages of the service.
type message interface {
	marshal() []byte
	unmarshal([]byte) error
}

func (r *GetQuoteRequest) marshal() []byte {
	return appendStrings(nil, r.Nonce, r.UserData)
}

func (r *GetQuoteRequest) unmarshal(b []byte) error {
	return consumeStrings(b, &r.Nonce, &r.UserData)
}

func (r *GetQuoteResponse) marshal() []byte {
	return appendStrings(nil, r.Quote, r.QuoteType)
}

func (r *GetQuoteResponse) unmarshal(b []byte) error {
	return consumeStrings(b, &r.Quote, &r.QuoteType)
}

// appendStrings encodes fields as string fields numbered from 1. Empty strings are omitted.
func appendStrings(b []byte, fields ...string) []byte {
	for i, field := range fields {
		if field == "" {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.BytesType)
		b = protowire.AppendString(b, field)
	}
	return b
}

// consumeStrings decodes string fields numbered from 1 into fields, skipping unknown fields.
func consumeStrings(b []byte, fields ...*string) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if int(num) >= 1 && int(num) <= len(fields) && typ == protowire.BytesType {
			value, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			*fields[num-1] = value
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

// codec encodes the service messages with protowire instead of generated code.
// It registers as "proto" so peers see the standard content-subtype.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("ccnp codec: cannot marshal %T", v)
	}
	return msg.marshal(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(message)
	if !ok {
		return fmt.Errorf("ccnp codec: cannot unmarshal into %T", v)
	}
	return msg.unmarshal(data)
}

func (codec) Name() string {
	return "proto"
}
