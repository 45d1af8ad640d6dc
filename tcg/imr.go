package tcg

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// Digest is a hash value tagged with the algorithm that produced it.
type Digest struct {
	AlgID tpm2.TPMAlgID
	Hash  []byte
}

func (d Digest) String() string {
	name, err := AlgorithmName(d.AlgID)
	if err != nil {
		name = fmt.Sprintf("0x%04x", uint16(d.AlgID))
	}
	return name + ":" + hex.EncodeToString(d.Hash)
}

// IMR is the value of one integrity measurement register (RTMR on TDX, PCR on TPM).
// Use NewIMR to create one.
type IMR struct {
	Index  int
	Digest Digest
}

// NewIMR validates index against maxIndex and the digest against the algorithm registry.
func NewIMR(maxIndex, index int, alg tpm2.TPMAlgID, digest []byte) (IMR, error) {
	if index < 0 || index > maxIndex {
		return IMR{}, fmt.Errorf("%w: %d (max: %d)", ErrIndexOutOfRange, index, maxIndex)
	}
	size, err := DigestSize(alg)
	if err != nil {
		return IMR{}, err
	}
	if len(digest) != size {
		return IMR{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrDigestSize, size, len(digest))
	}

	return IMR{
		Index:  index,
		Digest: Digest{AlgID: alg, Hash: bytes.Clone(digest)},
	}, nil
}

func (m IMR) String() string {
	return fmt.Sprintf("IMR[%d] %s", m.Index, m.Digest)
}
