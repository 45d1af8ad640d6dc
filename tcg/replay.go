package tcg

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/go-tpm/tpm2"
)

// ReplayResult is the value an IMR must hold after all events of the log were extended into it.
type ReplayResult struct {
	IMRIndex uint32
	Digest   Digest
}

// Matches reports whether the replayed value equals the measured register.
func (r ReplayResult) Matches(measured Digest) bool {
	return r.Digest.AlgID == measured.AlgID && bytes.Equal(r.Digest.Hash, measured.Hash)
}

// Replay extends the digests of events into zero-initialized registers, one per
// IMR index and algorithm, following new = H(old || digest).
// Results are sorted by IMR index, then algorithm id.
func Replay(events []IMREvent) ([]ReplayResult, error) {
	type key struct {
		imr uint32
		alg tpm2.TPMAlgID
	}
	registers := map[key][]byte{}

	for i, event := range events {
		// EV_NO_ACTION records are informational and never extended.
		if event.EventType == EvNoAction {
			continue
		}
		for _, digest := range event.Digests {
			alg, err := LookupAlgorithm(digest.AlgID)
			if err != nil {
				return nil, fmt.Errorf("replaying event %d: %w", i, err)
			}
			if !alg.IsDigest() || !alg.Hash.Available() {
				return nil, fmt.Errorf("replaying event %d: %w: no hash implementation for %s", i, ErrUnknownAlgorithm, alg.Name)
			}
			if len(digest.Hash) != alg.DigestSize {
				return nil, fmt.Errorf("replaying event %d: %w: %s digest has %d bytes", i, ErrDigestSize, alg.Name, len(digest.Hash))
			}

			k := key{imr: event.IMRIndex, alg: digest.AlgID}
			current, ok := registers[k]
			if !ok {
				current = make([]byte, alg.DigestSize)
			}
			h := alg.Hash.New()
			h.Write(current)
			h.Write(digest.Hash)
			registers[k] = h.Sum(nil)
		}
	}

	results := make([]ReplayResult, 0, len(registers))
	for k, value := range registers {
		results = append(results, ReplayResult{IMRIndex: k.imr, Digest: Digest{AlgID: k.alg, Hash: value}})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].IMRIndex != results[j].IMRIndex {
			return results[i].IMRIndex < results[j].IMRIndex
		}
		return results[i].Digest.AlgID < results[j].Digest.AlgID
	})

	return results, nil
}
