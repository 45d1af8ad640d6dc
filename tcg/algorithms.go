/*
Package tcg implements the measurement side of confidential computing attestation:
a registry of TCG algorithm identifiers, a validated measurement register value type,
a decoder for TCG formatted event logs (as exposed by the CCEL ACPI table on TDX guests)
and event log replay.
*/
package tcg

import (
	"crypto"
	"errors"
	"fmt"
	"strings"

	// Register hash implementations used by the algorithm table.
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/google/go-tpm/tpm2"
)

var (
	// ErrUnknownAlgorithm is returned for algorithm identifiers that are not registered,
	// or that do not describe a digest algorithm.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrIndexOutOfRange is returned when a measurement register index exceeds the TEE's maximum.
	ErrIndexOutOfRange  = errors.New("measurement register index out of range")
	// ErrDigestSize is returned when a digest does not match its algorithm's size.
	ErrDigestSize       = errors.New("digest size does not match algorithm")
)

// Algorithm identifiers as assigned by the TCG Algorithm Registry.
const (
	AlgError  = tpm2.TPMAlgID(0x0000)
	AlgRSA    = tpm2.TPMAlgRSA
	AlgSHA1   = tpm2.TPMAlgSHA1
	AlgSHA256 = tpm2.TPMAlgSHA256
	AlgSHA384 = tpm2.TPMAlgSHA384
	AlgSHA512 = tpm2.TPMAlgSHA512
	AlgSM3256 = tpm2.TPMAlgID(0x0012)
	AlgECDSA  = tpm2.TPMAlgECDSA
)

// Algorithm describes a registered TCG algorithm.
type Algorithm struct {
	ID   tpm2.TPMAlgID
	Name string
	// DigestSize is 0 for algorithms that do not produce digests.
	DigestSize int
	// Hash is the Go implementation used for replay. Zero if unavailable.
	Hash crypto.Hash
}

// IsDigest reports whether the algorithm produces a digest.
func (a Algorithm) IsDigest() bool {
	return a.DigestSize > 0
}

func (a Algorithm) String() string {
	return a.Name
}

var algorithms = map[tpm2.TPMAlgID]Algorithm{
	AlgError:  {ID: AlgError, Name: "TPM_ALG_ERROR"},
	AlgRSA:    {ID: AlgRSA, Name: "TPM_ALG_RSA"},
	AlgSHA1:   {ID: AlgSHA1, Name: "TPM_ALG_SHA1", DigestSize: 20, Hash: crypto.SHA1},
	AlgSHA256: {ID: AlgSHA256, Name: "TPM_ALG_SHA256", DigestSize: 32, Hash: crypto.SHA256},
	AlgSHA384: {ID: AlgSHA384, Name: "TPM_ALG_SHA384", DigestSize: 48, Hash: crypto.SHA384},
	AlgSHA512: {ID: AlgSHA512, Name: "TPM_ALG_SHA512", DigestSize: 64, Hash: crypto.SHA512},
	AlgSM3256: {ID: AlgSM3256, Name: "TPM_ALG_SM3_256", DigestSize: 32},
	AlgECDSA:  {ID: AlgECDSA, Name: "TPM_ALG_ECDSA"},
}

// LookupAlgorithm returns the registry entry for id.
func LookupAlgorithm(id tpm2.TPMAlgID) (Algorithm, error) {
	alg, ok := algorithms[id]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: 0x%04x", ErrUnknownAlgorithm, uint16(id))
	}
	return alg, nil
}

// AlgorithmName returns the TCG name of id.
func AlgorithmName(id tpm2.TPMAlgID) (string, error) {
	alg, err := LookupAlgorithm(id)
	if err != nil {
		return "", err
	}
	return alg.Name, nil
}

// DigestSize returns the digest length in bytes produced by id.
func DigestSize(id tpm2.TPMAlgID) (int, error) {
	alg, err := LookupAlgorithm(id)
	if err != nil {
		return 0, err
	}
	if !alg.IsDigest() {
		return 0, fmt.Errorf("%w: %s is not a digest algorithm", ErrUnknownAlgorithm, alg.Name)
	}
	return alg.DigestSize, nil
}

// AlgorithmByName looks up an algorithm by its TCG name, with or without the
// "TPM_ALG_" prefix and in any case, e.g. "sha384" or "TPM_ALG_SHA384".
func AlgorithmByName(name string) (Algorithm, error) {
	want := strings.ToUpper(name)
	if !strings.HasPrefix(want, "TPM_ALG_") {
		want = "TPM_ALG_" + want
	}
	for _, alg := range algorithms {
		if alg.Name == want {
			return alg, nil
		}
	}
	return Algorithm{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}
