package tcg

import (
	"bytes"
	"crypto/sha512"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestSize(t *testing.T) {
	testCases := map[string]struct {
		id       tpm2.TPMAlgID
		wantSize int
		wantName string
		wantErr  bool
	}{
		"sha1":       {id: AlgSHA1, wantSize: 20, wantName: "TPM_ALG_SHA1"},
		"sha256":     {id: AlgSHA256, wantSize: 32, wantName: "TPM_ALG_SHA256"},
		"sha384":     {id: AlgSHA384, wantSize: 48, wantName: "TPM_ALG_SHA384"},
		"sha512":     {id: AlgSHA512, wantSize: 64, wantName: "TPM_ALG_SHA512"},
		"sm3":        {id: AlgSM3256, wantSize: 32, wantName: "TPM_ALG_SM3_256"},
		"rsa":        {id: AlgRSA, wantName: "TPM_ALG_RSA", wantErr: true},
		"ecdsa":      {id: AlgECDSA, wantName: "TPM_ALG_ECDSA", wantErr: true},
		"unassigned": {id: 0xFF, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			size, err := DigestSize(tc.id)
			if tc.wantErr {
				assert.ErrorIs(err, ErrUnknownAlgorithm)
			} else {
				assert.NoError(err)
				assert.Equal(tc.wantSize, size)
			}

			algName, err := AlgorithmName(tc.id)
			if tc.wantName == "" {
				assert.ErrorIs(err, ErrUnknownAlgorithm)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.wantName, algName)
		})
	}
}

func TestAlgorithmByName(t *testing.T) {
	testCases := map[string]struct {
		name    string
		want    tpm2.TPMAlgID
		wantErr bool
	}{
		"short name":  {name: "sha384", want: AlgSHA384},
		"full name":   {name: "TPM_ALG_SHA256", want: AlgSHA256},
		"mixed case":  {name: "Sm3_256", want: AlgSM3256},
		"unknown":     {name: "md5", wantErr: true},
		"prefix only": {name: "TPM_ALG_", wantErr: true},
		"empty":       {name: "", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			alg, err := AlgorithmByName(tc.name)
			if tc.wantErr {
				assert.ErrorIs(err, ErrUnknownAlgorithm)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.want, alg.ID)
		})
	}
}

func TestNewIMR(t *testing.T) {
	sha384Digest := bytes.Repeat([]byte{0x42}, 48)

	testCases := map[string]struct {
		index   int
		alg     tpm2.TPMAlgID
		digest  []byte
		wantErr error
	}{
		"rtmr0":                {index: 0, alg: AlgSHA384, digest: sha384Digest},
		"rtmr3":                {index: 3, alg: AlgSHA384, digest: sha384Digest},
		"index above maximum":  {index: 4, alg: AlgSHA384, digest: sha384Digest, wantErr: ErrIndexOutOfRange},
		"negative index":       {index: -1, alg: AlgSHA384, digest: sha384Digest, wantErr: ErrIndexOutOfRange},
		"unknown algorithm":    {index: 0, alg: 0xFF, digest: sha384Digest, wantErr: ErrUnknownAlgorithm},
		"non digest algorithm": {index: 0, alg: AlgRSA, digest: sha384Digest, wantErr: ErrUnknownAlgorithm},
		"short digest":         {index: 0, alg: AlgSHA384, digest: sha384Digest[:32], wantErr: ErrDigestSize},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			imr, err := NewIMR(3, tc.index, tc.alg, tc.digest)
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				assert.Zero(imr)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.index, imr.Index)
			assert.Equal(tc.alg, imr.Digest.AlgID)
			assert.Equal(tc.digest, imr.Digest.Hash)
		})
	}
}

func TestNewIMRCopiesDigest(t *testing.T) {
	digest := make([]byte, 48)
	imr, err := NewIMR(3, 0, AlgSHA384, digest)
	require.NoError(t, err)

	digest[0] = 0xFF
	assert.Equal(t, byte(0), imr.Digest.Hash[0])
}

func TestReplay(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	raw := newLogBuilder(
		AlgorithmSize{AlgID: AlgSHA256, DigestSize: 32},
		AlgorithmSize{AlgID: AlgSHA384, DigestSize: 48},
	).
		event(1, EvEFIAction, []byte("a"), AlgSHA384).
		event(2, EvEFIAction, []byte("b"), AlgSHA384, AlgSHA256).
		event(1, EvNoAction, []byte("ignored"), AlgSHA384).
		event(1, EvEFIAction, []byte("c"), AlgSHA384).
		bytes()
	eventLog, err := ParseEventLog(raw)
	require.NoError(err)

	results, err := Replay(eventLog.Events)
	require.NoError(err)
	require.Len(results, 3)

	extend := func(old []byte, data string) []byte {
		d := sha512.Sum384([]byte(data))
		sum := sha512.Sum384(append(bytes.Clone(old), d[:]...))
		return sum[:]
	}
	imr1 := extend(extend(make([]byte, 48), "a"), "c")
	imr2 := extend(make([]byte, 48), "b")

	assert.EqualValues(1, results[0].IMRIndex)
	assert.Equal(AlgSHA384, results[0].Digest.AlgID)
	assert.Equal(imr1, results[0].Digest.Hash)
	assert.EqualValues(2, results[1].IMRIndex)
	assert.Equal(AlgSHA256, results[1].Digest.AlgID)
	assert.Len(results[1].Digest.Hash, 32)
	assert.EqualValues(2, results[2].IMRIndex)
	assert.Equal(imr2, results[2].Digest.Hash)

	assert.True(results[0].Matches(Digest{AlgID: AlgSHA384, Hash: imr1}))
	assert.False(results[0].Matches(Digest{AlgID: AlgSHA384, Hash: imr2}))
	assert.False(results[0].Matches(Digest{AlgID: AlgSHA512, Hash: imr1}))
}

func TestReplayErrors(t *testing.T) {
	testCases := map[string]struct {
		events  []IMREvent
		wantErr error
	}{
		"unknown algorithm": {
			events:  []IMREvent{{IMRIndex: 1, Digests: []Digest{{AlgID: 0xFF, Hash: []byte{1}}}}},
			wantErr: ErrUnknownAlgorithm,
		},
		"no hash implementation": {
			events:  []IMREvent{{IMRIndex: 1, Digests: []Digest{{AlgID: AlgSM3256, Hash: make([]byte, 32)}}}},
			wantErr: ErrUnknownAlgorithm,
		},
		"digest size mismatch": {
			events:  []IMREvent{{IMRIndex: 1, Digests: []Digest{{AlgID: AlgSHA384, Hash: make([]byte, 47)}}}},
			wantErr: ErrDigestSize,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Replay(tc.events)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEventTypeString(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("EV_NO_ACTION", EvNoAction.String())
	assert.Equal("EV_EFI_VARIABLE_AUTHORITY", EvEFIVariableAuthority.String())
	assert.Equal("UNKNOWN_EVENT_TYPE(0x13)", EventType(0x13).String())
}
