package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-ddlock/internal/lock"
)

func sampleOrigin() lock.NodeID {
	return lock.NodeID{SysID: 6821926648318486098, Timeline: 3, DBID: 16384}
}

func sampleTarget() lock.NodeID {
	return lock.NodeID{SysID: 6821926648318486099, Timeline: 3, DBID: 16384}
}

func TestRoundTripAllKinds(t *testing.T) {
	cases := []Message{
		{Kind: KindStart, Origin: sampleOrigin()},
		{Kind: KindAcquire, Origin: sampleOrigin(), AcquireKind: lock.Write},
		{Kind: KindDecline, Origin: sampleOrigin(), Target: sampleTarget(), TargetKind: lock.Ddl},
		{Kind: KindConfirm, Origin: sampleOrigin(), Target: sampleTarget(), TargetKind: lock.Write},
		{Kind: KindRelease, Origin: sampleOrigin(), Target: sampleTarget()},
		{Kind: KindRequestReplay, Origin: sampleOrigin(), WaitLSN: 0x1234567890abcdef},
		{Kind: KindReplayConfirm, Origin: sampleOrigin(), RequestLSN: 42},
	}

	for _, want := range cases {
		t.Run(want.Kind.String(), func(t *testing.T) {
			encoded, err := Encode(want)
			require.NoError(t, err)

			got, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestDecodeRejectsBadChannelTag(t *testing.T) {
	encoded, err := Encode(Message{Kind: KindStart, Origin: sampleOrigin()})
	require.NoError(t, err)
	encoded[0] = 'x'

	_, err = Decode(encoded)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	encoded, err := Encode(Message{Kind: KindAcquire, Origin: sampleOrigin(), AcquireKind: lock.Ddl})
	require.NoError(t, err)

	_, err = Decode(encoded[:len(encoded)-1])
	require.Error(t, err)
}

func TestKindTransactional(t *testing.T) {
	require.True(t, KindConfirm.Transactional())
	require.False(t, KindStart.Transactional())
	require.False(t, KindAcquire.Transactional())
	require.False(t, KindDecline.Transactional())
	require.False(t, KindRelease.Transactional())
	require.False(t, KindRequestReplay.Transactional())
	require.False(t, KindReplayConfirm.Transactional())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "ACQUIRE", KindAcquire.String())
	require.Equal(t, "UNKNOWN", Kind(999).String())
}
