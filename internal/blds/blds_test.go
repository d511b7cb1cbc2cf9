package blds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type telemetrySample struct {
	Seq     uint64
	Temp    float32
	Flags   uint8
	Payload [16]byte
}

type nested struct {
	Inner telemetrySample
	Count int32
}

type hasPointer struct {
	Next *hasPointer
}

type hasSlice struct {
	Data []byte
}

func TestDescribeIsDeterministic(t *testing.T) {
	s1, err := Describe(telemetrySample{})
	require.NoError(t, err)
	s2, err := Describe(telemetrySample{Seq: 42})
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "BLDS depends only on type shape, not field values")
	assert.Contains(t, s1, "Seq:L")
	assert.Contains(t, s1, "Payload:[16]C")
}

func TestDescribeAcceptsNestedStructs(t *testing.T) {
	s, err := Describe(nested{})
	require.NoError(t, err)
	assert.Contains(t, s, "Inner:struct{")
}

func TestDescribeRejectsPointers(t *testing.T) {
	_, err := Describe(hasPointer{})
	assert.Error(t, err)
}

func TestDescribeRejectsSlices(t *testing.T) {
	_, err := Describe(hasSlice{})
	assert.Error(t, err)
}

func TestSchemaInfoHashChangesWithShape(t *testing.T) {
	infoA, err := SchemaInfo(telemetrySample{}, Version{Major: 1})
	require.NoError(t, err)
	infoB, err := SchemaInfo(nested{}, Version{Major: 1})
	require.NoError(t, err)
	assert.NotEqual(t, infoA.Hash, infoB.Hash)
}

func TestVersionPackRoundTrip(t *testing.T) {
	v := Version{Major: 3, Minor: 7, Patch: 128}
	assert.Equal(t, v, Unpack(v.Pack()))
}
