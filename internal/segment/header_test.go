package segment

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestHeaderSize(t *testing.T) {
	var h Header
	assert.EqualValues(t, HeaderSize, unsafe.Sizeof(h))
}

func TestMetricsIncrement(t *testing.T) {
	var h Header
	h.IncWriterTimeout()
	h.IncWriterReaderTimeout()
	h.IncChecksumFailure()
	h.IncSchemaMismatch()
	assert.EqualValues(t, 1, h.WriterTimeoutCount)
	assert.EqualValues(t, 1, h.WriterReaderTimeoutCount)
	assert.EqualValues(t, 1, h.ChecksumFailures)
	assert.EqualValues(t, 1, h.SchemaMismatchCount)
}

func TestPublishMagicSetsFullyInit(t *testing.T) {
	var h Header
	h.publishMagic()
	assert.Equal(t, Magic, h.LoadMagic())
	assert.Equal(t, InitStateFullyInit, h.LoadInitState())
}
