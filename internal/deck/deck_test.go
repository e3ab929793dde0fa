package deck

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skripsaha/kernel/internal/routing"
)

func opEvent(evType uint32, payload []byte) *routing.Entry {
	e := &routing.Entry{}
	e.Event.Type = evType
	e.Event.PayloadSize = uint32(len(payload))
	copy(e.Event.Payload[:], payload)
	return e
}

func TestOperations_HashCRC32_ComputesChecksum(t *testing.T) {
	d := NewOperations(0)
	data := []byte("hello")
	payload := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(payload[:8], uint64(len(data)))
	copy(payload[8:], data)

	entry := opEvent(EventOpHashCRC32, payload)
	require.NoError(t, d.Process(entry))

	result, _, ok := entry.LastResult()
	require.True(t, ok)
	assert.Len(t, result, 4)
}

func TestOperations_VectorAdd_SumsElementwise(t *testing.T) {
	d := NewOperations(0)
	payload := make([]byte, 8+2*8*2)
	binary.LittleEndian.PutUint64(payload[:8], 2)
	binary.LittleEndian.PutUint64(payload[8:16], 1)
	binary.LittleEndian.PutUint64(payload[16:24], 2)
	binary.LittleEndian.PutUint64(payload[24:32], 10)
	binary.LittleEndian.PutUint64(payload[32:40], 20)

	entry := opEvent(EventOpVectorAdd, payload)
	require.NoError(t, d.Process(entry))

	result, _, ok := entry.LastResult()
	require.True(t, ok)
	assert.Equal(t, uint64(11), binary.LittleEndian.Uint64(result[0:8]))
	assert.Equal(t, uint64(22), binary.LittleEndian.Uint64(result[8:16]))
}

func TestOperations_UnknownEventType_RecordsError(t *testing.T) {
	d := NewOperations(0)
	entry := opEvent(9999, nil)
	err := d.Process(entry)
	assert.Error(t, err)
	assert.True(t, entry.Abort)
}

func TestOperations_RLERoundTrip(t *testing.T) {
	d := NewOperations(0)
	data := []byte{1, 1, 1, 2, 2, 3}
	payload := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(payload[:8], uint64(len(data)))
	copy(payload[8:], data)

	entry := opEvent(EventOpCompressRLE, payload)
	require.NoError(t, d.Process(entry))
	compressed, _, ok := entry.LastResult()
	require.True(t, ok)

	decompPayload := make([]byte, 8+len(compressed))
	binary.LittleEndian.PutUint64(decompPayload[:8], uint64(len(compressed)))
	copy(decompPayload[8:], compressed)

	entry2 := opEvent(EventOpDecompressRLE, decompPayload)
	require.NoError(t, d.Process(entry2))
	decompressed, _, ok := entry2.LastResult()
	require.True(t, ok)
	assert.Equal(t, data, decompressed)
}

func TestStorage_WriteThenRead_ReturnsWhatWasWritten(t *testing.T) {
	d := NewStorage(0, 0)

	openEntry := opEvent(EventFileOpen, []byte("file.txt"))
	require.NoError(t, d.Process(openEntry))
	fdBytes, _, _ := openEntry.LastResult()
	fd := binary.LittleEndian.Uint64(fdBytes)

	data := []byte("payload")
	writePayload := make([]byte, 12+len(data))
	binary.LittleEndian.PutUint64(writePayload[:8], fd)
	binary.LittleEndian.PutUint32(writePayload[8:12], uint32(len(data)))
	copy(writePayload[12:], data)
	writeEntry := opEvent(EventFileWrite, writePayload)
	require.NoError(t, d.Process(writeEntry))

	readPayload := make([]byte, 16)
	binary.LittleEndian.PutUint64(readPayload[:8], fd)
	binary.LittleEndian.PutUint64(readPayload[8:16], uint64(len(data)))
	readEntry := opEvent(EventFileRead, readPayload)
	require.NoError(t, d.Process(readEntry))

	got, _, ok := readEntry.LastResult()
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestStorage_WriteBeyondQuota_FailsWithDiskFull(t *testing.T) {
	d := NewStorage(0, 4)

	openEntry := opEvent(EventFileOpen, []byte("f"))
	require.NoError(t, d.Process(openEntry))
	fdBytes, _, _ := openEntry.LastResult()
	fd := binary.LittleEndian.Uint64(fdBytes)

	data := []byte("toolong")
	writePayload := make([]byte, 12+len(data))
	binary.LittleEndian.PutUint64(writePayload[:8], fd)
	binary.LittleEndian.PutUint32(writePayload[8:12], uint32(len(data)))
	copy(writePayload[12:], data)
	writeEntry := opEvent(EventFileWrite, writePayload)

	err := d.Process(writeEntry)
	assert.Error(t, err)
	assert.True(t, writeEntry.Abort)
}

func TestStorage_ReadUnknownFD_FailsWithInvalidFD(t *testing.T) {
	d := NewStorage(0, 0)
	readPayload := make([]byte, 16)
	binary.LittleEndian.PutUint64(readPayload[:8], 999)
	entry := opEvent(EventFileRead, readPayload)
	err := d.Process(entry)
	assert.Error(t, err)
}

func TestHardware_TimerSleep_SuspendsThenTickCompletes(t *testing.T) {
	d := NewHardware(0)
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 5)
	entry := opEvent(EventTimerSleep, payload)

	err := d.Process(entry)
	require.Error(t, err)
	var suspend *Suspend
	require.ErrorAs(t, err, &suspend)
	assert.Equal(t, routing.Suspended, entry.State)

	expired := d.Tick(4)
	assert.Empty(t, expired)
	assert.Equal(t, routing.Suspended, entry.State)

	expired = d.Tick(5)
	require.Len(t, expired, 1)
	assert.Same(t, entry, expired[0])
	assert.Equal(t, routing.Processing, entry.State)
}

func TestHardware_TimerGetTicks_ReflectsLastTick(t *testing.T) {
	d := NewHardware(0)
	d.Tick(42)
	entry := opEvent(EventTimerGetTicks, nil)
	require.NoError(t, d.Process(entry))
	result, _, ok := entry.LastResult()
	require.True(t, ok)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(result))
}

func TestNetwork_AnyEvent_ReturnsNotImplemented(t *testing.T) {
	d := NewNetwork()
	entry := opEvent(1, nil)
	err := d.Process(entry)
	assert.Error(t, err)
	assert.True(t, entry.Abort)
}

func TestQueue_RespectsBoundAndFIFOOrder(t *testing.T) {
	q := NewQueue(2)
	e1, e2, e3 := &routing.Entry{EventID: 1}, &routing.Entry{EventID: 2}, &routing.Entry{EventID: 3}
	assert.True(t, q.Push(e1))
	assert.True(t, q.Push(e2))
	assert.False(t, q.Push(e3))

	got := q.Pop()
	assert.Equal(t, e1, got)
	assert.Equal(t, 1, q.Len())
}
