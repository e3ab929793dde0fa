package deck

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/skripsaha/kernel/internal/kerr"
	"github.com/skripsaha/kernel/internal/routing"
)

// Operations event types (spec.md §4.3's "pure computation" deck; grounded
// on operations_deck.c's EVENT_OP_* range).
const (
	EventOpHashCRC32    uint32 = 100
	EventOpHashDJB2     uint32 = 101
	EventOpCompressRLE  uint32 = 110
	EventOpDecompressRLE uint32 = 111
	EventOpEncryptXOR   uint32 = 120
	EventOpDecryptXOR   uint32 = 121
	EventOpVectorAdd    uint32 = 130
	EventOpVectorMul    uint32 = 131
	EventOpVectorScale  uint32 = 132
)

// Operations is the pure-computation deck: hashing, compression,
// symmetric encryption, and vector arithmetic over the event payload, with
// no side effects outside the entry itself (grounded on operations_deck.c).
type Operations struct{ base }

// NewOperations builds the Operations deck with the given pending-queue
// bound.
func NewOperations(queueBound int) *Operations {
	return &Operations{base: newBase("operations", PrefixOperations, queueBound)}
}

func djb2(data []byte) uint64 {
	var h uint64 = 5381
	for _, b := range data {
		h = h*33 + uint64(b)
	}
	return h
}

func rleCompress(input []byte) []byte {
	var out []byte
	for i := 0; i < len(input); {
		run := byte(1)
		for i+int(run) < len(input) && run < 255 && input[i+int(run)] == input[i] {
			run++
		}
		out = append(out, run, input[i])
		i += int(run)
	}
	return out
}

func rleDecompress(input []byte) []byte {
	var out []byte
	for i := 0; i+1 < len(input); i += 2 {
		run, val := input[i], input[i+1]
		for j := byte(0); j < run; j++ {
			out = append(out, val)
		}
	}
	return out
}

func xorApply(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// Process implements Deck (spec.md §4.3/§4.4: consume event_copy.Payload,
// produce exactly one deck result, advance or fail the entry).
func (d *Operations) Process(entry *routing.Entry) error {
	ev := &entry.Event
	payload := ev.Payload[:ev.PayloadSize]

	switch ev.Type {
	case EventOpHashCRC32:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		size := binary.LittleEndian.Uint64(payload[:8])
		data := payload[8:]
		if uint64(len(data)) < size {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		sum := crc32.ChecksumIEEE(data[:size])
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, sum)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventOpHashDJB2:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		size := binary.LittleEndian.Uint64(payload[:8])
		data := payload[8:]
		if uint64(len(data)) < size {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		hash := djb2(data[:size])
		result := make([]byte, 8)
		binary.LittleEndian.PutUint64(result, hash)
		entry.RecordResult(result, routing.ResultValue, 0)

	case EventOpCompressRLE:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		size := binary.LittleEndian.Uint64(payload[:8])
		data := payload[8:]
		if uint64(len(data)) < size {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		out := rleCompress(data[:size])
		if out == nil && size > 0 {
			return fail(entry, &d.base, kerr.OpCompressionFailed)
		}
		entry.RecordResult(out, routing.ResultValue, 0)

	case EventOpDecompressRLE:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		size := binary.LittleEndian.Uint64(payload[:8])
		data := payload[8:]
		if uint64(len(data)) < size {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		out := rleDecompress(data[:size])
		if out == nil && size > 0 {
			return fail(entry, &d.base, kerr.OpDecompressionFailed)
		}
		entry.RecordResult(out, routing.ResultValue, 0)

	case EventOpEncryptXOR, EventOpDecryptXOR:
		if len(payload) < 10 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		dataSize := binary.LittleEndian.Uint64(payload[:8])
		keySize := binary.LittleEndian.Uint16(payload[8:10])
		if uint64(len(payload))-10 < dataSize+uint64(keySize) {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		data := payload[10 : 10+dataSize]
		key := payload[10+dataSize : 10+dataSize+uint64(keySize)]
		if keySize == 0 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		entry.RecordResult(xorApply(data, key), routing.ResultValue, 0)

	case EventOpVectorAdd, EventOpVectorMul:
		if len(payload) < 8 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		count := binary.LittleEndian.Uint64(payload[:8])
		need := 8 + count*2*8
		if uint64(len(payload)) < need {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		a := payload[8 : 8+count*8]
		b := payload[8+count*8 : 8+count*16]
		out := make([]byte, count*8)
		for i := uint64(0); i < count; i++ {
			av := binary.LittleEndian.Uint64(a[i*8:])
			bv := binary.LittleEndian.Uint64(b[i*8:])
			var r uint64
			if ev.Type == EventOpVectorAdd {
				r = av + bv
			} else {
				r = av * bv
			}
			binary.LittleEndian.PutUint64(out[i*8:], r)
		}
		entry.RecordResult(out, routing.ResultValue, 0)

	case EventOpVectorScale:
		if len(payload) < 16 {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		count := binary.LittleEndian.Uint64(payload[:8])
		scalar := binary.LittleEndian.Uint64(payload[8:16])
		need := 16 + count*8
		if uint64(len(payload)) < need {
			return fail(entry, &d.base, kerr.OpInvalidInput)
		}
		in := payload[16 : 16+count*8]
		out := make([]byte, count*8)
		for i := uint64(0); i < count; i++ {
			v := binary.LittleEndian.Uint64(in[i*8:])
			binary.LittleEndian.PutUint64(out[i*8:], v*scalar)
		}
		entry.RecordResult(out, routing.ResultValue, 0)

	default:
		return fail(entry, &d.base, kerr.OpInvalidOperation)
	}

	d.recordOK()
	return nil
}
