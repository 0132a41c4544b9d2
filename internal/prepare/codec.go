package prepare

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Result payload codec.
//
// Responses cross the sandbox boundary, so they use a fixed hand-written
// binary layout rather than a reflective serializer: the out-of-memory
// circuit breaker must emit a byte-for-byte stable payload from a context
// where no allocation is permitted. Layout (all integers little-endian):
//
//	err:        0x01 | kind u8 | message bytes to end of payload
//	job ok:     0x00 | memory stats | artifact bytes to end of payload
//	result ok:  0x00 | cpu time micros u64 | memory stats
//
// memory stats:
//
//	peak u64 | rss flag u8 [rss u64] | tracker flag u8 [samples u64, min u64, max u64]
const (
	tagOk  = 0x00
	tagErr = 0x01

	flagAbsent  = 0x00
	flagPresent = 0x01
)

// OOMPayload is the framed encoding of Err(OutOfMemory) with an empty
// message: an 8-byte little-endian length prefix of 2 followed by the error
// tag and the OutOfMemory kind. It is written with raw syscalls from the
// allocation-exceeded callback, where the normal encode path is off limits.
var OOMPayload = []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x08}

// EncodeJobResult encodes the child→parent payload: exactly one of resp or
// perr must be set.
func EncodeJobResult(resp *JobResponse, perr *Error) []byte {
	if perr != nil {
		return encodeErr(perr)
	}
	buf := make([]byte, 0, 1+memoryStatsSize(&resp.Memory)+len(resp.Artifact))
	buf = append(buf, tagOk)
	buf = appendMemoryStats(buf, &resp.Memory)
	buf = append(buf, resp.Artifact...)
	return buf
}

// DecodeJobResult parses a child→parent payload. A malformed payload yields
// a decode error; the caller classifies it (typically as JobError, since
// only a broken or adversarial child produces one).
func DecodeJobResult(payload []byte) (*JobResponse, *Error, error) {
	tag, rest, err := splitTag(payload)
	if err != nil {
		return nil, nil, err
	}
	if tag == tagErr {
		perr, err := decodeErr(rest)
		return nil, perr, err
	}

	var resp JobResponse
	rest, err = decodeMemoryStats(rest, &resp.Memory)
	if err != nil {
		return nil, nil, err
	}
	resp.Artifact = rest
	return &resp, nil, nil
}

// EncodeResult encodes the worker→host payload: exactly one of stats or
// perr must be set.
func EncodeResult(stats *Stats, perr *Error) []byte {
	if perr != nil {
		return encodeErr(perr)
	}
	buf := make([]byte, 0, 9+memoryStatsSize(&stats.Memory))
	buf = append(buf, tagOk)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stats.CPUTime.Microseconds()))
	buf = appendMemoryStats(buf, &stats.Memory)
	return buf
}

// DecodeResult parses a worker→host payload.
func DecodeResult(payload []byte) (*Stats, *Error, error) {
	tag, rest, err := splitTag(payload)
	if err != nil {
		return nil, nil, err
	}
	if tag == tagErr {
		perr, err := decodeErr(rest)
		return nil, perr, err
	}

	if len(rest) < 8 {
		return nil, nil, fmt.Errorf("result payload truncated at cpu time")
	}
	var stats Stats
	stats.CPUTime = time.Duration(binary.LittleEndian.Uint64(rest)) * time.Microsecond
	rest, err = decodeMemoryStats(rest[8:], &stats.Memory)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("result payload has %d trailing bytes", len(rest))
	}
	return &stats, nil, nil
}

func encodeErr(perr *Error) []byte {
	buf := make([]byte, 0, 2+len(perr.Message))
	buf = append(buf, tagErr, byte(perr.Kind))
	buf = append(buf, perr.Message...)
	return buf
}

func decodeErr(rest []byte) (*Error, error) {
	if len(rest) < 1 {
		return nil, fmt.Errorf("error payload missing kind")
	}
	kind := ErrorKind(rest[0])
	if !kind.valid() {
		return nil, fmt.Errorf("unknown error kind %d", rest[0])
	}
	return &Error{Kind: kind, Message: string(rest[1:])}, nil
}

func splitTag(payload []byte) (byte, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, fmt.Errorf("empty result payload")
	}
	tag := payload[0]
	if tag != tagOk && tag != tagErr {
		return 0, nil, fmt.Errorf("unknown result tag %#x", tag)
	}
	return tag, payload[1:], nil
}

func memoryStatsSize(ms *MemoryStats) int {
	size := 8 + 1 + 1
	if ms.MaxRSSKB != nil {
		size += 8
	}
	if ms.Tracker != nil {
		size += 24
	}
	return size
}

func appendMemoryStats(buf []byte, ms *MemoryStats) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, ms.PeakTrackedAlloc)
	if ms.MaxRSSKB != nil {
		buf = append(buf, flagPresent)
		buf = binary.LittleEndian.AppendUint64(buf, *ms.MaxRSSKB)
	} else {
		buf = append(buf, flagAbsent)
	}
	if ms.Tracker != nil {
		buf = append(buf, flagPresent)
		buf = binary.LittleEndian.AppendUint64(buf, ms.Tracker.Samples)
		buf = binary.LittleEndian.AppendUint64(buf, ms.Tracker.Min)
		buf = binary.LittleEndian.AppendUint64(buf, ms.Tracker.Max)
	} else {
		buf = append(buf, flagAbsent)
	}
	return buf
}

func decodeMemoryStats(rest []byte, ms *MemoryStats) ([]byte, error) {
	if len(rest) < 8 {
		return nil, fmt.Errorf("memory stats truncated at peak")
	}
	ms.PeakTrackedAlloc = binary.LittleEndian.Uint64(rest)
	rest = rest[8:]

	rest, present, err := readFlag(rest, "max rss")
	if err != nil {
		return nil, err
	}
	if present {
		if len(rest) < 8 {
			return nil, fmt.Errorf("memory stats truncated at max rss")
		}
		rss := binary.LittleEndian.Uint64(rest)
		ms.MaxRSSKB = &rss
		rest = rest[8:]
	}

	rest, present, err = readFlag(rest, "tracker")
	if err != nil {
		return nil, err
	}
	if present {
		if len(rest) < 24 {
			return nil, fmt.Errorf("memory stats truncated at tracker series")
		}
		ms.Tracker = &TrackerStats{
			Samples: binary.LittleEndian.Uint64(rest),
			Min:     binary.LittleEndian.Uint64(rest[8:]),
			Max:     binary.LittleEndian.Uint64(rest[16:]),
		}
		rest = rest[24:]
	}
	return rest, nil
}

func readFlag(rest []byte, field string) ([]byte, bool, error) {
	if len(rest) < 1 {
		return nil, false, fmt.Errorf("memory stats truncated at %s flag", field)
	}
	switch rest[0] {
	case flagAbsent:
		return rest[1:], false, nil
	case flagPresent:
		return rest[1:], true, nil
	default:
		return nil, false, fmt.Errorf("invalid %s flag %#x", field, rest[0])
	}
}
