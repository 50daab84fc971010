package task

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/stats"
)

// Worker pipe wire format: [4-byte length (big-endian)][1-byte msg type][payload].
// The length covers the type byte and the msgpack payload.
const (
	frameHeaderSize = 5
	maxFrameSize    = 256 << 20
)

// Message types on the worker pipes.
const (
	msgJob    byte = 0x01 // parent -> child, once
	msgEvent  byte = 0x02
	msgResult byte = 0x03
	msgError  byte = 0xFF
)

var errFrameTooLarge = errors.New("frame exceeds maximum size")

//nolint:gosec // G115: payload length bounded by maxFrameSize check
func writeFrame(w io.Writer, typ byte, payload []byte) error {
	total := uint32(1 + len(payload))
	if int(total)+4 > maxFrameSize {
		return errFrameTooLarge
	}
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], total)
	buf[4] = typ
	copy(buf[frameHeaderSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	total := binary.BigEndian.Uint32(header[0:4])
	if int(total)+4 > maxFrameSize {
		return 0, nil, errFrameTooLarge
	}
	if total < 1 {
		return 0, nil, fmt.Errorf("frame too small: length %d", total)
	}
	payload := make([]byte, total-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return header[4], payload, nil
}

// jobMsg hands a run to a worker process. Task is the TOML rendering of the
// task config.
type jobMsg struct {
	Task     []byte
	Previous record.Record
}

// MarshalMsg implements msgp.Marshaler.
func (z *jobMsg) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "task")
	o = msgp.AppendBytes(o, z.Task)
	o = msgp.AppendString(o, "previous")
	o = record.AppendRecord(o, z.Previous)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *jobMsg) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err, "jobMsg")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err, "jobMsg")
		}
		switch msgp.UnsafeString(field) {
		case "task":
			z.Task, bts, err = msgp.ReadBytesBytes(bts, z.Task)
		case "previous":
			z.Previous, bts, err = record.ReadRecord(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// resultMsg carries a finished engine run back to the parent.
type resultMsg struct {
	Result engine.Result
}

// MarshalMsg implements msgp.Marshaler.
func (z *resultMsg) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 4)
	o = msgp.AppendString(o, "record")
	o = record.AppendRecord(o, z.Result.Record)
	o = msgp.AppendString(o, "pending")
	o = appendStrings(o, z.Result.Pending)
	o = msgp.AppendString(o, "summary")
	o = appendSummary(o, &z.Result.Summary)
	o = msgp.AppendString(o, "stats")
	o = appendSnapshot(o, z.Result.Stats)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *resultMsg) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err, "resultMsg")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err, "resultMsg")
		}
		switch msgp.UnsafeString(field) {
		case "record":
			z.Result.Record, bts, err = record.ReadRecord(bts)
		case "pending":
			z.Result.Pending, bts, err = readStrings(bts)
		case "summary":
			var s *event.Summary
			s, bts, err = readSummary(bts)
			if s != nil {
				z.Result.Summary = *s
			}
		case "stats":
			z.Result.Stats, bts, err = readSnapshot(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

// errorMsg reports a fatal worker error with its classification.
type errorMsg struct {
	Message  string
	Kind     int
	Canceled bool
}

// MarshalMsg implements msgp.Marshaler.
func (z *errorMsg) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 3)
	o = msgp.AppendString(o, "message")
	o = msgp.AppendString(o, z.Message)
	o = msgp.AppendString(o, "kind")
	o = msgp.AppendInt(o, z.Kind)
	o = msgp.AppendString(o, "canceled")
	o = msgp.AppendBool(o, z.Canceled)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *errorMsg) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err, "errorMsg")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err, "errorMsg")
		}
		switch msgp.UnsafeString(field) {
		case "message":
			z.Message, bts, err = msgp.ReadStringBytes(bts)
		case "kind":
			z.Kind, bts, err = msgp.ReadIntBytes(bts)
		case "canceled":
			z.Canceled, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func appendEvent(b []byte, e event.Event) []byte {
	o := msgp.AppendMapHeader(b, 14)
	o = msgp.AppendString(o, "type")
	o = msgp.AppendInt(o, int(e.Type))
	o = msgp.AppendString(o, "ts")
	o = appendTime(o, e.Timestamp)
	o = msgp.AppendString(o, "task")
	o = msgp.AppendString(o, e.Task)
	o = msgp.AppendString(o, "path")
	o = msgp.AppendString(o, e.Path)
	o = msgp.AppendString(o, "dest")
	o = msgp.AppendString(o, e.Dest)
	o = msgp.AppendString(o, "message")
	o = msgp.AppendString(o, e.Message)
	o = msgp.AppendString(o, "reason")
	o = msgp.AppendString(o, e.Reason)
	o = msgp.AppendString(o, "current")
	o = msgp.AppendInt64(o, e.Current)
	o = msgp.AppendString(o, "total")
	o = msgp.AppendInt64(o, e.Total)
	o = msgp.AppendString(o, "percent")
	o = msgp.AppendInt(o, e.Percent)
	o = msgp.AppendString(o, "eta")
	o = msgp.AppendInt64(o, int64(e.ETA))
	o = msgp.AppendString(o, "elapsed")
	o = msgp.AppendInt64(o, int64(e.Elapsed))
	o = msgp.AppendString(o, "rate")
	o = msgp.AppendFloat64(o, e.Rate)
	o = msgp.AppendString(o, "summary")
	o = appendSummary(o, e.Summary)
	return o
}

func readEvent(bts []byte) (event.Event, []byte, error) {
	var e event.Event
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return e, bts, msgp.WrapError(err, "Event")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return e, bts, msgp.WrapError(err, "Event")
		}
		var i int
		var d time.Duration
		switch msgp.UnsafeString(field) {
		case "type":
			i, bts, err = msgp.ReadIntBytes(bts)
			e.Type = event.Type(i)
		case "ts":
			e.Timestamp, bts, err = readTime(bts)
		case "task":
			e.Task, bts, err = msgp.ReadStringBytes(bts)
		case "path":
			e.Path, bts, err = msgp.ReadStringBytes(bts)
		case "dest":
			e.Dest, bts, err = msgp.ReadStringBytes(bts)
		case "message":
			e.Message, bts, err = msgp.ReadStringBytes(bts)
		case "reason":
			e.Reason, bts, err = msgp.ReadStringBytes(bts)
		case "current":
			e.Current, bts, err = msgp.ReadInt64Bytes(bts)
		case "total":
			e.Total, bts, err = msgp.ReadInt64Bytes(bts)
		case "percent":
			e.Percent, bts, err = msgp.ReadIntBytes(bts)
		case "eta":
			d, bts, err = readDuration(bts)
			e.ETA = d
		case "elapsed":
			d, bts, err = readDuration(bts)
			e.Elapsed = d
		case "rate":
			e.Rate, bts, err = msgp.ReadFloat64Bytes(bts)
		case "summary":
			e.Summary, bts, err = readSummary(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return e, bts, msgp.WrapError(err, string(field))
		}
	}
	return e, bts, nil
}

func appendSummary(b []byte, s *event.Summary) []byte {
	if s == nil {
		return msgp.AppendNil(b)
	}
	o := msgp.AppendMapHeader(b, 7)
	o = msgp.AppendString(o, "linked")
	o = msgp.AppendInt64(o, s.Linked)
	o = msgp.AppendString(o, "skipped")
	o = msgp.AppendInt64(o, s.Skipped)
	o = msgp.AppendString(o, "failed")
	o = msgp.AppendInt64(o, s.Failed)
	o = msgp.AppendString(o, "filtered")
	o = msgp.AppendInt64(o, s.Filtered)
	o = msgp.AppendString(o, "elapsed")
	o = msgp.AppendInt64(o, int64(s.Elapsed))
	o = msgp.AppendString(o, "pending")
	o = appendStrings(o, s.Pending)
	o = msgp.AppendString(o, "failures")
	o = msgp.AppendMapHeader(o, uint32(len(s.Failures))) //nolint:gosec // G115: map size fits
	for _, reason := range s.Reasons() {
		o = msgp.AppendString(o, reason)
		o = appendStrings(o, s.Failures[reason])
	}
	return o
}

func readSummary(bts []byte) (*event.Summary, []byte, error) {
	if msgp.IsNil(bts) {
		bts, err := msgp.ReadNilBytes(bts)
		return nil, bts, err
	}
	s := &event.Summary{}
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, bts, msgp.WrapError(err, "Summary")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return nil, bts, msgp.WrapError(err, "Summary")
		}
		switch msgp.UnsafeString(field) {
		case "linked":
			s.Linked, bts, err = msgp.ReadInt64Bytes(bts)
		case "skipped":
			s.Skipped, bts, err = msgp.ReadInt64Bytes(bts)
		case "failed":
			s.Failed, bts, err = msgp.ReadInt64Bytes(bts)
		case "filtered":
			s.Filtered, bts, err = msgp.ReadInt64Bytes(bts)
		case "elapsed":
			s.Elapsed, bts, err = readDuration(bts)
		case "pending":
			s.Pending, bts, err = readStrings(bts)
		case "failures":
			s.Failures, bts, err = readFailures(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return nil, bts, msgp.WrapError(err, string(field))
		}
	}
	return s, bts, nil
}

func readFailures(bts []byte) (map[string][]string, []byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	out := make(map[string][]string, n)
	for ; n > 0; n-- {
		var reason string
		reason, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return nil, bts, err
		}
		out[reason], bts, err = readStrings(bts)
		if err != nil {
			return nil, bts, msgp.WrapError(err, reason)
		}
	}
	return out, bts, nil
}

func appendSnapshot(b []byte, s stats.Snapshot) []byte {
	o := msgp.AppendArrayHeader(b, 8)
	o = msgp.AppendInt64(o, s.Visited)
	o = msgp.AppendInt64(o, s.Linked)
	o = msgp.AppendInt64(o, s.Skipped)
	o = msgp.AppendInt64(o, s.Filtered)
	o = msgp.AppendInt64(o, s.Failed)
	o = msgp.AppendInt64(o, s.DirsCreated)
	o = msgp.AppendInt64(o, s.Total)
	o = msgp.AppendInt64(o, int64(s.Elapsed))
	return o
}

func readSnapshot(bts []byte) (stats.Snapshot, []byte, error) {
	var s stats.Snapshot
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return s, bts, err
	}
	if n != 8 {
		return s, bts, msgp.ArrayError{Wanted: 8, Got: n}
	}
	var elapsed int64
	for _, dst := range []*int64{
		&s.Visited, &s.Linked, &s.Skipped, &s.Filtered,
		&s.Failed, &s.DirsCreated, &s.Total, &elapsed,
	} {
		if *dst, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return s, bts, err
		}
	}
	s.Elapsed = time.Duration(elapsed)
	return s, bts, nil
}

func appendStrings(b []byte, ss []string) []byte {
	o := msgp.AppendArrayHeader(b, uint32(len(ss))) //nolint:gosec // G115: slice length fits
	for _, s := range ss {
		o = msgp.AppendString(o, s)
	}
	return o
}

func readStrings(bts []byte) ([]string, []byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	if n == 0 {
		return nil, bts, nil
	}
	out := make([]string, n)
	for i := range out {
		if out[i], bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i)
		}
	}
	return out, bts, nil
}

// Times travel as unix nanoseconds; 0 is the zero time.
func appendTime(b []byte, t time.Time) []byte {
	if t.IsZero() {
		return msgp.AppendInt64(b, 0)
	}
	return msgp.AppendInt64(b, t.UnixNano())
}

func readTime(bts []byte) (time.Time, []byte, error) {
	ns, bts, err := msgp.ReadInt64Bytes(bts)
	if err != nil || ns == 0 {
		return time.Time{}, bts, err
	}
	return time.Unix(0, ns), bts, nil
}

func readDuration(bts []byte) (time.Duration, []byte, error) {
	v, bts, err := msgp.ReadInt64Bytes(bts)
	return time.Duration(v), bts, err
}
