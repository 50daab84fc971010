package record

import "github.com/tinylib/msgp/msgp"

// AppendRecord appends r to b in msgpack form. Entries are packed as
// [source, dest, nil | [mtime, size]] arrays.
func AppendRecord(b []byte, r Record) []byte {
	o := msgp.AppendMapHeader(b, 4)
	o = msgp.AppendString(o, "task")
	o = msgp.AppendString(o, r.Task)
	o = msgp.AppendString(o, "fingerprint")
	o = msgp.AppendString(o, r.Fingerprint)
	o = msgp.AppendString(o, "root")
	o = msgp.AppendString(o, r.Root)
	o = msgp.AppendString(o, "entries")
	o = msgp.AppendArrayHeader(o, uint32(len(r.Entries))) //nolint:gosec // G115: slice length fits
	for _, e := range r.Entries {
		o = msgp.AppendArrayHeader(o, 3)
		o = msgp.AppendString(o, e.Source)
		o = msgp.AppendString(o, e.Dest)
		if e.Sig == nil {
			o = msgp.AppendNil(o)
			continue
		}
		o = msgp.AppendArrayHeader(o, 2)
		o = msgp.AppendInt64(o, e.Sig.ModTime)
		o = msgp.AppendInt64(o, e.Sig.Size)
	}
	return o
}

// ReadRecord decodes a record written by AppendRecord.
func ReadRecord(bts []byte) (Record, []byte, error) {
	var r Record
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return r, bts, msgp.WrapError(err, "Record")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return r, bts, msgp.WrapError(err, "Record")
		}
		switch msgp.UnsafeString(field) {
		case "task":
			r.Task, bts, err = msgp.ReadStringBytes(bts)
		case "fingerprint":
			r.Fingerprint, bts, err = msgp.ReadStringBytes(bts)
		case "root":
			r.Root, bts, err = msgp.ReadStringBytes(bts)
		case "entries":
			r.Entries, bts, err = readEntries(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return r, bts, msgp.WrapError(err, string(field))
		}
	}
	return r, bts, nil
}

func readEntries(bts []byte) ([]Entry, []byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, bts, err
	}
	if n == 0 {
		return nil, bts, nil
	}
	out := make([]Entry, n)
	for i := range out {
		var sz uint32
		sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
		if err != nil {
			return nil, bts, msgp.WrapError(err, i)
		}
		if sz != 3 {
			return nil, bts, msgp.WrapError(msgp.ArrayError{Wanted: 3, Got: sz}, i)
		}
		if out[i].Source, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i, "Source")
		}
		if out[i].Dest, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i, "Dest")
		}
		if msgp.IsNil(bts) {
			if bts, err = msgp.ReadNilBytes(bts); err != nil {
				return nil, bts, msgp.WrapError(err, i, "Sig")
			}
			continue
		}
		if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i, "Sig")
		}
		if sz != 2 {
			return nil, bts, msgp.WrapError(msgp.ArrayError{Wanted: 2, Got: sz}, i, "Sig")
		}
		sig := &Signature{}
		if sig.ModTime, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i, "Sig")
		}
		if sig.Size, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return nil, bts, msgp.WrapError(err, i, "Sig")
		}
		out[i].Sig = sig
	}
	return out, bts, nil
}

// MarshalMsg implements msgp.Marshaler.
func (z *State) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 3)
	o = msgp.AppendString(o, "records")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Records))) //nolint:gosec // G115: slice length fits
	for _, r := range z.Records {
		o = AppendRecord(o, r)
	}
	o = msgp.AppendString(o, "pending")
	o = msgp.AppendMapHeader(o, uint32(len(z.Pending))) //nolint:gosec // G115: map length fits
	for task, dsts := range z.Pending {
		o = msgp.AppendString(o, task)
		o = msgp.AppendArrayHeader(o, uint32(len(dsts))) //nolint:gosec // G115: slice length fits
		for _, d := range dsts {
			o = msgp.AppendString(o, d)
		}
	}
	o = msgp.AppendString(o, "pending_roots")
	o = msgp.AppendMapHeader(o, uint32(len(z.PendingRoots))) //nolint:gosec // G115: map length fits
	for task, root := range z.PendingRoots {
		o = msgp.AppendString(o, task)
		o = msgp.AppendString(o, root)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *State) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err, "State")
	}
	z.Pending = make(map[string][]string)
	z.PendingRoots = make(map[string]string)
	z.Records = nil
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err, "State")
		}
		switch msgp.UnsafeString(field) {
		case "records":
			bts, err = z.readRecords(bts)
		case "pending":
			bts, err = z.readPending(bts)
		case "pending_roots":
			bts, err = z.readPendingRoots(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *State) readRecords(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	z.Records = make([]Record, 0, n)
	for i := range n {
		var r Record
		if r, bts, err = ReadRecord(bts); err != nil {
			return bts, msgp.WrapError(err, i)
		}
		z.Records = append(z.Records, r)
	}
	return bts, nil
}

func (z *State) readPending(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for ; n > 0; n-- {
		var task string
		if task, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return bts, err
		}
		var sz uint32
		if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
			return bts, msgp.WrapError(err, task)
		}
		dsts := make([]string, sz)
		for i := range dsts {
			if dsts[i], bts, err = msgp.ReadStringBytes(bts); err != nil {
				return bts, msgp.WrapError(err, task, i)
			}
		}
		z.Pending[task] = dsts
	}
	return bts, nil
}

func (z *State) readPendingRoots(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for ; n > 0; n-- {
		var task, root string
		if task, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return bts, err
		}
		if root, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return bts, msgp.WrapError(err, task)
		}
		z.PendingRoots[task] = root
	}
	return bts, nil
}
