// Package backup writes and reads portable archives of the link records,
// pending deletions and configuration.
package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/tinylib/msgp/msgp"

	"github.com/bamsammich/hlink/internal/record"
)

// Archive layout: [8-byte magic][8-byte xxhash64 of payload (big-endian)]
// followed by the zstd-compressed msgpack payload.
const (
	magic      = "HLNKBAK1"
	headerSize = len(magic) + 8
	maxPayload = 1 << 30
)

var (
	// ErrFormat is returned for input that is not an hlink archive.
	ErrFormat = errors.New("not an hlink backup archive")
	// ErrChecksum is returned when the payload does not match its checksum.
	ErrChecksum = errors.New("backup archive checksum mismatch")
)

// Archive is the content of one backup.
type Archive struct {
	Created time.Time
	Config  []byte // raw config file, nil when there was none
	State   record.State
}

// Store is the part of record.Store a backup touches.
type Store interface {
	Dump(ctx context.Context) (record.State, error)
	Restore(ctx context.Context, st record.State) error
}

// Create dumps store and the config file at configPath into w. A missing
// config file is not an error.
func Create(ctx context.Context, store Store, configPath string, w io.Writer) (Archive, error) {
	st, err := store.Dump(ctx)
	if err != nil {
		return Archive{}, fmt.Errorf("dump state: %w", err)
	}
	a := Archive{Created: time.Now(), State: st}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			a.Config = data
		case !errors.Is(err, os.ErrNotExist):
			return Archive{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := Write(w, a); err != nil {
		return Archive{}, err
	}
	return a, nil
}

// Restore reads an archive from r and replaces the store's content with it.
// The archived config is returned for the caller to place.
func Restore(ctx context.Context, store Store, r io.Reader) (Archive, error) {
	a, err := Read(r)
	if err != nil {
		return Archive{}, err
	}
	if err := store.Restore(ctx, a.State); err != nil {
		return Archive{}, fmt.Errorf("restore state: %w", err)
	}
	return a, nil
}

// Write encodes a to w.
func Write(w io.Writer, a Archive) error {
	payload, err := a.marshal()
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	binary.BigEndian.PutUint64(header[len(magic):], xxhash.Sum64(payload))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("zstd encoder: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close() //nolint:errcheck // already failing
		return fmt.Errorf("write payload: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush payload: %w", err)
	}
	return nil
}

// Read decodes and verifies an archive.
func Read(r io.Reader) (Archive, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Archive{}, ErrFormat
		}
		return Archive{}, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return Archive{}, ErrFormat
	}
	sum := binary.BigEndian.Uint64(header[len(magic):])

	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(maxPayload))
	if err != nil {
		return Archive{}, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()

	payload, err := io.ReadAll(dec)
	if err != nil {
		return Archive{}, fmt.Errorf("decompress payload: %w", err)
	}
	if xxhash.Sum64(payload) != sum {
		return Archive{}, ErrChecksum
	}

	var a Archive
	if err := a.unmarshal(payload); err != nil {
		return Archive{}, fmt.Errorf("decode archive: %w", err)
	}
	return a, nil
}

func (a *Archive) marshal() ([]byte, error) {
	o := msgp.AppendMapHeader(nil, 3)
	o = msgp.AppendString(o, "created")
	o = msgp.AppendInt64(o, a.Created.UnixNano())
	o = msgp.AppendString(o, "config")
	o = msgp.AppendBytes(o, a.Config)
	o = msgp.AppendString(o, "state")
	return a.State.MarshalMsg(o)
}

func (a *Archive) unmarshal(bts []byte) error {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return msgp.WrapError(err, "Archive")
	}
	for ; n > 0; n-- {
		var field []byte
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return msgp.WrapError(err, "Archive")
		}
		switch msgp.UnsafeString(field) {
		case "created":
			var ns int64
			ns, bts, err = msgp.ReadInt64Bytes(bts)
			a.Created = time.Unix(0, ns)
		case "config":
			a.Config, bts, err = msgp.ReadBytesBytes(bts, nil)
			if len(a.Config) == 0 {
				a.Config = nil
			}
		case "state":
			bts, err = a.State.UnmarshalMsg(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return msgp.WrapError(err, string(field))
		}
	}
	return nil
}
