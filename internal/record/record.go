// Package record holds the durable source-to-destination link mapping of each
// task and the set of stale destinations awaiting deletion.
package record

import (
	"encoding/hex"
	"os"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/hlink/internal/config"
)

// Signature identifies an unchanged source file.
type Signature struct {
	ModTime int64 // unix nanoseconds
	Size    int64
}

// SignatureOf builds a Signature from file info.
func SignatureOf(info os.FileInfo) Signature {
	return Signature{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
}

// Entry maps one source file to the destination file it was linked to. Sig
// is set only when the task caches signatures.
type Entry struct {
	Sig    *Signature
	Source string
	Dest   string
}

// Record is the link mapping of one task, in traversal order. Root is the
// destination root the entries were linked under.
type Record struct {
	Task        string
	Fingerprint string
	Root        string
	Entries     []Entry
}

// Index maps source path to entry.
func (r Record) Index() map[string]Entry {
	idx := make(map[string]Entry, len(r.Entries))
	for _, e := range r.Entries {
		idx[e.Source] = e
	}
	return idx
}

// Len returns the number of entries.
func (r Record) Len() int { return len(r.Entries) }

// Fingerprint hashes the task settings that decide where destinations land.
// A cached entry is only trusted when the fingerprint it was recorded under
// matches the current one.
func Fingerprint(t config.Task) string {
	h := blake3.New()
	for _, field := range []string{
		t.Source,
		t.Dest,
		strconv.Itoa(t.SaveMode),
		strconv.FormatBool(t.MkdirIfSingle),
	} {
		h.Write([]byte(field)) //nolint:errcheck // hash writes never fail
		h.Write([]byte{0})     //nolint:errcheck // hash writes never fail
	}
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:16])
}

// Diff returns, in prev order, the destinations prev recorded that cand no
// longer accounts for: sources absent from cand, and sources cand now maps
// somewhere else. Destinations cand still maps to and destinations that no
// longer exist are left out.
func Diff(prev, cand Record, exists func(string) bool) []string {
	if exists == nil {
		exists = Exists
	}
	sources := make(map[string]string, len(cand.Entries))
	dests := make(map[string]struct{}, len(cand.Entries))
	for _, e := range cand.Entries {
		sources[e.Source] = e.Dest
		dests[e.Dest] = struct{}{}
	}

	var stale []string
	seen := make(map[string]struct{})
	for _, e := range prev.Entries {
		if dest, ok := sources[e.Source]; ok && dest == e.Dest {
			continue
		}
		if _, ok := dests[e.Dest]; ok {
			continue
		}
		if _, ok := seen[e.Dest]; ok {
			continue
		}
		seen[e.Dest] = struct{}{}
		if exists(e.Dest) {
			stale = append(stale, e.Dest)
		}
	}
	return stale
}

// Exists reports whether path has a directory entry. Dangling symlinks
// count as existing.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
