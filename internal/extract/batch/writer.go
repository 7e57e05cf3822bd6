package batch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gitscope/agent/internal/logger"
)

// Identity identifies one written record for deduplication and downstream
// reconciliation. Secondary is empty unless a secondary key was requested.
type Identity struct {
	ID        string
	Secondary string
}

// IdentitySet is the set of identities written by one Write call.
type IdentitySet map[Identity]struct{}

// Contains reports whether the identity is in the set.
func (s IdentitySet) Contains(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Options configures one streaming write.
type Options struct {
	// Dir is the output directory.
	Dir string

	// Prefix names the output files: {prefix}{batch index}.json, with the
	// index omitted for the first batch.
	Prefix string

	// Compress gzips each output file, appending .gz to the name.
	Compress bool

	// BatchSize caps records per file. Zero means one unbounded file.
	BatchSize int

	// IDKey is the record field used as the identity key.
	IDKey string

	// SecondaryKey, when set, is a second field combined with IDKey in the
	// identity set (for example repo id alongside PR number).
	SecondaryKey string
}

// Write drains the source into batch files and returns the identities of
// everything written. A source error, a missing identity field, or an I/O
// failure aborts the whole write: the caller must treat the extraction as
// failed rather than mark the repository backfilled.
func Write(ctx context.Context, src Source, opts Options) (IdentitySet, error) {
	if opts.IDKey == "" {
		return nil, fmt.Errorf("batch: identity key is required")
	}

	ids := make(IdentitySet)
	index := 0

	out, err := openBatchFile(opts, index)
	if err != nil {
		return nil, err
	}

	for {
		rec, ok, err := src.Next(ctx)
		if err != nil {
			_ = out.abort()
			return nil, fmt.Errorf("batch: read stream: %w", err)
		}
		if !ok {
			break
		}

		if opts.BatchSize > 0 && out.records >= opts.BatchSize {
			if err := out.close(); err != nil {
				return nil, err
			}
			index++
			out, err = openBatchFile(opts, index)
			if err != nil {
				return nil, err
			}
		}

		identity, err := recordIdentity(rec, opts)
		if err != nil {
			_ = out.abort()
			return nil, err
		}

		if err := out.write(rec); err != nil {
			_ = out.abort()
			return nil, err
		}
		ids[identity] = struct{}{}
	}

	if err := out.close(); err != nil {
		return nil, err
	}
	return ids, nil
}

// recordIdentity extracts the identity (and optional secondary) key.
func recordIdentity(rec FieldGetter, opts Options) (Identity, error) {
	id, ok := rec.Field(opts.IDKey)
	if !ok {
		return Identity{}, fmt.Errorf("batch: record has no field %q", opts.IDKey)
	}

	identity := Identity{ID: stringify(id)}
	if opts.SecondaryKey != "" {
		sec, ok := rec.Field(opts.SecondaryKey)
		if !ok {
			return Identity{}, fmt.Errorf("batch: record has no field %q", opts.SecondaryKey)
		}
		identity.Secondary = stringify(sec)
	}
	return identity, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// batchFile streams one JSON array to disk, one element at a time.
type batchFile struct {
	path    string
	file    *os.File
	gz      *gzip.Writer
	enc     *json.Encoder
	records int
}

func openBatchFile(opts Options, index int) (*batchFile, error) {
	name := opts.Prefix
	if index > 0 {
		name += strconv.Itoa(index)
	}
	name += ".json"
	if opts.Compress {
		name += ".gz"
	}
	path := filepath.Join(opts.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("batch: create %s: %w", path, err)
	}

	b := &batchFile{path: path, file: f}
	if opts.Compress {
		b.gz = gzip.NewWriter(f)
		b.enc = json.NewEncoder(b.gz)
	} else {
		b.enc = json.NewEncoder(f)
	}

	if err := b.writeRaw("["); err != nil {
		return nil, err
	}
	return b, nil
}

// write appends one record as the next array element. Values the encoder
// cannot represent fall back to their string form, matching the fallback
// encoder behavior of the output format.
func (b *batchFile) write(rec FieldGetter) error {
	if b.records > 0 {
		if err := b.writeRaw(","); err != nil {
			return err
		}
	}

	if err := b.enc.Encode(rec); err != nil {
		if err := b.enc.Encode(fmt.Sprint(rec)); err != nil {
			return fmt.Errorf("batch: encode record: %w", err)
		}
	}
	b.records++
	return nil
}

func (b *batchFile) writeRaw(s string) error {
	var err error
	if b.gz != nil {
		_, err = b.gz.Write([]byte(s))
	} else {
		_, err = b.file.WriteString(s)
	}
	if err != nil {
		return fmt.Errorf("batch: write %s: %w", b.path, err)
	}
	return nil
}

// close terminates the JSON array and flushes everything to disk.
func (b *batchFile) close() error {
	if err := b.writeRaw("]\n"); err != nil {
		return err
	}
	if b.gz != nil {
		if err := b.gz.Close(); err != nil {
			return fmt.Errorf("batch: close gzip %s: %w", b.path, err)
		}
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("batch: close %s: %w", b.path, err)
	}

	if info, err := os.Stat(b.path); err == nil {
		logger.Info("wrote %s (%d records, %d bytes)", filepath.Base(b.path), b.records, info.Size())
	}
	return nil
}

// abort closes the underlying file without finalizing the array; the write
// has already failed and the file contents are not trusted.
func (b *batchFile) abort() error {
	if b.gz != nil {
		_ = b.gz.Close()
	}
	return b.file.Close()
}
