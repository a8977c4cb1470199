package facts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultMaxFileSize caps a facts file at 1 MiB.
const DefaultMaxFileSize = 1 << 20

// FileExtractor reads facts that an out-of-process extractor wrote as JSON
// Lines, one Fact per line. A missing file yields no facts.
type FileExtractor struct {
	Kind SourceKind
	// Path is resolved against the scan target when relative.
	Path    string
	MaxSize int64
}

// DefaultFileExtractors returns one extractor per source kind reading
// <target>/.archmap/<kind>.jsonl.
func DefaultFileExtractors(maxSize int64) []Extractor {
	out := make([]Extractor, 0, len(SourceKinds))
	for _, kind := range SourceKinds {
		out = append(out, &FileExtractor{
			Kind:    kind,
			Path:    filepath.Join(".archmap", string(kind)+".jsonl"),
			MaxSize: maxSize,
		})
	}
	return out
}

func (e *FileExtractor) SourceKind() SourceKind { return e.Kind }

func (e *FileExtractor) resolve(target string) string {
	if filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(target, e.Path)
}

// Extract decodes every non-blank line. Undecodable lines are reported in a
// *MalformedError next to the facts that did decode.
func (e *FileExtractor) Extract(ctx context.Context, target string) ([]Fact, error) {
	path := e.resolve(target)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	limit := e.MaxSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s is %d bytes, exceeds limit of %d", path, info.Size(), limit)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		out       []Fact
		malformed []LineError
		line      int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), int(limit)+1)
	for scanner.Scan() {
		line++
		if line%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var fact Fact
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fact); err != nil {
			malformed = append(malformed, LineError{Line: line, Err: err})
			continue
		}
		fact.Seq = 0
		out = append(out, fact)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(malformed) > 0 {
		return out, &MalformedError{Source: path, Lines: malformed}
	}
	return out, nil
}
