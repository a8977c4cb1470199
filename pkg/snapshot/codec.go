package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-archmap/pkg/encryption"
)

// Frame layout:
//
//	[magic:4]["AMSN"][version:1][flags:1][crc32c:4][len:4][payload:len]
//
// The payload is snappy-compressed JSON, sealed with AES-GCM when flagSealed
// is set. The CRC covers the payload as stored.
const (
	frameMagic   = "AMSN"
	frameVersion = 1
	headerSize   = 4 + 1 + 1 + 4 + 4

	flagCompressed byte = 1 << 0
	flagSealed     byte = 1 << 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Codec converts snapshots to and from their stored form.
type Codec struct {
	sealer encryption.Sealer
}

// NewCodec creates a codec. A nil sealer stores payloads unencrypted.
func NewCodec(sealer encryption.Sealer) *Codec {
	return &Codec{sealer: sealer}
}

// Sealed reports whether new snapshots will be encrypted.
func (c *Codec) Sealed() bool { return c != nil && c.sealer != nil }

// Encode serializes s. The scan id is bound into the seal, so a sealed
// payload cannot be replayed under another id.
func (c *Codec) Encode(s *Snapshot) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	flags := flagCompressed
	payload := snappy.Encode(nil, raw)
	if c.Sealed() {
		payload, err = c.sealer.Seal(payload, []byte(s.Metadata.ScanID))
		if err != nil {
			return nil, fmt.Errorf("seal snapshot: %w", err)
		}
		flags |= flagSealed
	}

	out := make([]byte, headerSize+len(payload))
	copy(out, frameMagic)
	out[4] = frameVersion
	out[5] = flags
	binary.BigEndian.PutUint32(out[6:], crc32.Checksum(payload, crcTable))
	binary.BigEndian.PutUint32(out[10:], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode parses a stored frame and checks that it holds scanID. Every
// failure is a *CorruptError.
func (c *Codec) Decode(data []byte, scanID string) (*Snapshot, error) {
	if len(data) < headerSize {
		return nil, corrupt(scanID, "truncated header", nil)
	}
	if string(data[:4]) != frameMagic {
		return nil, corrupt(scanID, "bad magic", nil)
	}
	if data[4] != frameVersion {
		return nil, corrupt(scanID, fmt.Sprintf("unsupported version %d", data[4]), nil)
	}
	flags := data[5]
	sum := binary.BigEndian.Uint32(data[6:])
	n := binary.BigEndian.Uint32(data[10:])
	if uint64(len(data)-headerSize) != uint64(n) {
		return nil, corrupt(scanID, fmt.Sprintf("payload length %d, header says %d", len(data)-headerSize, n), nil)
	}
	payload := data[headerSize:]
	if crc32.Checksum(payload, crcTable) != sum {
		return nil, corrupt(scanID, "checksum mismatch", nil)
	}

	if flags&flagSealed != 0 {
		if !c.Sealed() {
			return nil, corrupt(scanID, "sealed payload", ErrKeyRequired)
		}
		opened, err := c.sealer.Open(payload, []byte(scanID))
		if err != nil {
			return nil, corrupt(scanID, "unseal", err)
		}
		payload = opened
	}
	if flags&flagCompressed != 0 {
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, corrupt(scanID, "decompress", err)
		}
		payload = raw
	}

	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, corrupt(scanID, "decode json", err)
	}
	if s.Metadata.ScanID != scanID {
		return nil, corrupt(scanID, fmt.Sprintf("payload belongs to scan %q", s.Metadata.ScanID), nil)
	}
	if s.Graph == nil {
		return nil, corrupt(scanID, "missing graph", nil)
	}
	if s.Graph.ScanID != scanID {
		return nil, corrupt(scanID, "graph scan id mismatch", nil)
	}
	return &s, nil
}

// IsKeyRequired reports whether err came from reading a sealed snapshot
// without a key.
func IsKeyRequired(err error) bool { return errors.Is(err, ErrKeyRequired) }
