package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/encryption"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(scanID, targetID string, at time.Time) *Snapshot {
	g := &graph.Graph{
		ScanID:    scanID,
		CreatedAt: at,
		Entities: []graph.Entity{
			{ID: "e1", Kind: facts.KindService, Name: "api", Attributes: map[string]any{"name": "api"}},
			{ID: "e2", Kind: facts.KindResource, Name: "db", Attributes: map[string]any{"name": "db", "type": "aws_db_instance"}},
		},
		Relations: []graph.Relation{
			{From: "e1", To: "e2", Kind: graph.DependsOn, Confidence: 1,
				Evidence: []graph.Evidence{{Fact: "k8s:api", Hint: "db", Context: "depends_on", Match: graph.MatchName, Confidence: 1}}},
		},
	}
	fs := []finding.Finding{
		finding.New("orphan", finding.SeverityInfo, "", []string{"e1"}, nil, "alone"),
	}
	return New(targetID, "/src/"+targetID, g, fs, []diag.Diagnostic{{Kind: diag.FactRejected, Source: "k8s", Message: "bad"}})
}

func sealer(t *testing.T) *encryption.Engine {
	t.Helper()
	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	e, err := encryption.NewEngine(key)
	require.NoError(t, err)
	return e
}

func TestCodecRoundTrip(t *testing.T) {
	for name, codec := range map[string]*Codec{
		"plain":  NewCodec(nil),
		"sealed": NewCodec(sealer(t)),
	} {
		t.Run(name, func(t *testing.T) {
			in := sample("scan-1", "target", epoch)
			data, err := codec.Encode(in)
			require.NoError(t, err)

			out, err := codec.Decode(data, "scan-1")
			require.NoError(t, err)
			assert.Equal(t, in.Metadata, out.Metadata)
			assert.Equal(t, in.Graph.Entities, out.Graph.Entities)
			assert.Equal(t, in.Graph.Relations, out.Graph.Relations)
			assert.Equal(t, in.Findings[0].ID, out.Findings[0].ID)
			assert.Equal(t, in.Diagnostics, out.Diagnostics)
		})
	}
}

func TestCodecDetectsCorruption(t *testing.T) {
	codec := NewCodec(nil)
	data, err := codec.Encode(sample("scan-1", "target", epoch))
	require.NoError(t, err)

	flipped := append([]byte{}, data...)
	flipped[len(flipped)-3] ^= 0x40

	cases := map[string][]byte{
		"truncated header": data[:5],
		"bad magic":        append([]byte("XXXX"), data[4:]...),
		"short payload":    data[:len(data)-1],
		"bit flip":         flipped,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(raw, "scan-1")
			var ce *CorruptError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "scan-1", ce.ScanID)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestCodecVerifiesScanID(t *testing.T) {
	codec := NewCodec(nil)
	data, err := codec.Encode(sample("scan-1", "target", epoch))
	require.NoError(t, err)

	_, err = codec.Decode(data, "scan-2")
	assert.True(t, IsCorrupt(err))
}

func TestCodecSealedRequiresKey(t *testing.T) {
	data, err := NewCodec(sealer(t)).Encode(sample("scan-1", "target", epoch))
	require.NoError(t, err)

	_, err = NewCodec(nil).Decode(data, "scan-1")
	assert.True(t, IsCorrupt(err))
	assert.True(t, IsKeyRequired(err))

	_, err = NewCodec(sealer(t)).Decode(data, "scan-1")
	assert.True(t, errors.Is(err, encryption.ErrAuthenticationFailed), "wrong key: %v", err)
}

func TestTargetID(t *testing.T) {
	a, err := TargetID("/srv/app")
	require.NoError(t, err)
	b, err := TargetID("/srv/app/")
	require.NoError(t, err)
	c, err := TargetID("/srv/other")
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestValidScanID(t *testing.T) {
	assert.True(t, ValidScanID("0d9c6d1e-1f4e-4c1e-9d1e-3b0e4c2a7f10"))
	assert.False(t, ValidScanID(""))
	assert.False(t, ValidScanID("../etc/passwd"))
	assert.False(t, ValidScanID("a/b"))
}
