package script

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/tuning-platform/internal/errors"
)

// TestCompare tests the positional byte diff
func TestCompare(t *testing.T) {
	tests := []struct {
		name     string
		original []byte
		modified []byte
		expected []DiffRecord
	}{
		{
			name:     "identical buffers produce no records",
			original: []byte{0x01, 0x02, 0x03},
			modified: []byte{0x01, 0x02, 0x03},
			expected: nil,
		},
		{
			name:     "empty buffers",
			original: []byte{},
			modified: []byte{},
			expected: nil,
		},
		{
			name:     "single byte change",
			original: []byte{0x00, 0xAB, 0xFF},
			modified: []byte{0x00, 0xCD, 0xFF},
			expected: []DiffRecord{
				{Position: 1, OriginalByteHex: "AB", ModifiedByteHex: "CD"},
			},
		},
		{
			name:     "uppercase two-digit hex rendering",
			original: []byte{0x0a},
			modified: []byte{0x0b},
			expected: []DiffRecord{
				{Position: 0, OriginalByteHex: "0A", ModifiedByteHex: "0B"},
			},
		},
		{
			name:     "modified longer than original uses missing sentinel",
			original: []byte{0x01},
			modified: []byte{0x01, 0x02},
			expected: []DiffRecord{
				{Position: 1, OriginalByteHex: "??", ModifiedByteHex: "02"},
			},
		},
		{
			name:     "original longer than modified uses missing sentinel",
			original: []byte{0x01, 0x02},
			modified: []byte{0x01},
			expected: []DiffRecord{
				{Position: 1, OriginalByteHex: "02", ModifiedByteHex: "??"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Compare(tt.original, tt.modified)

			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d records, got %d", len(tt.expected), len(result))
			}
			for i, want := range tt.expected {
				if result[i] != want {
					t.Errorf("at index %d: expected %+v, got %+v", i, want, result[i])
				}
			}
		})
	}
}

// TestCapture_SizeMismatch tests that length-divergent captures are rejected
func TestCapture_SizeMismatch(t *testing.T) {
	_, err := Capture("admin", "golf7", "edc17", "orig.bin", []byte{0x01, 0x02}, []byte{0x01})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !apperrors.HasCode(err, apperrors.CodeSizeMismatch) {
		t.Errorf("expected SIZE_MISMATCH, got %v", err)
	}
}

func TestCapture_RecordsProvenance(t *testing.T) {
	artifact, err := Capture("admin", "golf7", "edc17", "orig.bin", []byte{0x01, 0x02}, []byte{0x01, 0x03})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Car != "golf7" || artifact.Controller != "edc17" || artifact.SourceFileName != "orig.bin" {
		t.Errorf("provenance not recorded: %+v", artifact)
	}
	if artifact.OriginalLength != 2 {
		t.Errorf("expected original length 2, got %d", artifact.OriginalLength)
	}
	if len(artifact.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(artifact.Records))
	}
}

// TestReplay tests diff application onto new base files
func TestReplay(t *testing.T) {
	artifact, err := Capture("admin", "golf7", "edc17", "orig.bin",
		[]byte{0x10, 0x20, 0x30, 0x40},
		[]byte{0x10, 0x21, 0x30, 0x41})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	t.Run("replay onto matching base", func(t *testing.T) {
		base := []byte{0x10, 0x20, 0x30, 0x40}
		patched, err := Replay(artifact, base, ReplayOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(patched, []byte{0x10, 0x21, 0x30, 0x41}) {
			t.Errorf("unexpected patched content: %x", patched)
		}
		if !bytes.Equal(base, []byte{0x10, 0x20, 0x30, 0x40}) {
			t.Error("base file was mutated in place")
		}
	})

	t.Run("diverged base reports conflict", func(t *testing.T) {
		base := []byte{0x10, 0xEE, 0x30, 0x40}
		_, err := Replay(artifact, base, ReplayOptions{})
		if !apperrors.HasCode(err, apperrors.CodeReplayConflict) {
			t.Errorf("expected REPLAY_CONFLICT, got %v", err)
		}
	})

	t.Run("force apply overwrites diverged base", func(t *testing.T) {
		base := []byte{0x10, 0xEE, 0x30, 0x40}
		patched, err := Replay(artifact, base, ReplayOptions{ForceApply: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(patched, []byte{0x10, 0x21, 0x30, 0x41}) {
			t.Errorf("unexpected patched content: %x", patched)
		}
	})

	t.Run("wrong base length reports size mismatch", func(t *testing.T) {
		_, err := Replay(artifact, []byte{0x10, 0x20}, ReplayOptions{})
		if !apperrors.HasCode(err, apperrors.CodeSizeMismatch) {
			t.Errorf("expected SIZE_MISMATCH, got %v", err)
		}
	})
}

func TestReplay_MissingByteRecordConflicts(t *testing.T) {
	artifact := &Artifact{
		OriginalLength: 2,
		Records: []DiffRecord{
			{Position: 1, OriginalByteHex: "02", ModifiedByteHex: MissingByte},
		},
	}
	_, err := Replay(artifact, []byte{0x01, 0x02}, ReplayOptions{ForceApply: true})
	if !apperrors.HasCode(err, apperrors.CodeReplayConflict) {
		t.Errorf("expected REPLAY_CONFLICT for missing modified byte, got %v", err)
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	artifact, err := Capture("admin", "golf7", "edc17", "orig.bin", []byte{0x00, 0xFF}, []byte{0x00, 0xAA})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	data, err := Marshal(artifact)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed.OriginalLength != artifact.OriginalLength || len(parsed.Records) != len(artifact.Records) {
		t.Errorf("round trip lost data: %+v vs %+v", parsed, artifact)
	}
	if parsed.Records[0] != artifact.Records[0] {
		t.Errorf("record mismatch: %+v vs %+v", parsed.Records[0], artifact.Records[0])
	}
}

func TestUnmarshal_Corrupt(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected error for corrupt artifact")
	}
}

// TestNormalizeLabel tests label normalization for loose operator naming
func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Stage 1", "stage1"},
		{"  STAGE1  ", "stage1"},
		{"egr\toff", "egroff"},
		{"dpf off stage 2", "dpfoffstage2"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeLabel(tt.input); got != tt.expected {
			t.Errorf("NormalizeLabel(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestMatchLabel(t *testing.T) {
	candidates := []string{"Stage 1", "EGR Off", "DPF Off Stage 2"}

	t.Run("matches despite spacing and case", func(t *testing.T) {
		got, ok := MatchLabel("stage1", candidates)
		if !ok || got != "Stage 1" {
			t.Errorf("expected (Stage 1, true), got (%s, %v)", got, ok)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if _, ok := MatchLabel("stage3", candidates); ok {
			t.Error("expected no match for stage3")
		}
	})
}

// Property: replaying a captured diff onto the capture-time original
// reconstructs the modified file exactly.
func TestCaptureReplay_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("replay reconstructs the modified file", prop.ForAll(
		func(original []byte, edits []int) bool {
			modified := make([]byte, len(original))
			copy(modified, original)
			for _, e := range edits {
				if len(modified) == 0 {
					break
				}
				pos := e % len(modified)
				if pos < 0 {
					pos = -pos
				}
				modified[pos] ^= 0xFF
			}

			artifact, err := Capture("admin", "car", "ecu", "f.bin", original, modified)
			if err != nil {
				return false
			}
			patched, err := Replay(artifact, original, ReplayOptions{})
			if err != nil {
				return false
			}
			return bytes.Equal(patched, modified)
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.Int()),
	))

	properties.Property("identical files capture an empty diff", prop.ForAll(
		func(buf []byte) bool {
			artifact, err := Capture("admin", "car", "ecu", "f.bin", buf, buf)
			return err == nil && len(artifact.Records) == 0
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
