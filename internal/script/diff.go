// Package script implements the binary diff engine: byte-level differences
// between an original and a modified file, captured once and replayed onto
// other decoded files for the same car/controller combination.
package script

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	apperrors "github.com/tuning-platform/internal/errors"
)

// MissingByte marks a position present in one buffer but not the other.
const MissingByte = "??"

// DiffRecord is one positional byte delta. Byte values are rendered as
// two-digit uppercase hex strings; positions are absolute offsets from file
// start.
type DiffRecord struct {
	Position        int    `json:"position"`
	OriginalByteHex string `json:"originalByteHex"`
	ModifiedByteHex string `json:"modifiedByteHex"`
}

// Artifact is the persisted diff set plus provenance.
type Artifact struct {
	Admin          string       `json:"admin"`
	Car            string       `json:"car"`
	Controller     string       `json:"controller"`
	SourceFileName string       `json:"sourceFileName"`
	OriginalLength int          `json:"originalLength"`
	Records        []DiffRecord `json:"records"`
}

func byteHex(buf []byte, i int) string {
	if i >= len(buf) {
		return MissingByte
	}
	return fmt.Sprintf("%02X", buf[i])
}

// Compare scans both buffers up to the longer length and returns every
// differing position. Indexes beyond the shorter buffer contribute the "??"
// sentinel for the missing side, so length mismatches are representable.
func Compare(original, modified []byte) []DiffRecord {
	n := len(original)
	if len(modified) > n {
		n = len(modified)
	}

	var records []DiffRecord
	for i := 0; i < n; i++ {
		o := byteHex(original, i)
		m := byteHex(modified, i)
		if o != m {
			records = append(records, DiffRecord{
				Position:        i,
				OriginalByteHex: o,
				ModifiedByteHex: m,
			})
		}
	}
	return records
}

// Capture validates and diffs a candidate tuning edit. The modified file must
// be byte-length-identical to the original; a mismatch is rejected with
// SIZE_MISMATCH before any diffing happens.
func Capture(admin, car, controller, sourceFileName string, original, modified []byte) (*Artifact, error) {
	if len(original) != len(modified) {
		return nil, apperrors.NewSizeMismatchError(len(original), len(modified))
	}
	return &Artifact{
		Admin:          admin,
		Car:            car,
		Controller:     controller,
		SourceFileName: sourceFileName,
		OriginalLength: len(original),
		Records:        Compare(original, modified),
	}, nil
}

// ReplayOptions controls divergence handling during replay.
type ReplayOptions struct {
	// ForceApply overwrites positions where the base file no longer matches
	// the capture-time original. The default reports a conflict instead.
	ForceApply bool
}

// Replay applies a diff set to a new base file and returns the patched copy.
// A record whose captured original byte does not match the base indicates the
// base diverges from the capture-time original; unless ForceApply is set this
// is reported as REPLAY_CONFLICT.
func Replay(artifact *Artifact, base []byte, opts ReplayOptions) ([]byte, error) {
	if len(base) != artifact.OriginalLength {
		return nil, apperrors.NewSizeMismatchError(artifact.OriginalLength, len(base))
	}

	patched := make([]byte, len(base))
	copy(patched, base)

	for _, rec := range artifact.Records {
		if rec.Position < 0 || rec.Position >= len(patched) || rec.ModifiedByteHex == MissingByte {
			return nil, apperrors.NewReplayConflictError(rec.Position, rec.OriginalByteHex, MissingByte)
		}

		if !opts.ForceApply {
			found := fmt.Sprintf("%02X", patched[rec.Position])
			if rec.OriginalByteHex != found {
				return nil, apperrors.NewReplayConflictError(rec.Position, rec.OriginalByteHex, found)
			}
		}

		value, err := strconv.ParseUint(rec.ModifiedByteHex, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid diff record at position %d: %w", rec.Position, err)
		}
		patched[rec.Position] = byte(value)
	}
	return patched, nil
}

// Marshal serializes an artifact as UTF-8 JSON text.
func Marshal(artifact *Artifact) ([]byte, error) {
	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize diff artifact: %w", err)
	}
	return data, nil
}

// Unmarshal parses a serialized artifact.
func Unmarshal(data []byte) (*Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse diff artifact: %w", err)
	}
	return &artifact, nil
}

// NormalizeLabel lowercases a label and strips all whitespace. Operators
// rename files loosely; matching happens on the normalized form.
func NormalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// MatchLabel picks the candidate whose normalized name equals the normalized
// label. Returns the matched candidate and true, or "" and false.
func MatchLabel(label string, candidates []string) (string, bool) {
	want := NormalizeLabel(label)
	for _, c := range candidates {
		if NormalizeLabel(c) == want {
			return c, true
		}
	}
	return "", false
}
