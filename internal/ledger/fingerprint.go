package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ComputeFingerprint implements the normalization rules decided in
// SPEC_FULL.md's Open Question #1: unmarshal the manifest into a generic
// value (encoding/json already sorts map keys on marshal), re-marshal with
// no indentation so formatting differences vanish, normalize the spec text
// line-by-line (trim trailing whitespace per line, single trailing
// newline), and hash the concatenation. Identical inputs always produce an
// identical fingerprint across processes; map-key order and incidental
// whitespace never leak into it.
func ComputeFingerprint(manifestPath, specPath string) (string, error) {
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("reading manifest %s: %w", manifestPath, err)
	}
	specData, err := os.ReadFile(specPath)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("reading spec %s: %w", specPath, err)
	}

	normalizedManifest, err := normalizeManifestJSON(manifestData)
	if err != nil {
		return "", fmt.Errorf("normalizing manifest %s: %w", manifestPath, err)
	}
	normalizedSpec := normalizeSpecText(specData)

	h := sha256.New()
	h.Write(normalizedManifest)
	h.Write([]byte{0})
	h.Write(normalizedSpec)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalizeManifestJSON decodes then re-encodes JSON with sorted keys (the
// default for Go maps) and no indentation, so whitespace/ordering
// differences in the source document never change the fingerprint.
func normalizeManifestJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalizeSpecText trims trailing whitespace from every line and ensures
// exactly one trailing newline, so whitespace-only spec edits don't change
// the fingerprint (spec.md §8 round-trip law).
func normalizeSpecText(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	joined := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	return []byte(joined + "\n")
}
