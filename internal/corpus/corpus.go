// Package corpus reads the shared, content-addressed, immutable record set.
// Every load is preceded by a hash check against the companion digest file;
// a mismatch is an integrity failure, never a warning.
package corpus

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Record is one immutable unit of the shared corpus.
type Record map[string]any

// IntegrityError reports a divergence between the expected and actual
// content hash of the corpus file.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("corpus integrity violation: expected sha256 %s, got %s", e.Expected, e.Actual)
}

// Dataset locates the corpus file and its companion expected-hash file. Both
// are read-only for the life of the process.
type Dataset struct {
	Path     string
	HashPath string
}

// ExpectedHash reads the companion digest file. The digest is the first
// whitespace-separated token, accommodating sha256sum-style "HASH  FILE"
// lines, and is compared as a lowercase hex string.
func (d Dataset) ExpectedHash() (string, error) {
	raw, err := os.ReadFile(d.HashPath)
	if err != nil {
		return "", fmt.Errorf("read expected hash: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "", fmt.Errorf("expected hash file %s is empty", d.HashPath)
	}
	return strings.ToLower(fields[0]), nil
}

// ActualHash recomputes the sha256 digest over the corpus file's exact bytes.
func (d Dataset) ActualHash() (string, error) {
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return "", fmt.Errorf("read corpus: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Check is the result of comparing expected and actual corpus digests.
type Check struct {
	Expected string `json:"expected_sha256"`
	Actual   string `json:"actual_sha256"`
	Matches  bool   `json:"matches"`
}

// Verify compares the expected digest against a fresh recomputation. It
// reports the comparison without judging it; callers that need the corpus
// contents use Load, which enforces the match.
func (d Dataset) Verify() (Check, error) {
	expected, err := d.ExpectedHash()
	if err != nil {
		return Check{}, err
	}
	actual, err := d.ActualHash()
	if err != nil {
		return Check{}, err
	}
	return Check{Expected: expected, Actual: actual, Matches: expected == actual}, nil
}

// Load verifies the corpus digest and, only on a match, parses the file as
// one JSON record per line with blank lines skipped. The verify is repeated
// inside Load so a caller can never observe records from a tampered file,
// whatever it checked earlier.
func (d Dataset) Load() ([]Record, error) {
	expected, err := d.ExpectedHash()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	sum := sha256.Sum256(raw)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return nil, &IntegrityError{Expected: expected, Actual: actual}
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("corpus line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	return records, nil
}
