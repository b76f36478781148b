package fileutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Supported content hash algorithms. Hash strings are qualified with the
// algorithm name so digests of different algorithms never compare equal.
const (
	AlgorithmSHA256 = "sha256"
	AlgorithmXXH64  = "xxh64"
)

// NewHasher returns a streaming hasher for the named algorithm.
func NewHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case AlgorithmSHA256, "":
		return sha256.New(), nil
	case AlgorithmXXH64:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// QualifiedSum formats the hasher's digest as "<algorithm>:<hex>".
func QualifiedSum(algorithm string, h hash.Hash) string {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	return algorithm + ":" + hex.EncodeToString(h.Sum(nil))
}

// HashAlgorithm returns the algorithm prefix of a qualified hash, or "" when
// the value is not qualified.
func HashAlgorithm(qualified string) string {
	algorithm, _, ok := strings.Cut(qualified, ":")
	if !ok {
		return ""
	}
	return algorithm
}

// HashFile streams path through the named algorithm and returns the
// qualified digest. The context is checked between chunks.
func HashFile(ctx context.Context, path, algorithm string) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := copyWithContext(ctx, h, file); err != nil {
		return "", err
	}
	return QualifiedSum(algorithm, h), nil
}

// HashReader is HashFile for an already open stream.
func HashReader(ctx context.Context, r io.Reader, algorithm string) (string, error) {
	h, err := NewHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := copyWithContext(ctx, h, r); err != nil {
		return "", err
	}
	return QualifiedSum(algorithm, h), nil
}
