package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"magnolia/internal/catalog"
	"magnolia/internal/fileutil"
)

// headerSize is the number of leading bytes handed to content sniffing.
const headerSize = 3072

type statResult struct {
	info  os.FileInfo
	times fileutil.Times
}

// inspect builds the catalog entry for one regular file. ok is false when the
// file vanished or stopped being a regular file between discovery and
// inspection. Content problems degrade fields and are returned as warnings.
func (s *scanner) inspect(ctx context.Context, path string) (entry catalog.Entry, warnings []Warning, ok bool) {
	st, err := fileutil.WithTimeout(ctx, s.opts.FileTimeout, func() (statResult, error) {
		info, err := os.Lstat(path)
		if err != nil {
			return statResult{}, err
		}
		times, err := fileutil.FileTimes(path)
		if err != nil {
			return statResult{}, err
		}
		return statResult{info: info, times: times}, nil
	})
	if err != nil {
		return catalog.Entry{}, []Warning{{Path: path, Kind: WarningStat, Message: err.Error()}}, false
	}
	if !st.info.Mode().IsRegular() {
		return catalog.Entry{}, nil, false
	}

	name := filepath.Base(path)
	entry = catalog.Entry{
		Path:          path,
		Name:          name,
		Extension:     catalog.Extension(name),
		Size:          st.info.Size(),
		CreatedAt:     st.times.Created.UTC(),
		ModifiedAt:    st.times.Modified.UTC(),
		AccessedAt:    st.times.Accessed.UTC(),
		ScanTimestamp: s.opts.Now().UTC(),
	}

	wantHash := true
	if s.opts.MaxHashBytes > 0 && entry.Size > s.opts.MaxHashBytes {
		wantHash = false
		warnings = append(warnings, Warning{
			Path:    path,
			Kind:    WarningHash,
			Message: fmt.Sprintf("hash skipped: %d bytes exceeds max_hash_bytes %d", entry.Size, s.opts.MaxHashBytes),
		})
	}
	if !wantHash && !s.opts.DetectContentType {
		return entry, warnings, true
	}

	contentType, hash, err := s.fingerprint(ctx, path, wantHash)
	if err != nil {
		warnings = append(warnings, Warning{Path: path, Kind: WarningContent, Message: err.Error()})
	}
	entry.ContentType = contentType
	entry.ContentHash = hash
	return entry, warnings, true
}

// fingerprint reads the file once: the header feeds content sniffing and
// the full stream feeds the hasher. Values that could not be computed are
// returned empty alongside the error.
func (s *scanner) fingerprint(ctx context.Context, path string, wantHash bool) (contentType, hash string, err error) {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.FileTimeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, s.opts.FileTimeout)
	}
	defer cancel()

	file, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", "", fmt.Errorf("read header: %w", err)
	}
	header = header[:n]

	if s.opts.DetectContentType && n > 0 {
		contentType = baseMediaType(mimetype.Detect(header).String())
	}
	if !wantHash {
		return contentType, "", nil
	}
	hash, err = fileutil.HashReader(fctx, io.MultiReader(bytes.NewReader(header), file), s.opts.HashAlgorithm)
	if err != nil {
		return contentType, "", fmt.Errorf("hash: %w", err)
	}
	return contentType, hash, nil
}

// baseMediaType drops parameters such as "; charset=utf-8".
func baseMediaType(value string) string {
	base, _, _ := strings.Cut(value, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
