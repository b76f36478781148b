package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"
)

const copyChunkSize = 1 << 20

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// The destination is created exclusively: an existing dst fails with an error
// matching fs.ErrExist and is never truncated. The context is checked between
// chunks; on cancellation, timeout or mismatch the partial dst is removed.
// The source modification time is preserved on dst.
func CopyFileVerified(ctx context.Context, src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	complete := false
	defer func() {
		if !complete {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := copyWithContext(ctx, multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if written != srcSize {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	if err := verifyWritten(dst, srcSize); err != nil {
		return err
	}
	complete = true

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return fmt.Errorf("preserve modification time: %w", err)
	}
	return nil
}

// MoveFile relocates src to dst without ever overwriting dst. A hard link is
// attempted first; when the paths live on different devices it falls back to
// CopyFileVerified. The source is removed only after dst is in place.
// linked reports whether the fast path was taken.
func MoveFile(ctx context.Context, src, dst string) (linked bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	linkErr := os.Link(src, dst)
	switch {
	case linkErr == nil:
		linked = true
	case errors.Is(linkErr, fs.ErrExist):
		return false, linkErr
	default:
		if !linkFallbackAllowed(linkErr) {
			return false, linkErr
		}
		if err := CopyFileVerified(ctx, src, dst); err != nil {
			return false, err
		}
	}
	if err := os.Remove(src); err != nil {
		return linked, fmt.Errorf("remove source after move: %w", err)
	}
	return linked, nil
}

// linkFallbackAllowed reports whether a failed hard link should be retried as
// a copy (cross-device, unsupported filesystem, permission quirks).
func linkFallbackAllowed(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return true
	}
	switch errno {
	case syscall.ENOENT:
		return false
	default:
		return true
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func verifyWritten(path string, size int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("verify destination: %w", err)
	}
	if info.Size() != size {
		return fmt.Errorf("verify destination: size %d, expected %d", info.Size(), size)
	}
	return nil
}
