package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// Move moves a file from src to dst, replacing dst if it exists. It first
// attempts os.Rename for an atomic replace; if that fails because src and dst
// live on different filesystems it falls back to copy + delete. In the
// fallback case the copy is written next to dst and renamed into place, so
// dst still never holds partial content.
func Move(src, dst string) error {
	if src == "" || dst == "" {
		return fmt.Errorf("source and destination paths cannot be empty")
	}

	if err := EnsureFileDir(dst); err != nil {
		return fmt.Errorf("failed to create destination directory for %s: %w", dst, err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDeviceError(err) {
		return fmt.Errorf("failed to rename %s to %s: %w", src, dst, err)
	}

	// Cross-filesystem move: stage a copy in dst's directory, then rename.
	staged, err := copyToTemp(src, dst)
	if err != nil {
		return err
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("failed to rename %s to %s: %w", staged, dst, err)
	}
	return os.Remove(src)
}

func copyToTemp(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.CreateTemp(filepath.Dir(dst), ".move-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	staged := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}
	if info, err := os.Stat(src); err == nil {
		_ = os.Chmod(staged, info.Mode())
	}
	return staged, nil
}

func isCrossDeviceError(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		if errno, ok := linkErr.Err.(syscall.Errno); ok {
			return errno == syscall.EXDEV
		}
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return isCrossDeviceError(pathErr.Err)
	}
	return false
}
