// Package linestore persists connections as an append-only file with one normalized handle per
// line, the format shared by the connection registry and post histories.
package linestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ganagram/internal/connection"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock of a file.
var ErrLocked = errors.New("file is locked by another process")

// Read loads up to limit unique connections from path (limit <= 0 means all), handles are
// normalized so files written with a leading marker are still understood. A missing file is
// treated as empty.
func Read(path string, limit int) ([]connection.Connection, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := connection.NewSet()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if limit > 0 && seen.Len() >= limit {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seen.Add(connection.Normalize(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return seen.Slice(), nil
}

// Append writes conns to the end of path and syncs it to disk before returning.
func Append(path string, conns []connection.Connection) error {
	if len(conns) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	for _, c := range conns {
		if c == "" {
			continue
		}
		_, err = w.WriteString(string(c) + "\n")
		if err != nil {
			f.Close()
			return err
		}
	}
	err = w.Flush()
	if err == nil {
		err = f.Sync()
	}
	return errors.Join(err, f.Close())
}

// Lock takes an exclusive advisory lock on "<path>.lock", it retries until ctx is done.
func Lock(ctx context.Context, path string) (unlock func() error, err error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return lock.Unlock, nil
}
