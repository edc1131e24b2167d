// Package registry is the durable store of harvested connections, one append-only file per
// relation and target account under "<state>/records/<relation>/<target>.txt".
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"ganagram/internal/components/linestore"
	"ganagram/internal/components/statepath"
	"ganagram/internal/connection"
)

// Relation is which side of an account's social graph is stored.
type Relation string

const (
	Followers Relation = "followers"
	Following Relation = "following"
)

// ParseRelation validates a configured relation kind.
func ParseRelation(raw string) (Relation, error) {
	switch Relation(raw) {
	case Followers, Following:
		return Relation(raw), nil
	}
	return "", fmt.Errorf("unknown relation '%s', expected followers or following", raw)
}

var unsafeKeyRegex = regexp.MustCompile(`[^a-z0-9._-]`)

// Registry reads and appends the connections of target accounts for one relation.
type Registry struct {
	dir      statepath.Dir
	relation Relation
}

func New(dir statepath.Dir, relation Relation) Registry {
	return Registry{dir: dir, relation: relation}
}

// Path returns the record file of target.
func (r Registry) Path(target string) (string, error) {
	key := unsafeKeyRegex.ReplaceAllString(string(connection.Normalize(target)), "_")
	if key == "" {
		return "", fmt.Errorf("empty registry target")
	}
	return r.dir.Path("records", string(r.relation), key+".txt")
}

// Load returns the stored connections of target, at most limit of them when limit > 0.
func (r Registry) Load(target string, limit int) ([]connection.Connection, error) {
	path, err := r.Path(target)
	if err != nil {
		return nil, err
	}
	conns, err := linestore.Read(path, limit)
	if err != nil {
		return nil, fmt.Errorf("load registry of %s: %w", target, err)
	}
	return conns, nil
}

// Append durably adds conns to the records of target.
func (r Registry) Append(target string, conns []connection.Connection) error {
	path, err := r.Path(target)
	if err != nil {
		return err
	}
	err = linestore.Append(path, conns)
	if err != nil {
		return fmt.Errorf("append registry of %s: %w", target, err)
	}
	return nil
}

// Lock holds the records of target exclusively until unlock is called, concurrent runs against
// the same target wait on it instead of interleaving their appends.
func (r Registry) Lock(ctx context.Context, target string) (unlock func() error, err error) {
	path, err := r.Path(target)
	if err != nil {
		return nil, err
	}
	return linestore.Lock(ctx, path)
}

// LoadFile reads connections from an arbitrary file in the registry format, at most limit of
// them when limit > 0.
func LoadFile(path string, limit int) ([]connection.Connection, error) {
	conns, err := linestore.Read(filepath.Clean(path), limit)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("no connections in %s", path)
	}
	return conns, nil
}

// Sufficient reports whether stored connections can be used as-is: they must be non-empty and,
// when a limit is configured, exactly fill it.
func Sufficient(conns []connection.Connection, limit int) bool {
	if len(conns) == 0 {
		return false
	}
	return limit <= 0 || len(conns) == limit
}
