// Package config parses the opaque configuration string for an rsfec
// filter (spec.md §6): a net/url-style query string carrying the shard
// counts and optional flush timeout, generalized from the teacher's plain
// Config struct (safeudp.go) into a real parser, matching the
// query-string plumbing idiom used by the pack's KCP-family tunnels.
package config

import (
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config is the parsed, validated shape of a configuration string.
type Config struct {
	K       int           // cols / k: number of data shards per block
	M       int           // rows / parity / m: number of parity shards per block
	Timeout time.Duration // optional send-side block-flush deadline, 0 disables it
}

// Parse parses a query string such as "k=4&m=2&timeout=100ms". k accepts
// the aliases "cols"; m accepts "rows" and "parity" and defaults to 1 when
// omitted. timeout accepts any value time.ParseDuration understands, or a
// bare integer number of milliseconds for parity with the teacher's
// millisecond-denominated KCP settings.
func Parse(raw string) (Config, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "rsfec/config: malformed configuration string")
	}

	var cfg Config
	var ok bool

	cfg.K, ok, err = firstInt(values, "k", "cols")
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Config{}, errors.New("rsfec/config: missing required key k (or cols)")
	}

	cfg.M, ok, err = firstInt(values, "m", "parity", "rows")
	if err != nil {
		return Config{}, err
	}
	if !ok {
		cfg.M = 1 // spec.md §6: m defaults to 1 parity shard per block when omitted
	}

	if cfg.K <= 0 || cfg.M <= 0 {
		return Config{}, errors.Errorf("rsfec/config: k and m must be positive, got k=%d m=%d", cfg.K, cfg.M)
	}
	if cfg.K+cfg.M > 255 {
		return Config{}, errors.Errorf("rsfec/config: k+m must not exceed 255, got %d", cfg.K+cfg.M)
	}

	if raw, ok := firstValue(values, "timeout"); ok {
		d, err := parseTimeout(raw)
		if err != nil {
			return Config{}, errors.Wrapf(err, "rsfec/config: invalid timeout %q", raw)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

func firstValue(values url.Values, keys ...string) (string, bool) {
	for _, k := range keys {
		if vs, ok := values[k]; ok && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

func firstInt(values url.Values, keys ...string) (int, bool, error) {
	raw, ok := firstValue(values, keys...)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, errors.Wrapf(err, "rsfec/config: invalid integer %q for key %v", raw, keys)
	}
	return n, true, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}
