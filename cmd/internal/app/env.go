package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every gatehouse setting.
const EnvPrefix = "GATEHOUSE_"

// ErrInvalidEnv is wrapped by LoadConfig when a setting is present but unusable.
var ErrInvalidEnv = errors.New("invalid environment")

// envReader reads EnvPrefix-ed settings. Values that are set but cannot be
// parsed fall back to the default and are remembered, so startup can refuse
// a config the operator did not mean.
type envReader struct {
	prefix string
	bad    []string
}

func newEnvReader() *envReader { return &envReader{prefix: EnvPrefix} }

func (r *envReader) get(name string) (key, val string) {
	key = r.prefix + name
	return key, strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) reject(key, val, why string) {
	r.bad = append(r.bad, fmt.Sprintf("%s=%q (%s)", key, val, why))
}

// Err reports every rejected setting, or nil.
func (r *envReader) Err() error {
	if len(r.bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidEnv, strings.Join(r.bad, "; "))
}

func (r *envReader) String(name, def string) string {
	if _, v := r.get(name); v != "" {
		return v
	}
	return def
}

func (r *envReader) Bool(name string, def bool) bool {
	key, v := r.get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.reject(key, v, "want a boolean")
		return def
	}
	return b
}

// Int reads a positive int.
func (r *envReader) Int(name string, def int) int {
	key, v := r.get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.reject(key, v, "want a positive integer")
		return def
	}
	return n
}

// Int32 reads a non-negative int32 (pool sizes may be zero).
func (r *envReader) Int32(name string, def int32) int32 {
	key, v := r.get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		r.reject(key, v, "want a non-negative 32-bit integer")
		return def
	}
	return int32(n)
}

func (r *envReader) Duration(name string, def time.Duration) time.Duration {
	key, v := r.get(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.reject(key, v, "want a positive Go duration")
		return def
	}
	return d
}
