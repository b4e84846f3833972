package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvSource looks up KLINT_<NAME> environment variables, the default,
// dependency-free configuration path for a single NF process started
// directly (no control plane in front of it).
type EnvSource struct{}

func envKey(name string) string {
	return "KLINT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

func (EnvSource) lookup(name string) (string, bool) {
	return os.LookupEnv(envKey(name))
}

func (s EnvSource) GetU16(name string) (uint16, error) {
	v, ok := s.lookup(name)
	if !ok {
		return 0, &ErrNotFound{Name: name}
	}
	n, err := strconv.ParseUint(v, 10, 16)
	return uint16(n), err
}

func (s EnvSource) GetU32(name string) (uint32, error) {
	v, ok := s.lookup(name)
	if !ok {
		return 0, &ErrNotFound{Name: name}
	}
	n, err := strconv.ParseUint(v, 10, 32)
	return uint32(n), err
}

func (s EnvSource) GetU64(name string) (uint64, error) {
	v, ok := s.lookup(name)
	if !ok {
		return 0, &ErrNotFound{Name: name}
	}
	return strconv.ParseUint(v, 10, 64)
}

func (s EnvSource) GetTime(name string) (time.Duration, error) {
	v, ok := s.lookup(name)
	if !ok {
		return 0, &ErrNotFound{Name: name}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return time.Duration(n), err
}

func (s EnvSource) GetSize(name string) (uint64, error) {
	return s.GetU64(name)
}

func (s EnvSource) GetDevice(name string, deviceCount int) (int, error) {
	v, ok := s.lookup(name)
	if !ok {
		return 0, &ErrNotFound{Name: name}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return validateDevice(name, n, deviceCount)
}
