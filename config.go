package mls

import (
	"os"
	"strconv"
	"time"

	"github.com/nipee/mls/ciphersuite"
)

// Config holds the environment-driven defaults the group façade falls
// back on when a caller doesn't specify them explicitly: default
// cipher suite, key-package lifetime, and whether key packages are
// treated as last-resort (reusable) by default.
type Config struct {
	DefaultSuite      ciphersuite.ID
	KeyPackageLifetime time.Duration
	LastResortDefault bool
}

// DefaultConfig reads MLS_DEFAULT_SUITE, MLS_KEYPACKAGE_LIFETIME, and
// MLS_LAST_RESORT from the environment, falling back to sane defaults
// if unset or unparsable.
func DefaultConfig() Config {
	cfg := Config{
		DefaultSuite:      ciphersuite.X25519_AES128GCM_SHA256_Ed25519,
		KeyPackageLifetime: 90 * 24 * time.Hour,
		LastResortDefault: false,
	}

	if v := os.Getenv("MLS_DEFAULT_SUITE"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			cfg.DefaultSuite = ciphersuite.ID(n)
		}
	}

	if v := os.Getenv("MLS_KEYPACKAGE_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.KeyPackageLifetime = d
		}
	}

	if v := os.Getenv("MLS_LAST_RESORT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LastResortDefault = b
		}
	}

	return cfg
}

// NewDefaultKeyPackageBundle builds a KeyPackageBundle using the
// cipher suite, lifetime, and last-resort default resolved from
// DefaultConfig, for callers that don't need per-call overrides.
func NewDefaultKeyPackageBundle(identity []byte, extra []ExtensionBody) (KeyPackageBundle, error) {
	cfg := DefaultConfig()
	suite, err := ciphersuite.New(cfg.DefaultSuite)
	if err != nil {
		return KeyPackageBundle{}, err
	}
	return NewKeyPackageBundle(suite, identity, cfg.KeyPackageLifetime, cfg.LastResortDefault, extra)
}

// CreateDefaultGroup creates a group with the cipher suite resolved
// from DefaultConfig, matching the suite a bundle produced by
// NewDefaultKeyPackageBundle was built with.
func CreateDefaultGroup(creator KeyPackageBundle, groupID []byte, extensions ExtensionList) (*Group, error) {
	cfg := DefaultConfig()
	suite, err := ciphersuite.New(cfg.DefaultSuite)
	if err != nil {
		return nil, err
	}
	return CreateGroup(suite, creator, groupID, extensions)
}
