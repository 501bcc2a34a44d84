package config

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned by SetKey for names outside the key table.
var ErrUnknownKey = errors.New("unknown config key")

// KeyInfo is one row of "docqa config show".
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func publicSpecs() []keySpec {
	out := make([]keySpec, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, s)
		}
	}
	return out
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	pub := publicSpecs()
	rows := make([]KeyInfo, len(pub))
	for i, s := range pub {
		rows[i] = KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))}
	}
	return rows
}

// ValidKeys names the keys SetKey accepts.
func ValidKeys() []string {
	pub := publicSpecs()
	keys := make([]string, len(pub))
	for i, s := range pub {
		keys[i] = s.key
	}
	return keys
}

// SetKey validates value and persists it to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret, set it with %s", key, s.env)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n, isInt := v.(int); isInt && s.typ == kInt {
		return b.SetInt(key, n)
	}
	return b.SetString(key, value)
}
