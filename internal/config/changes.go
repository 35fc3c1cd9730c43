package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
)

// Sections that are applied without a restart.
var liveSections = map[string]bool{
	"auth":     true,
	"download": true,
	"logging":  true,
}

// Changes lists the top-level sections that differ between old and new.
// restart holds the subset that only takes effect after a restart.
func Changes(old, new *Config) (changed, restart []string) {
	if old == nil || new == nil {
		return nil, nil
	}
	pairs := []struct {
		name string
		a, b any
	}{
		{"telegram", old.Telegram, new.Telegram},
		{"auth", old.Auth, new.Auth},
		{"download", old.Download, new.Download},
		{"storage", old.Storage, new.Storage},
		{"queue", old.Queue, new.Queue},
		{"logging", old.Logging, new.Logging},
	}
	for _, p := range pairs {
		if reflect.DeepEqual(p.a, p.b) {
			continue
		}
		changed = append(changed, p.name)
		if !liveSections[p.name] {
			restart = append(restart, p.name)
		}
	}
	return changed, restart
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Telegram.Token = mask(out.Telegram.Token)
	out.Auth.Secret = mask(out.Auth.Secret)
	out.Storage.RedisPassword = mask(out.Storage.RedisPassword)
	return out
}

func (c *Config) String() string {
	r := c.Redacted()
	b, _ := json.Marshal(r)
	return string(b)
}
