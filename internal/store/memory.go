package store

import (
	"path"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// memoryBackend is the in-process fallback used when no networked store is
// configured. It deliberately does not enforce TTL: every entry is stored
// with cache.NoExpiration regardless of the ttl argument, which is
// acceptable because it only ever backs a single process.
type memoryBackend struct {
	c *cache.Cache
}

// newMemoryBackend builds the fallback backend. The cleanup interval is
// irrelevant since nothing is ever given a real expiration.
func newMemoryBackend() *memoryBackend {
	return &memoryBackend{c: cache.New(cache.NoExpiration, 0)}
}

func namespacedKey(class TTLClass, key string) string {
	return classPrefix(class) + ":" + key
}

func classPrefix(class TTLClass) string {
	switch class {
	case TTLWorker:
		return "worker"
	case TTLJob:
		return "job"
	case TTLPreference:
		return "pref"
	default:
		return "unknown"
	}
}

func (m *memoryBackend) Set(class TTLClass, key string, value []byte, _ time.Duration) error {
	m.c.Set(namespacedKey(class, key), value, cache.NoExpiration)
	return nil
}

func (m *memoryBackend) Get(class TTLClass, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(namespacedKey(class, key))
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

func (m *memoryBackend) Delete(class TTLClass, key string) error {
	m.c.Delete(namespacedKey(class, key))
	return nil
}

// Keys matches pattern against each key with '/' mapped to '.', the form the
// networked backend stores keys in, so a "*" pattern spans a whole Store key
// such as "worker/http://host". The original, unmapped keys are returned.
func (m *memoryBackend) Keys(class TTLClass, pattern string) ([]string, error) {
	prefix := classPrefix(class) + ":"
	var matched []string
	for k := range m.c.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		bare := strings.TrimPrefix(k, prefix)
		ok, err := path.Match(pattern, strings.ReplaceAll(bare, "/", "."))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, bare)
		}
	}
	return matched, nil
}
