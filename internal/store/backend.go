package store

import "time"

// TTLClass selects which record-class TTL a Backend.Set call should apply.
// The in-memory backend ignores it entirely (the fallback does not enforce
// TTL); the networked backend maps it to a bucket.
type TTLClass int

const (
	TTLWorker TTLClass = iota
	TTLJob
	TTLPreference
)

// Backend is the low-level typed key/value contract both store
// implementations satisfy: set with TTL, get, delete, list keys by glob.
// Everything in Store is built on top of this.
type Backend interface {
	Set(class TTLClass, key string, value []byte, ttl time.Duration) error
	Get(class TTLClass, key string) ([]byte, bool, error)
	Delete(class TTLClass, key string) error
	Keys(class TTLClass, pattern string) ([]string, error)
}
