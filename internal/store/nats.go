package store

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsBackend is the networked state-store backend, one JetStream KV bucket
// per TTL class since bucket TTL in JetStream KV applies to every key in
// the bucket. Grounded on nnikolov3-tts-service's NatsObjectStore
// create-first, bind-on-AlreadyExists pattern, adapted from Object Store to
// Key/Value buckets.
type natsBackend struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	buckets map[TTLClass]nats.KeyValue
}

// bucketSpec describes one TTL-class bucket to create or bind to.
type bucketSpec struct {
	class TTLClass
	name  string
	ttl   time.Duration
}

func newNatsBackend(url string, workerTTL, jobTTL, prefTTL time.Duration) (*natsBackend, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquiring jetstream context: %w", err)
	}

	nb := &natsBackend{conn: conn, js: js, buckets: make(map[TTLClass]nats.KeyValue, 3)}

	specs := []bucketSpec{
		{TTLWorker, "workers", workerTTL},
		{TTLJob, "jobs", jobTTL},
		{TTLPreference, "prefs", prefTTL},
	}
	for _, spec := range specs {
		kv, err := nb.createOrBind(spec)
		if err != nil {
			conn.Close()
			return nil, err
		}
		nb.buckets[spec.class] = kv
	}

	return nb, nil
}

func (nb *natsBackend) createOrBind(spec bucketSpec) (nats.KeyValue, error) {
	kv, err := nb.js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket: spec.name,
		TTL:    spec.ttl,
	})
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) || errors.Is(err, nats.ErrBucketExists) {
			kv, err = nb.js.KeyValue(spec.name)
			if err != nil {
				return nil, fmt.Errorf("binding to existing kv bucket %q: %w", spec.name, err)
			}
			return kv, nil
		}
		return nil, fmt.Errorf("creating kv bucket %q: %w", spec.name, err)
	}
	return kv, nil
}

// natsKey converts a '/'-unsafe key into a NATS-subject-safe token: NATS KV
// keys disallow '/', which preference keys otherwise contain.
func natsKey(key string) string {
	return strings.ReplaceAll(key, "/", ".")
}

func (nb *natsBackend) Set(class TTLClass, key string, value []byte, _ time.Duration) error {
	kv, ok := nb.buckets[class]
	if !ok {
		return fmt.Errorf("no kv bucket for class %v", class)
	}
	_, err := kv.Put(natsKey(key), value)
	return err
}

func (nb *natsBackend) Get(class TTLClass, key string) ([]byte, bool, error) {
	kv, ok := nb.buckets[class]
	if !ok {
		return nil, false, fmt.Errorf("no kv bucket for class %v", class)
	}
	entry, err := kv.Get(natsKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (nb *natsBackend) Delete(class TTLClass, key string) error {
	kv, ok := nb.buckets[class]
	if !ok {
		return fmt.Errorf("no kv bucket for class %v", class)
	}
	err := kv.Delete(natsKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (nb *natsBackend) Keys(class TTLClass, pattern string) ([]string, error) {
	kv, ok := nb.buckets[class]
	if !ok {
		return nil, fmt.Errorf("no kv bucket for class %v", class)
	}
	keys, err := kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, k := range keys {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

func (nb *natsBackend) Close() {
	nb.conn.Close()
}
