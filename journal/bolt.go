package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rustyeddy/riskengine/id"
)

var (
	recordsBucket = []byte("records")
	equityBucket  = []byte("equity")
)

// Bolt keeps records in one nested bucket per pair under "records", keyed by
// record ID. IDs are ULIDs, so cursor order is time order.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(equityBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func pairBucket(strategy, instrument string) []byte {
	return []byte(strategy + "/" + instrument)
}

func (b *Bolt) Record(_ context.Context, r Record) error {
	r = stamp(r)
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		pb, err := tx.Bucket(recordsBucket).CreateBucketIfNotExists(pairBucket(r.Strategy, r.Instrument))
		if err != nil {
			return err
		}
		return pb.Put([]byte(r.ID), data)
	})
}

func (b *Bolt) RecordEquity(_ context.Context, e EquitySnapshot) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(equityBucket).Put([]byte(id.NewAt(e.Time)), data)
	})
}

// ListRecords reads one pair bucket when both Strategy and Instrument are set,
// otherwise it scans every pair and merges by time.
func (b *Bolt) ListRecords(_ context.Context, flt Filter) ([]Record, error) {
	var out []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(recordsBucket)
		scan := func(pb *bolt.Bucket) error {
			return pb.ForEach(func(k, v []byte) error {
				var r Record
				if err := json.Unmarshal(v, &r); err != nil {
					return fmt.Errorf("bolt journal: record %s: %w", k, err)
				}
				if flt.match(r) {
					out = append(out, r)
				}
				return nil
			})
		}

		if flt.Strategy != "" && flt.Instrument != "" {
			pb := root.Bucket(pairBucket(flt.Strategy, flt.Instrument))
			if pb == nil {
				return nil
			}
			return scan(pb)
		}
		return root.ForEachBucket(func(k []byte) error {
			return scan(root.Bucket(k))
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// ListEquity returns snapshots in [start, end).
func (b *Bolt) ListEquity(_ context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	var out []EquitySnapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(equityBucket).ForEach(func(_, v []byte) error {
			var e EquitySnapshot
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.Time.Before(start) && e.Time.Before(end) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
