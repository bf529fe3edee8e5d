package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

// Visit is a single completed status or login exchange
type Visit struct {
	Time     time.Time `json:"time" yaml:"time"`
	IP       string    `json:"ip" yaml:"ip"`
	Intent   string    `json:"intent" yaml:"intent"`
	Protocol int32     `json:"protocol" yaml:"protocol"`
	Username string    `json:"username,omitempty" yaml:"username,omitempty"`
}

// ProtocolCount is the number of visits seen for one protocol number
type ProtocolCount struct {
	Protocol int32  `json:"protocol" yaml:"protocol"`
	Count    uint64 `json:"count" yaml:"count"`
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// RecordVisit appends visit to the log and bumps the counter for its protocol number
func (s *Store) RecordVisit(ctx context.Context, visit Visit) error {
	encoded, err := json.Marshal(visit)
	if err != nil {
		return eris.Wrap(err, "failed to encode visit")
	}

	return s.batch(ctx, func(tx *bolt.Tx) error {
		visits, err := bucket(tx, visitsBucket)
		if err != nil {
			return err
		}

		seq, err := visits.NextSequence()
		if err != nil {
			return err
		}

		if err = visits.Put(itob(seq), encoded); err != nil {
			return err
		}

		protocols, err := bucket(tx, protocolsBucket)
		if err != nil {
			return err
		}

		key := []byte(strconv.Itoa(int(visit.Protocol)))

		var count uint64
		if raw := protocols.Get(key); raw != nil {
			count = binary.BigEndian.Uint64(raw)
		}

		return protocols.Put(key, itob(count+1))
	})
}

// Visits returns up to limit visits, newest first. A limit <= 0 returns everything.
func (s *Store) Visits(ctx context.Context, limit int) ([]Visit, error) {
	result := make([]Visit, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		visits, err := bucket(tx, visitsBucket)
		if err != nil {
			return err
		}

		cursor := visits.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if limit > 0 && len(result) >= limit {
				break
			}

			var visit Visit
			if err := json.Unmarshal(v, &visit); err != nil {
				return eris.Wrapf(err, "failed to decode visit %d", binary.BigEndian.Uint64(k))
			}
			result = append(result, visit)
		}

		return nil
	})
	return result, err
}

// ProtocolCounts returns the per-protocol visit counters sorted by protocol number
func (s *Store) ProtocolCounts(ctx context.Context) ([]ProtocolCount, error) {
	result := make([]ProtocolCount, 0)
	err := s.view(ctx, func(tx *bolt.Tx) error {
		protocols, err := bucket(tx, protocolsBucket)
		if err != nil {
			return err
		}

		return protocols.ForEach(func(k, v []byte) error {
			protocol, err := strconv.Atoi(string(k))
			if err != nil {
				return eris.Wrapf(err, "invalid protocol key %q", k)
			}

			result = append(result, ProtocolCount{
				Protocol: int32(protocol),
				Count:    binary.BigEndian.Uint64(v),
			})
			return nil
		})
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].Protocol < result[j].Protocol
	})
	return result, err
}
