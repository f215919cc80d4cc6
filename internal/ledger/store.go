// Package ledger is the durable per-account append-only transaction
// store. Records live in nested bolt buckets keyed by account, with
// 4-byte big-endian positions as keys, so one account's sequence is
// randomly addressable and strictly ordered.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	errs "errors"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
)

var enc = binary.BigEndian

const (
	posWidth        = 4
	stableStorePerm = 0o750
)

var (
	txsBucket    = []byte("txs")
	configBucket = []byte("config")
	tokensBucket = []byte("registered_tokens")
)

type Store struct {
	db *bolt.DB
}

type Cfg struct {
	Dir string `env:"LEDGER_DIR" envDefault:"persist"`
}

func Open(cfg Cfg) (s *Store, err error) {
	s = &Store{}
	if err = os.MkdirAll(cfg.Dir, stableStorePerm); err != nil {
		return nil, err
	}
	if s.db, err = bolt.Open(
		filepath.Join(cfg.Dir, "escrow"),
		os.ModePerm,
		bolt.DefaultOptions,
	); err != nil {
		return nil, err
	}
	if err = s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{txsBucket, configBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "CreateBucketIfNotExists")
	}

	return s, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Write opens a writable transaction. The closer commits when the
// passed error is nil and rolls every write of the call back otherwise,
// so an operation that mutates both halves of a pair is all-or-nothing.
func (s *Store) Write() (
	tx *bolt.Tx,
	closer func(err error) error,
	err error,
) {
	tx, err = s.db.Begin(true)

	return tx, func(err error) error {
		if err != nil {
			return errs.Join(err, tx.Rollback())
		}

		return tx.Commit()
	}, err
}

// Read opens a read-only transaction with the same closer shape.
func (s *Store) Read() (
	tx *bolt.Tx,
	closer func(err error) error,
	err error,
) {
	tx, err = s.db.Begin(false)

	return tx, func(err error) error {
		return errs.Join(err, tx.Rollback())
	}, err
}

// Config exposes the bucket holding the persisted contract
// configuration singleton.
func (s *Store) Config(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(configBucket)
}

// RegisteredTokens exposes the bucket mapping token addresses to their
// code hashes.
func (s *Store) RegisteredTokens(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(tokensBucket)
}

func posKey(position uint32) []byte {
	key := make([]byte, posWidth)
	enc.PutUint32(key, position)

	return key
}

func encode(rec *domain.Tx) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "Encode")
	}

	return buf.Bytes(), nil
}

func decode(v []byte) (*domain.Tx, error) {
	var rec domain.Tx
	if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "Decode")
	}

	return &rec, nil
}

func (s *Store) account(tx *bolt.Tx, account domain.Addr) *bolt.Bucket {
	return tx.Bucket(txsBucket).Bucket([]byte(account))
}

func length(b *bolt.Bucket) uint32 {
	if b == nil {
		return 0
	}
	last, _ := b.Cursor().Last()
	if last == nil {
		return 0
	}

	return enc.Uint32(last) + 1
}

// Len returns the sequence length for the account.
func (s *Store) Len(tx *bolt.Tx, account domain.Addr) uint32 {
	return length(s.account(tx, account))
}

// Append adds rec at the end of the account's sequence and returns the
// assigned position, which equals the prior sequence length.
func (s *Store) Append(tx *bolt.Tx, account domain.Addr, rec *domain.Tx) (uint32, error) {
	b, err := tx.Bucket(txsBucket).CreateBucketIfNotExists([]byte(account))
	if err != nil {
		return 0, errors.Wrap(err, "CreateBucketIfNotExists")
	}
	position := length(b)
	v, err := encode(rec)
	if err != nil {
		return 0, err
	}
	if err = b.Put(posKey(position), v); err != nil {
		return 0, errors.Wrap(err, "Put")
	}

	return position, nil
}

// Get loads the record at position, failing with OutOfBounds when the
// position has never been assigned.
func (s *Store) Get(tx *bolt.Tx, account domain.Addr, position uint32) (*domain.Tx, error) {
	b := s.account(tx, account)
	if b == nil {
		return nil, faults.OutOfBounds(account, position, 0)
	}
	v := b.Get(posKey(position))
	if v == nil {
		return nil, faults.OutOfBounds(account, position, length(b))
	}

	return decode(v)
}

// Set overwrites the record at an existing position. The sequence length
// never changes here.
func (s *Store) Set(tx *bolt.Tx, account domain.Addr, position uint32, rec *domain.Tx) error {
	b := s.account(tx, account)
	if b == nil || b.Get(posKey(position)) == nil {
		return faults.OutOfBounds(account, position, length(b))
	}
	v, err := encode(rec)
	if err != nil {
		return err
	}

	return errors.Wrap(b.Put(posKey(position), v), "Put")
}

// List returns up to pageSize records most-recent-first, skipping
// page*pageSize records from the recent end, plus the full sequence
// length. An out-of-range page yields an empty list with the correct
// total.
func (s *Store) List(tx *bolt.Tx, account domain.Addr, page, pageSize uint32) ([]domain.HumanizedTx, uint64, error) {
	b := s.account(tx, account)
	if b == nil {
		return []domain.HumanizedTx{}, 0, nil
	}
	total := length(b)

	txs := make([]domain.HumanizedTx, 0, pageSize)
	skip := uint64(page) * uint64(pageSize)
	cur := b.Cursor()
	for k, v := cur.Last(); k != nil && uint32(len(txs)) < pageSize; k, v = cur.Prev() {
		if skip > 0 {
			skip--
			continue
		}
		rec, err := decode(v)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, rec.Humanize())
	}

	return txs, uint64(total), nil
}
