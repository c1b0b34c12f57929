// pkg/meta/badger.go

package meta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

const recordPrefix = "r/"

var settingKey = []byte("setting")

type badgerMeta struct {
	conf *Config
	db   *badger.DB
	fmt  Format
}

var _ Meta = &badgerMeta{}

func init() {
	Register("badger", newBadgerMeta)
}

func newBadgerMeta(driver, addr string, conf *Config) (Meta, error) {
	opts := badger.DefaultOptions(addr).WithLogger(nil).WithReadOnly(conf.ReadOnly)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerMeta{conf: conf, db: db}, nil
}

func recordKey(name string) []byte {
	return []byte(recordPrefix + name)
}

func (m *badgerMeta) Name() string {
	return "badger"
}

func (m *badgerMeta) Init(format Format, force bool) error {
	data, err := json.MarshalIndent(format, "", "")
	if err != nil {
		return err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(settingKey)
		if err == nil {
			var old Format
			if err = item.Value(func(v []byte) error { return json.Unmarshal(v, &old) }); err != nil {
				return errors.Wrap(err, "existing format is broken")
			}
			if !force {
				return fmt.Errorf("cannot update format from %+v to %+v", old, format)
			}
			logger.Warnf("Existing volume will be overwrited: %+v", old)
			if err = m.dropRecords(txn); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(settingKey, data)
	})
	if err == nil {
		m.fmt = format
	}
	return err
}

func (m *badgerMeta) dropRecords(txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(recordPrefix)
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (m *badgerMeta) Load() (*Format, error) {
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(settingKey)
		if err == badger.ErrKeyNotFound {
			return ErrNotFormatted
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &m.fmt) })
	})
	if err != nil {
		return nil, err
	}
	return &m.fmt, nil
}

func (m *badgerMeta) GetRecord(ctx context.Context, name string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(name))
		if err == badger.ErrKeyNotFound {
			return errors.Wrap(ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(data)
}

func (m *badgerMeta) PutRecord(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(r.Name), r.Marshal())
	})
}

func (m *badgerMeta) DeleteRecord(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(name)); err == badger.ErrKeyNotFound {
			return errors.Wrap(ErrNotFound, name)
		} else if err != nil {
			return err
		}
		return txn.Delete(recordKey(name))
	})
}

func (m *badgerMeta) ListRecords(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(recordPrefix):]))
		}
		return nil
	})
	return names, err
}

func (m *badgerMeta) Close() error {
	return m.db.Close()
}
