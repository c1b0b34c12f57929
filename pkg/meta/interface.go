// pkg/meta/interface.go

// Package meta persists the volume format and the file records that own
// non-resident attributes. Engines are picked by the scheme of the meta URL.
package meta

import (
	"context"
	"fmt"
	"strings"

	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("clusterfs")

// ErrNotFound is returned for a record that does not exist.
var ErrNotFound = errors.New("record not found")

// ErrNotFormatted is returned by Load on an empty store.
var ErrNotFormatted = errors.New("database is not formatted")

// Meta is a metadata engine.
type Meta interface {
	// Name of the engine.
	Name() string
	// Init is used to initialize a meta service.
	Init(format Format, force bool) error
	// Load loads the existing setting of a formatted volume from meta service.
	Load() (*Format, error)

	GetRecord(ctx context.Context, name string) (*Record, error)
	PutRecord(ctx context.Context, r *Record) error
	DeleteRecord(ctx context.Context, name string) error
	ListRecords(ctx context.Context) ([]string, error)

	Close() error
}

type Creator func(driver, addr string, conf *Config) (Meta, error)

var metaDrivers = make(map[string]Creator)

func Register(name string, register Creator) {
	metaDrivers[name] = register
}

// NewClient opens the engine named by the scheme of uri; a bare path uses
// the file engine.
func NewClient(uri string, conf *Config) (Meta, error) {
	if conf == nil {
		conf = &Config{}
	}
	driver, addr := "file", uri
	if p := strings.Index(uri, "://"); p > 0 {
		driver, addr = uri[:p], uri[p+3:]
	}
	f, ok := metaDrivers[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("invalid meta driver: %s", driver)
	}
	m, err := f(driver, addr, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s meta", driver)
	}
	logger.Debugf("meta engine %s at %s", m.Name(), addr)
	return m, nil
}
