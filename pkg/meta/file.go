// pkg/meta/file.go

package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const settingFile = "setting.json"
const recordSuffix = ".rec"

// fileMeta keeps the format and one file per record in a directory.
type fileMeta struct {
	sync.Mutex
	conf *Config
	root string
	fmt  Format
}

var _ Meta = &fileMeta{}

func init() {
	Register("file", newFileMeta)
}

func newFileMeta(driver, addr string, conf *Config) (Meta, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty directory for %s meta", driver)
	}
	if err := os.MkdirAll(filepath.Join(addr, "records"), 0755); err != nil {
		return nil, err
	}
	return &fileMeta{conf: conf, root: addr}, nil
}

func (m *fileMeta) Name() string {
	return "file"
}

func (m *fileMeta) recordPath(name string) string {
	return filepath.Join(m.root, "records", url.PathEscape(name)+recordSuffix)
}

// writeFile replaces path atomically.
func (m *fileMeta) writeFile(path string, data []byte) error {
	if m.conf.ReadOnly {
		return errors.New("read-only meta")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (m *fileMeta) Init(format Format, force bool) error {
	m.Lock()
	defer m.Unlock()
	body, err := os.ReadFile(filepath.Join(m.root, settingFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		var old Format
		if err = json.Unmarshal(body, &old); err != nil {
			return errors.Wrap(err, "existing format is broken")
		}
		if !force {
			return fmt.Errorf("cannot update format from %+v to %+v", old, format)
		}
		logger.Warnf("Existing volume will be overwrited: %+v", old)
		entries, _ := os.ReadDir(filepath.Join(m.root, "records"))
		for _, e := range entries {
			_ = os.Remove(filepath.Join(m.root, "records", e.Name()))
		}
	}
	data, err := json.MarshalIndent(format, "", "")
	if err != nil {
		return err
	}
	if err = m.writeFile(filepath.Join(m.root, settingFile), data); err != nil {
		return err
	}
	m.fmt = format
	return nil
}

func (m *fileMeta) Load() (*Format, error) {
	body, err := os.ReadFile(filepath.Join(m.root, settingFile))
	if os.IsNotExist(err) {
		return nil, ErrNotFormatted
	}
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(body, &m.fmt); err != nil {
		return nil, fmt.Errorf("json: %s", err)
	}
	return &m.fmt, nil
}

func (m *fileMeta) GetRecord(ctx context.Context, name string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.recordPath(name))
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(data)
}

func (m *fileMeta) PutRecord(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	return m.writeFile(m.recordPath(r.Name), r.Marshal())
}

func (m *fileMeta) DeleteRecord(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.conf.ReadOnly {
		return errors.New("read-only meta")
	}
	err := os.Remove(m.recordPath(name))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, name)
	}
	return err
}

func (m *fileMeta) ListRecords(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(m.root, "records"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), recordSuffix) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(e.Name(), recordSuffix))
		if err != nil {
			logger.Warnf("skip record file %s: %s", e.Name(), err)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *fileMeta) Close() error {
	return nil
}
