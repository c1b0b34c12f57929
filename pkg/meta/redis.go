// pkg/meta/redis.go

package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const setting = "setting"
const allRecords = "records"

type redisMeta struct {
	conf    *Config
	fmt     Format
	rdb     *redis.Client
	txlocks [64]sync.Mutex // Pessimistic locks to reduce conflict on Redis
}

var _ Meta = &redisMeta{}

func init() {
	Register("redis", newRedisMeta)
	Register("rediss", newRedisMeta)
}

// newRedisMeta return a meta-store using Redis.
func newRedisMeta(driver, addr string, conf *Config) (Meta, error) {
	url := driver + "://" + addr
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %s", url, err)
	}

	var rdb *redis.Client
	if strings.Contains(opt.Addr, ",") {
		var fopt redis.FailoverOptions
		ps := strings.Split(opt.Addr, ",")
		fopt.MasterName = ps[0]
		fopt.SentinelAddrs = ps[1:]

		defaultSentinelPort := "26379"
		for i, saddr := range fopt.SentinelAddrs {
			h, p, err := net.SplitHostPort(saddr)
			if err != nil {
				fopt.SentinelAddrs[i] = net.JoinHostPort(saddr, defaultSentinelPort)
			} else if p == "" {
				fopt.SentinelAddrs[i] = net.JoinHostPort(h, defaultSentinelPort)
			}
		}

		fopt.Username = opt.Username
		fopt.Password = opt.Password
		if fopt.Password == "" && os.Getenv("REDIS_PASSWORD") != "" {
			fopt.Password = os.Getenv("REDIS_PASSWORD")
		}
		fopt.SentinelPassword = os.Getenv("SENTINEL_PASSWORD")
		fopt.DB = opt.DB
		fopt.TLSConfig = opt.TLSConfig
		fopt.MaxRetries = conf.Retries
		fopt.MinRetryBackoff = time.Millisecond * 100
		fopt.MaxRetryBackoff = time.Minute * 1
		fopt.ReadTimeout = time.Second * 30
		fopt.WriteTimeout = time.Second * 5
		rdb = redis.NewFailoverClient(&fopt)
	} else {
		if opt.Password == "" && os.Getenv("REDIS_PASSWORD") != "" {
			opt.Password = os.Getenv("REDIS_PASSWORD")
		}
		opt.MaxRetries = conf.Retries
		opt.MinRetryBackoff = time.Millisecond * 100
		opt.MaxRetryBackoff = time.Minute * 1
		opt.ReadTimeout = time.Second * 30
		opt.WriteTimeout = time.Second * 5
		rdb = redis.NewClient(opt)
	}

	m := &redisMeta{conf: conf, rdb: rdb}
	m.checkServerConfig()
	return m, nil
}

func (rm *redisMeta) Name() string {
	return "redis"
}

func (rm *redisMeta) recordKey(name string) string {
	return "r" + name
}

func (rm *redisMeta) checkServerConfig() {
	ctx := context.Background()
	start := time.Now()
	if err := rm.rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("ping redis: %s", err)
		return
	}
	logger.Debugf("Ping redis: %s", time.Since(start))
	policy, err := rm.rdb.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		logger.Debugf("get maxmemory-policy: %s", err)
		return
	}
	if v := policy["maxmemory-policy"]; v != "" && v != "noeviction" {
		logger.Warnf("maxmemory-policy is %q, records may be evicted; please set it to 'noeviction'", v)
	}
}

func (rm *redisMeta) Init(format Format, force bool) error {
	ctx := context.Background()
	body, err := rm.rdb.Get(ctx, setting).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
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
		names, err := rm.rdb.SMembers(ctx, allRecords).Result()
		if err != nil {
			return err
		}
		keys := []string{allRecords}
		for _, name := range names {
			keys = append(keys, rm.recordKey(name))
		}
		if err = rm.rdb.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(format, "", "")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	if err = rm.rdb.Set(ctx, setting, data, 0).Err(); err != nil {
		return err
	}
	rm.fmt = format
	return nil
}

func (rm *redisMeta) Load() (*Format, error) {
	body, err := rm.rdb.Get(context.Background(), setting).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFormatted
	}
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(body, &rm.fmt); err != nil {
		return nil, fmt.Errorf("json: %s", err)
	}
	return &rm.fmt, nil
}

type timeoutError interface {
	Timeout() bool
}

func shouldRetry(err error, retryOnFailure bool) bool {
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return true
	case err == io.EOF, errors.Is(err, io.ErrUnexpectedEOF):
		return retryOnFailure
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	if v, ok := err.(timeoutError); ok && v.Timeout() {
		return retryOnFailure
	}

	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	ps := strings.SplitN(s, " ", 3)
	switch ps[0] {
	case "LOADING":
	case "READONLY":
	case "CLUSTERDOWN":
	case "TRYAGAIN":
	case "MOVED":
	case "ASK":
	case "ERR":
		if len(ps) > 1 {
			switch ps[1] {
			case "DISABLE":
				fallthrough
			case "NOWRITE":
				fallthrough
			case "NOREAD":
				return true
			}
		}
		return false
	default:
		return false
	}
	return true
}

func (rm *redisMeta) txn(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	if rm.conf.ReadOnly {
		return errors.New("read-only meta")
	}
	var err error
	var khash = fnv.New32()
	_, _ = khash.Write([]byte(keys[0]))
	l := &rm.txlocks[int(khash.Sum32())%len(rm.txlocks)]
	l.Lock()
	defer l.Unlock()
	for i := 0; i < 50; i++ {
		err = rm.rdb.Watch(ctx, txf, keys...)
		if shouldRetry(err, true) {
			time.Sleep(time.Microsecond * 100 * time.Duration(rand.Int()%(i+1)))
			continue
		}
		return err
	}
	return err
}

func (rm *redisMeta) GetRecord(ctx context.Context, name string) (*Record, error) {
	data, err := rm.rdb.Get(ctx, rm.recordKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalRecord(data)
}

func (rm *redisMeta) PutRecord(ctx context.Context, r *Record) error {
	key := rm.recordKey(r.Name)
	data := r.Marshal()
	return rm.txn(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, allRecords, r.Name)
			return nil
		})
		return err
	}, key)
}

func (rm *redisMeta) DeleteRecord(ctx context.Context, name string) error {
	key := rm.recordKey(name)
	return rm.txn(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrap(ErrNotFound, name)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, allRecords, name)
			return nil
		})
		return err
	}, key)
}

func (rm *redisMeta) ListRecords(ctx context.Context) ([]string, error) {
	names, err := rm.rdb.SMembers(ctx, allRecords).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (rm *redisMeta) Close() error {
	return rm.rdb.Close()
}
