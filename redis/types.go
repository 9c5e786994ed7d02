package redis

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	bitcask "github.com/Tuanzi-bug/tuankv"
)

// Store 把命令层的读写翻译成存储引擎的调用。
// 单个 key 的原子性由引擎保证，这里不加锁。
type Store struct {
	db        *bitcask.DB
	closeOnce sync.Once
	closeErr  error
}

// NewStore 打开存储引擎
func NewStore(option bitcask.Options) (*Store, error) {
	db, err := bitcask.Open(option)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an opened engine
func NewStoreWithDB(db *bitcask.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying engine
func (s *Store) DB() *bitcask.DB {
	return s.db
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	// 引擎不保存空 key
	if len(key) == 0 {
		return nil, false, nil
	}
	encValue, err := s.db.Get(key)
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	h, payload, err := decodeValue(encValue)
	if err != nil {
		return nil, false, fmt.Errorf("decode value of %q: %w", key, err)
	}
	if h.dataType != String {
		return nil, false, ErrWrongTypeOperation
	}
	if h.expired(time.Now()) {
		return nil, false, nil
	}
	return payload, true, nil
}

// Set ttl 为 0 表示永不过期
func (s *Store) Set(key, value []byte, ttl time.Duration) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	var expire int64
	if ttl > 0 {
		now := time.Now().UnixNano()
		// 超出 int64 纳秒的过期时间按永不过期的最大值保存
		if int64(ttl) > math.MaxInt64-now {
			expire = math.MaxInt64
		} else {
			expire = now + int64(ttl)
		}
	}
	return s.db.Put(key, encodeValue(valueHeader{dataType: String, expire: expire}, value))
}

// Delete 已过期但尚未清理的 key 也视为存在
func (s *Store) Delete(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, nil
	}
	return s.db.Delete(key)
}

// Scan 在引擎迭代器的快照上按 key 升序遍历，跳过已过期的数据
func (s *Store) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	it := s.db.NewIterator(bitcask.IteratorOptions{Prefix: prefix})
	defer it.Close()

	now := time.Now()
	for it.Rewind(); it.Valid(); it.Next() {
		encValue, err := it.Value()
		if err != nil {
			return err
		}
		h, payload, err := decodeValue(encValue)
		if err != nil {
			return fmt.Errorf("decode value of %q: %w", it.Key(), err)
		}
		if h.dataType != String || h.expired(now) {
			continue
		}
		if !fn(it.Key(), payload) {
			break
		}
	}
	return nil
}

// Close 关闭存储引擎，只执行一次
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
