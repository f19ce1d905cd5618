package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOpts struct {
	// URL, when set, wins over the discrete fields, e.g. redis://:pw@host:6379/0
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int           // 0 keeps the go-redis default
	DialTimeout time.Duration // default 5s
}

func (o RedisOpts) options() (*redis.Options, error) {
	if o.URL != "" {
		opt, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if o.PoolSize > 0 {
			opt.PoolSize = o.PoolSize
		}
		opt.DialTimeout = o.DialTimeout
		return opt, nil
	}
	return &redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		PoolSize:    o.PoolSize,
		DialTimeout: o.DialTimeout,
	}, nil
}

// NewRedisClient connects the counter store shared by every relay instance
// and pings it once.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	ro, err := opts.options()
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(ro)
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", ro.Addr, err)
	}

	return rdb, nil
}
