package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"roadside/internal/config"
	internalRedis "roadside/internal/redis"
)

// NewRedisClient connects to Redis. With nrApp set every command is recorded
// as a datastore segment of the current transaction.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if nrApp != nil {
		client.AddHook(&nrRedisHook{app: nrApp})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// nrRedisHook records each command as a datastore segment named after the
// key family it touches and reports command failures on the transaction.
type nrRedisHook struct {
	app *newrelic.Application
}

func (h *nrRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *nrRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		txn := newrelic.FromContext(ctx)
		if txn == nil {
			return next(ctx, cmd)
		}
		segment := newrelic.DatastoreSegment{
			StartTime:  txn.StartSegmentNow(),
			Product:    newrelic.DatastoreRedis,
			Operation:  cmd.Name(),
			Collection: collectionOf(cmd),
		}
		err := next(ctx, cmd)
		segment.End()
		noticeRedisError(txn, err)
		return err
	}
}

func (h *nrRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		txn := newrelic.FromContext(ctx)
		if txn == nil {
			return next(ctx, cmds)
		}
		segment := newrelic.DatastoreSegment{
			StartTime:  txn.StartSegmentNow(),
			Product:    newrelic.DatastoreRedis,
			Operation:  "pipeline",
			Collection: pipelineCollection(cmds),
		}
		err := next(ctx, cmds)
		segment.End()
		noticeRedisError(txn, err)
		return err
	}
}

// noticeRedisError reports real failures. Cache misses, a script not yet
// loaded and cancelled requests are expected traffic.
func noticeRedisError(txn *newrelic.Transaction, err error) {
	if !isRedisFailure(err) {
		return
	}
	txn.NoticeError(err)
}

func isRedisFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, redis.Nil),
		errors.Is(err, context.Canceled),
		redis.HasErrorPrefix(err, "NOSCRIPT"):
		return false
	}
	return true
}

// commandKey returns the key or channel a command addresses.
func commandKey(cmd redis.Cmder) string {
	args := cmd.Args()
	i := 1
	switch strings.ToLower(cmd.Name()) {
	case "eval", "evalsha", "eval_ro", "evalsha_ro":
		// EVAL script numkeys key...
		i = 3
	}
	if len(args) <= i {
		return ""
	}
	key, _ := args[i].(string)
	return key
}

// collectionOf names the key family a command touches, e.g.
// "mechanic_cache" for "cache:mechanic:<id>".
func collectionOf(cmd redis.Cmder) string {
	return internalRedis.KeyFamily(commandKey(cmd))
}

// pipelineCollection is the shared family of cmds, or "mixed".
func pipelineCollection(cmds []redis.Cmder) string {
	family := ""
	for _, cmd := range cmds {
		switch strings.ToLower(cmd.Name()) {
		case "multi", "exec":
			continue
		}
		f := collectionOf(cmd)
		if family != "" && f != family {
			return "mixed"
		}
		family = f
	}
	if family == "" {
		return internalRedis.FamilyOther
	}
	return family
}
