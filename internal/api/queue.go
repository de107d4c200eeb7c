package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	// drainMode stops consumers from reading new messages; the reclaimer
	// keeps running so in-flight entries finish.
	drainMode bool
	// drainedComplete turns true once drainMode is on and the group has had
	// zero pending entries for drainEmptyTicks consecutive scans.
	drainedComplete       bool
	drainZeroPendingTicks int
)

const renderStream = "vf:jobs:render"
const renderGroup = "render"
const renderDLQStream = "vf:jobs:render:dlq"

// renderJob is the payload carried on the render stream.
type renderJob struct {
	OrderID string `json:"order_id"`
}

// queueSettings collects the env-tunable knobs of the worker pool.
type queueSettings struct {
	workers         int
	readCount       int
	minIdle         time.Duration
	maxDeliveries   int
	scanEvery       time.Duration
	drainEmptyTicks int
	autoclaimBatch  int
}

func loadQueueSettings() queueSettings {
	return queueSettings{
		workers:         parseEnvInt("VF_QUEUE_WORKERS", 2),
		readCount:       parseEnvInt("VF_QUEUE_READ_COUNT", 4),
		minIdle:         time.Duration(parseEnvInt("VF_QUEUE_PENDING_IDLE_MS", 30000)) * time.Millisecond,
		maxDeliveries:   parseEnvInt("VF_QUEUE_MAX_DELIVERIES", 3),
		scanEvery:       time.Duration(parseEnvInt("VF_QUEUE_RECLAIM_INTERVAL_MS", 10000)) * time.Millisecond,
		drainEmptyTicks: parseEnvInt("VF_QUEUE_DRAIN_EMPTY_TICKS", 3),
		autoclaimBatch:  parseEnvInt("VF_QUEUE_AUTOCLAIM_BATCH", 10),
	}
}

func initRedisFromEnv() bool {
	if os.Getenv("VF_QUEUE_ENABLE") == "" {
		return false
	}
	addr := os.Getenv("VF_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("VF_REDIS_PASSWORD"),
		DB:       parseEnvInt("VF_REDIS_DB", 0),
	})
	return true
}

// StartRenderWorker brings up the Redis Streams consumer pool plus the
// reclaimer that redelivers stalled entries and dead-letters exhausted ones.
func StartRenderWorker(ctx context.Context) {
	if !initRedisFromEnv() {
		return
	}
	if p, err := redisClient.XPending(ctx, renderStream, renderGroup).Result(); err == nil && p != nil {
		log.Printf("render worker online: pending=%d", p.Count)
	} else {
		log.Printf("render worker online: pending=unknown (group may be new)")
	}
	_ = redisClient.XGroupCreateMkStream(ctx, renderStream, renderGroup, "$").Err()

	cfg := loadQueueSettings()
	for i := 0; i < cfg.workers; i++ {
		name := fmt.Sprintf("worker-%d-%d", time.Now().UnixNano(), i)
		go consumeLoop(ctx, name, cfg)
	}
	go reclaimLoop(ctx, fmt.Sprintf("reclaimer-%d", time.Now().UnixNano()), cfg)
}

// consumeLoop blocks on XReadGroup and processes batches until ctx ends.
func consumeLoop(ctx context.Context, consumer string, cfg queueSettings) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if drainMode {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		streams, err := redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    renderGroup,
			Consumer: consumer,
			Streams:  []string{renderStream, ">"},
			Count:    int64(cfg.readCount),
			Block:    5 * time.Second,
		}).Result()
		if err != nil && err != redis.Nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				if processRenderMessage(ctx, msg) {
					_, _ = redisClient.XAck(ctx, renderStream, renderGroup, msg.ID).Result()
				}
			}
		}
	}
}

// reclaimLoop periodically scans the pending list, updates the pending gauge
// and drain progress, re-claims entries idle past minIdle, and dead-letters
// those past the delivery cap.
func reclaimLoop(ctx context.Context, consumer string, cfg queueSettings) {
	ticker := time.NewTicker(cfg.scanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p, err := redisClient.XPending(ctx, renderStream, renderGroup).Result(); err == nil && p != nil {
			SetQueuePending("render", p.Count)
			trackDrainProgress(p.Count, cfg.drainEmptyTicks)
		}

		pendings, err := redisClient.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: renderStream,
			Group:  renderGroup,
			Start:  "-",
			End:    "+",
			Count:  int64(cfg.autoclaimBatch),
		}).Result()
		if err != nil || len(pendings) == 0 {
			continue
		}
		for _, p := range pendings {
			if p.Idle < cfg.minIdle {
				continue
			}
			if int(p.RetryCount) >= cfg.maxDeliveries {
				deadLetter(ctx, p, cfg.maxDeliveries)
				continue
			}
			claimed, err := redisClient.XClaim(ctx, &redis.XClaimArgs{
				Stream:   renderStream,
				Group:    renderGroup,
				Consumer: consumer,
				MinIdle:  cfg.minIdle,
				Messages: []string{p.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}
			for _, msg := range claimed {
				if processRenderMessage(ctx, msg) {
					_, _ = redisClient.XAck(ctx, renderStream, renderGroup, msg.ID).Result()
				}
			}
		}
	}
}

func trackDrainProgress(pending int64, emptyThresh int) {
	if !drainMode {
		drainZeroPendingTicks = 0
		drainedComplete = false
		return
	}
	if pending > 0 {
		drainZeroPendingTicks = 0
		drainedComplete = false
		return
	}
	drainZeroPendingTicks++
	if drainZeroPendingTicks >= emptyThresh {
		drainedComplete = true
	}
}

// deadLetter moves an exhausted pending entry to the DLQ stream, keeping its
// payload so an operator can requeue it after the underlying problem is fixed.
func deadLetter(ctx context.Context, p redis.XPendingExt, maxDeliveries int) {
	var payload any = map[string]any{"error": "missing"}
	if msgs, _ := redisClient.XRange(ctx, renderStream, p.ID, p.ID).Result(); len(msgs) == 1 {
		payload = msgs[0].Values["payload"]
	}
	_, _ = redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: renderDLQStream,
		Values: map[string]any{
			"payload":    payload,
			"reason":     fmt.Sprintf("max deliveries %d exceeded", maxDeliveries),
			"deliveries": p.RetryCount,
			"at":         time.Now().Unix(),
		},
	}).Result()
	RecordDLQInsert("render", "max_deliveries_exceeded")
	if xlen, err := redisClient.XLen(ctx, renderDLQStream).Result(); err == nil {
		SetDLQDepth("render", xlen)
	}
	_, _ = redisClient.XAck(ctx, renderStream, renderGroup, p.ID).Result()
}

// EnqueueRender publishes a render job for a paid order.
func EnqueueRender(orderID uuid.UUID) error {
	if redisClient == nil {
		return fmt.Errorf("queue disabled")
	}
	b, _ := json.Marshal(renderJob{OrderID: orderID.String()})
	return redisClient.XAdd(context.Background(), &redis.XAddArgs{
		Stream: renderStream,
		Values: map[string]any{"payload": string(b)},
	}).Err()
}
