// Package cli holds operator helpers for the print queue.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/internal/platform/cache"
	"github.com/odyssey-erp/invoice-desk/jobs"
)

// JobsCLI wraps manual management helpers for the print queue.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
	redis     *redis.Client
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(ctx context.Context, redisAddr string, tokenTTL time.Duration) (*JobsCLI, error) {
	rdb, err := cache.New(ctx, cache.Options{Addr: redisAddr})
	if err != nil {
		return nil, err
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts, jobs.NewTokenVault(rdb, tokenTTL))
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts), redis: rdb}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.redis != nil {
		if closeErr := c.redis.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// ParseReprint validates the arguments of a manual reprint.
func ParseReprint(kind, id, token string) (jobs.PrintInvoicePayload, error) {
	k, ok := invoice.ParseKind(kind)
	if !ok {
		return jobs.PrintInvoicePayload{}, fmt.Errorf("jobs cli: unknown invoice kind %q", kind)
	}
	invoiceID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || invoiceID <= 0 {
		return jobs.PrintInvoicePayload{}, fmt.Errorf("jobs cli: invalid invoice id %q", id)
	}
	if token == "" {
		return jobs.PrintInvoicePayload{}, errors.New("jobs cli: api token required")
	}
	return jobs.PrintInvoicePayload{Kind: k, InvoiceID: invoiceID, Token: token}, nil
}

// Reprint enqueues a print job for an already persisted invoice.
func (c *JobsCLI) Reprint(ctx context.Context, payload jobs.PrintInvoicePayload) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueuePrintInvoice(ctx, payload)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Archived  int
	Completed int
}

// InspectQueue reports the print queue counters.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Archived = info.Archived
		stats.Completed = info.Completed
	}
	return stats, nil
}

// ListFailed returns print jobs that failed and were archived.
func (c *JobsCLI) ListFailed(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
