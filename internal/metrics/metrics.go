// Package metrics publishes billing counters to CloudWatch.
//
// Recording never blocks a request: datums are buffered in memory and sent
// in batches by Run, or on demand by Flush.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"billingsync/internal/types"
)

// Recorder counts billing events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Count(ctx context.Context, metric string, value float64, dims map[string]string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, string, float64, map[string]string) {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const (
	// maxDatumsPerCall bounds a single PutMetricData request.
	maxDatumsPerCall = 20

	// maxBuffered caps memory when CloudWatch is unreachable. Oldest datums
	// are discarded first.
	maxBuffered = 5000
)

// CloudWatchRecorder buffers counters and publishes them under one namespace.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
}

// NewCloudWatchRecorder creates a recorder for namespace. An empty namespace
// falls back to types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Count buffers one datum.
func (r *CloudWatchRecorder) Count(_ context.Context, metric string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  aws.Time(r.now()),
		Dimensions: dimensions(dims),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= maxBuffered {
		r.pending = r.pending[1:]
	}
	r.pending = append(r.pending, datum)
}

// Flush sends every buffered datum. Batches that fail are logged and
// dropped; metrics are best-effort.
func (r *CloudWatchRecorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			r.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
		}
	}
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short deadline.
func (r *CloudWatchRecorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			r.Flush(final)
			cancel()
			return
		}
	}
}

func dimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(k),
			Value: aws.String(dims[k]),
		})
	}
	return out
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*CloudWatchRecorder)(nil)
)
