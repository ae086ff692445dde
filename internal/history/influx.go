package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/config"
	"github.com/nolongerevil/state-server-go/internal/model"
)

const (
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushInterval  = 1000 // milliseconds

	measurement = "device_state"
)

var (
	ErrConnectionFailed = errors.New("influxdb connection failed")
	ErrClosed           = errors.New("influxdb recorder closed")
)

// Recorder appends every committed state write to an InfluxDB bucket.
// Writes are batched and non-blocking; failures are logged.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed bool
	mu     sync.RWMutex
}

func Connect(ctx context.Context, cfg config.InfluxConfig) (*Recorder, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go r.logWriteErrors(r.writeAPI.Errors())

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("state history enabled")
	return r, nil
}

func (r *Recorder) logWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		log.Warn().Err(err).Msg("influxdb write failed")
	}
}

// RecordState queues one point for rec.
func (r *Recorder) RecordState(_ context.Context, rec *model.StateRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	point, err := NewStatePoint(rec)
	if err != nil {
		return err
	}
	r.writeAPI.WritePoint(point)
	return nil
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.writeAPI.Flush()
	r.client.Close()
}

// NewStatePoint renders a record as a device_state point tagged by serial and
// object key. The merged value is stored as a JSON string field.
func NewStatePoint(rec *model.StateRecord) (*write.Point, error) {
	encoded, err := json.Marshal(rec.Value.OrEmpty())
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	ts := rec.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		measurement,
		map[string]string{
			"serial":     rec.Serial,
			"object_key": rec.ObjectKey,
		},
		map[string]interface{}{
			"revision":  rec.Revision,
			"timestamp": rec.Timestamp,
			"value":     string(encoded),
		},
		ts,
	), nil
}
