package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	auditRecordsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_audit_records_buffered_total",
		Help: "Total audit records accepted by the ClickHouse sink",
	})

	auditRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "league_audit_records_dropped_total",
		Help: "Total audit records dropped because the sink buffer was full",
	})

	auditBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "league_audit_batch_insert_duration_seconds",
		Help:    "Duration of audit batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})
)

const auditDDL = `
	CREATE TABLE IF NOT EXISTS audit_log (
		log_id          UUID,
		timestamp       DateTime64(6),
		direction       LowCardinality(String),
		source          String,
		destination     String,
		conversation_id String,
		message         String
	) ENGINE = MergeTree() ORDER BY (timestamp, log_id)
`

// ClickHouseSink batches audit records into an append-only ClickHouse table.
// It is a secondary sink for analytics; the JSONL file stays authoritative,
// so a full buffer sheds records instead of blocking the dispatch path.
type ClickHouseSink struct {
	conn   driver.Conn
	queue  chan Record
	done   chan struct{}
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	batchSize     int
	flushInterval time.Duration
}

// NewClickHouseSink connects, ensures the table, and starts the flush worker.
func NewClickHouseSink(ctx context.Context, url string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	if err := conn.Exec(ctx, auditDDL); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:          conn,
		queue:         make(chan Record, 4096),
		done:          make(chan struct{}),
		logger:        logger.Sugar(),
		batchSize:     500,
		flushInterval: time.Second,
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

func (s *ClickHouseSink) Append(rec Record) {
	select {
	case s.queue <- rec:
		auditRecordsBuffered.Inc()
	default:
		auditRecordsDropped.Inc()
	}
}

func (s *ClickHouseSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.conn.Close()
}

func (s *ClickHouseSink) worker() {
	defer s.wg.Done()

	batch := make([]Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertBatch(batch); err != nil {
			s.logger.Errorw("Audit batch insert failed", "batchSize", len(batch), "error", err)
		}
		auditBatchDuration.Observe(time.Since(start).Seconds())
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is queued, then final flush.
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) insertBatch(batch []Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chBatch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO audit_log (log_id, timestamp, direction, source, destination, conversation_id, message)
	`)
	if err != nil {
		return err
	}
	for _, rec := range batch {
		if err := chBatch.Append(
			rec.LogID,
			rec.Timestamp,
			string(rec.Direction),
			rec.Source,
			rec.Destination,
			rec.ConversationID,
			string(rec.Message),
		); err != nil {
			s.logger.Warnw("Failed to append audit record to batch", "error", err)
		}
	}
	return chBatch.Send()
}
