package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ClientInterface is the slice of the S3 client the batched logger
// needs, narrowed so tests can supply a fake.
type S3ClientInterface interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Logger buffers audit events and flushes them as a single JSON
// object to S3, either once batchSize events have accumulated or
// flushInterval has elapsed since the last flush.
type S3Logger struct {
	s3Client      S3ClientInterface
	bucket        string
	prefix        string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	eventBuffer []*Event
	bufferMutex sync.Mutex
	lastFlush   time.Time
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// S3AuditConfig configures an S3Logger.
type S3AuditConfig struct {
	Bucket        string        `yaml:"bucket" json:"bucket"`
	Region        string        `yaml:"region" json:"region"`
	Prefix        string        `yaml:"prefix" json:"prefix"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// NewS3Logger starts the background flush routine and returns a ready
// Logger.
func NewS3Logger(s3Client S3ClientInterface, config S3AuditConfig) (*S3Logger, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.Prefix == "" {
		config.Prefix = "audit-logs/"
	}

	logger := &S3Logger{
		s3Client:      s3Client,
		bucket:        config.Bucket,
		prefix:        config.Prefix,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		logger:        slog.Default(),
		eventBuffer:   make([]*Event, 0, config.BatchSize),
		lastFlush:     time.Now(),
		stopChan:      make(chan struct{}),
	}

	logger.wg.Add(1)
	go logger.flushRoutine()

	return logger, nil
}

func (l *S3Logger) LogEvent(ctx context.Context, event *Event) {
	l.bufferMutex.Lock()
	defer l.bufferMutex.Unlock()

	l.eventBuffer = append(l.eventBuffer, event)

	if len(l.eventBuffer) >= l.batchSize {
		l.flushBufferUnsafe(ctx)
	}
}

func (l *S3Logger) flushRoutine() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.bufferMutex.Lock()
			if len(l.eventBuffer) > 0 && time.Since(l.lastFlush) >= l.flushInterval {
				l.flushBufferUnsafe(context.Background())
			}
			l.bufferMutex.Unlock()
		case <-l.stopChan:
			l.bufferMutex.Lock()
			if len(l.eventBuffer) > 0 {
				l.flushBufferUnsafe(context.Background())
			}
			l.bufferMutex.Unlock()
			return
		}
	}
}

// flushBufferUnsafe must be called with bufferMutex held; it releases
// the lock while performing the S3 PutObject and reacquires it before
// returning, so callers can keep deferring Unlock normally.
func (l *S3Logger) flushBufferUnsafe(ctx context.Context) {
	if len(l.eventBuffer) == 0 {
		return
	}

	eventsToFlush := make([]*Event, len(l.eventBuffer))
	copy(eventsToFlush, l.eventBuffer)

	l.eventBuffer = l.eventBuffer[:0]
	l.lastFlush = time.Now()

	l.bufferMutex.Unlock()
	defer l.bufferMutex.Lock()

	batchData := struct {
		Events    []*Event `json:"events"`
		BatchInfo struct {
			Count     int       `json:"count"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"batch_info"`
	}{
		Events: eventsToFlush,
	}
	batchData.BatchInfo.Count = len(eventsToFlush)
	batchData.BatchInfo.Timestamp = time.Now()

	jsonData, err := json.Marshal(batchData)
	if err != nil {
		l.logger.Error("failed to marshal audit events", slog.String("err", err.Error()))
		return
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%syear=%d/month=%02d/day=%02d/hour=%02d/audit-events-%d-%03d.json",
		l.prefix,
		now.Year(), now.Month(), now.Day(), now.Hour(),
		now.Unix(),
		len(eventsToFlush))
	_, err = l.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event-count": fmt.Sprintf("%d", len(eventsToFlush)),
			"created-at":  now.Format(time.RFC3339),
		},
	})

	if err != nil {
		l.logger.Error("failed to upload audit events to S3",
			slog.String("bucket", l.bucket),
			slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}

	l.logger.Debug("successfully uploaded audit events to S3",
		slog.String("key", key),
		slog.Int("event_count", len(eventsToFlush)))
}

// Close flushes any buffered events and stops the background routine.
func (l *S3Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()
	return nil
}

// Flush forces an immediate flush of buffered events.
func (l *S3Logger) Flush(ctx context.Context) error {
	l.bufferMutex.Lock()
	defer l.bufferMutex.Unlock()
	l.flushBufferUnsafe(ctx)
	return nil
}
