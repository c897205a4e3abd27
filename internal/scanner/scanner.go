// Package scanner implements the room scanner agent: a sequential loop of
// bounded BLE scan windows, per-cycle deduplication, and fire-and-forget
// publishing of one detection per person per cycle.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"campusnav/presence-server/internal/model"
)

const (
	// TagPayloadPrefix marks manufacturer data emitted by recognized tags.
	TagPayloadPrefix = "FAC_"
	// TagPayloadSeparator splits the faculty id from the tag id.
	TagPayloadSeparator = "|"

	DefaultScanWindow        = 5 * time.Second
	DefaultCyclePeriod       = 60 * time.Second
	DefaultBufferCapacity    = 10
	DefaultPublishRetryMax   = 5
	DefaultPublishRetryDelay = 2 * time.Second
)

// Advertisement is one raw BLE advertisement event observed during a scan
// window.
type Advertisement struct {
	Address          string
	Name             string
	ManufacturerData string
	RSSI             int
}

// AdvertisementSource delivers advertisement events synchronously for the
// duration of one scan window, then returns. A source that cannot
// initialize should fail its constructor; that is fatal to the agent.
type AdvertisementSource interface {
	Scan(ctx context.Context, window time.Duration, emit func(Advertisement)) error
}

// Publisher hands one detection to the transport.
type Publisher interface {
	Publish(ctx context.Context, d model.Detection) error
}

// Config holds the scanner agent's fixed identity and timing.
type Config struct {
	ScannerID         string
	Room              string
	ScanWindow        time.Duration
	CyclePeriod       time.Duration
	BufferCapacity    int
	PublishRetryMax   uint64
	PublishRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.CyclePeriod <= 0 {
		c.CyclePeriod = DefaultCyclePeriod
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.PublishRetryMax == 0 {
		c.PublishRetryMax = DefaultPublishRetryMax
	}
	if c.PublishRetryDelay <= 0 {
		c.PublishRetryDelay = DefaultPublishRetryDelay
	}
	return c
}

// Scanner runs the scan/emit/sleep cycle for one room.
type Scanner struct {
	cfg       Config
	logger    *slog.Logger
	source    AdvertisementSource
	publisher Publisher
	buf       *cycleBuffer
}

// New constructs a scanner agent bound to one room.
func New(cfg Config, logger *slog.Logger, source AdvertisementSource, publisher Publisher) *Scanner {
	cfg = cfg.withDefaults()
	return &Scanner{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		publisher: publisher,
		buf:       newCycleBuffer(cfg.BufferCapacity),
	}
}

// Run executes scan cycles until the context is cancelled. A cycle whose
// emit phase fails is discarded; the next cycle starts fresh.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started",
		"scanner", s.cfg.ScannerID,
		"room", s.cfg.Room,
		"scan_window", s.cfg.ScanWindow,
		"cycle_period", s.cfg.CyclePeriod,
	)

	for {
		cycleStart := time.Now()

		s.runCycle(ctx)

		if err := ctx.Err(); err != nil {
			s.logger.Info("scanner stopped", "scanner", s.cfg.ScannerID)
			return err
		}

		if remaining := s.cfg.CyclePeriod - time.Since(cycleStart); remaining > 0 {
			select {
			case <-ctx.Done():
				s.logger.Info("scanner stopped", "scanner", s.cfg.ScannerID)
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}
}

func (s *Scanner) runCycle(ctx context.Context) {
	s.buf.reset()

	dropped := 0
	err := s.source.Scan(ctx, s.cfg.ScanWindow, func(adv Advertisement) {
		facultyID, tagID, ok := ParseTagPayload(adv.ManufacturerData)
		if !ok {
			return
		}
		if !s.buf.add(facultyID, tagID, adv.RSSI) {
			dropped++
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("scan window failed", "scanner", s.cfg.ScannerID, "error", err)
		return
	}

	if dropped > 0 {
		s.logger.Warn("cycle buffer full, dropped new persons", "scanner", s.cfg.ScannerID, "dropped", dropped)
	}

	detections := s.buf.detections(s.cfg.ScannerID, s.cfg.Room)
	if len(detections) == 0 {
		return
	}

	for _, d := range detections {
		if err := s.publishWithRetry(ctx, d); err != nil {
			s.logger.Warn("emit failed, discarding cycle data",
				"scanner", s.cfg.ScannerID,
				"faculty", d.FacultyID,
				"error", err,
			)
			return
		}
		s.logger.Debug("detection emitted", "scanner", s.cfg.ScannerID, "faculty", d.FacultyID, "rssi", d.RSSI)
	}

	s.logger.Info("cycle emitted", "scanner", s.cfg.ScannerID, "detections", len(detections))
}

func (s *Scanner) publishWithRetry(ctx context.Context, d model.Detection) error {
	op := func() error {
		return s.publisher.Publish(ctx, d)
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.PublishRetryDelay), s.cfg.PublishRetryMax)
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// ParseTagPayload extracts the faculty and tag identifiers from a tag's
// manufacturer data. Payloads without the recognized prefix or separator
// are not tags (phones, headphones, ...) and report ok=false.
func ParseTagPayload(data string) (facultyID, tagID string, ok bool) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, TagPayloadPrefix) {
		return "", "", false
	}
	idx := strings.Index(data, TagPayloadSeparator)
	if idx < 0 {
		return "", "", false
	}
	facultyID = strings.TrimSpace(data[:idx])
	tagID = strings.TrimSpace(data[idx+len(TagPayloadSeparator):])
	if facultyID == "" {
		return "", "", false
	}
	return facultyID, tagID, true
}
