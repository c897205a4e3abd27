package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusnav/presence-server/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSource replays a fixed list of advertisements within the window.
type stubSource struct {
	adverts []Advertisement
	err     error
}

func (s *stubSource) Scan(_ context.Context, _ time.Duration, emit func(Advertisement)) error {
	if s.err != nil {
		return s.err
	}
	for _, adv := range s.adverts {
		emit(adv)
	}
	return nil
}

type capturePublisher struct {
	mu         sync.Mutex
	detections []model.Detection
	failures   int
}

func (p *capturePublisher) Publish(_ context.Context, d model.Detection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return fmt.Errorf("broker unavailable")
	}
	p.detections = append(p.detections, d)
	return nil
}

func (p *capturePublisher) published() []model.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Detection(nil), p.detections...)
}

func tagAdvert(payload string, rssi int) Advertisement {
	return Advertisement{Address: "aa:bb:cc:dd:ee:ff", ManufacturerData: payload, RSSI: rssi}
}

func newTestScanner(source AdvertisementSource, pub Publisher, capacity int) *Scanner {
	return New(Config{
		ScannerID:         "SC_D103",
		Room:              "D103",
		ScanWindow:        time.Millisecond,
		CyclePeriod:       time.Millisecond,
		BufferCapacity:    capacity,
		PublishRetryMax:   1,
		PublishRetryDelay: time.Millisecond,
	}, testLogger(), source, pub)
}

func TestParseTagPayload(t *testing.T) {
	cases := []struct {
		payload   string
		facultyID string
		tagID     string
		ok        bool
	}{
		{"FAC_101|TAG_01", "FAC_101", "TAG_01", true},
		{"  FAC_101|TAG_01  ", "FAC_101", "TAG_01", true},
		{"FAC_101|", "FAC_101", "", true},
		{"FAC_101", "", "", false},      // no separator
		{"0x004C-misc", "", "", false},  // not a tag
		{"101|TAG_01", "", "", false},   // missing prefix
		{"", "", "", false},
	}

	for _, tc := range cases {
		facultyID, tagID, ok := ParseTagPayload(tc.payload)
		assert.Equal(t, tc.ok, ok, "payload %q", tc.payload)
		assert.Equal(t, tc.facultyID, facultyID, "payload %q", tc.payload)
		assert.Equal(t, tc.tagID, tagID, "payload %q", tc.payload)
	}
}

func TestCycleKeepsStrongestReadingPerPerson(t *testing.T) {
	source := &stubSource{adverts: []Advertisement{
		tagAdvert("FAC_101|TAG_01", -70),
		tagAdvert("FAC_101|TAG_02", -50),
		tagAdvert("FAC_101|TAG_03", -65),
	}}
	pub := &capturePublisher{}

	s := newTestScanner(source, pub, 10)
	s.runCycle(context.Background())

	published := pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, "FAC_101", published[0].FacultyID)
	assert.Equal(t, -50, published[0].RSSI)
	require.NotNil(t, published[0].TagID)
	assert.Equal(t, "TAG_02", *published[0].TagID, "tag id follows the strongest advertisement")
	assert.Equal(t, "SC_D103", published[0].ScannerID)
	assert.Equal(t, "D103", published[0].Room)
}

func TestCycleIgnoresNonTagTraffic(t *testing.T) {
	source := &stubSource{adverts: []Advertisement{
		tagAdvert("0x004C-phone", -40),
		tagAdvert("FAC_102|TAG_05", -80),
		tagAdvert("headphones", -30),
	}}
	pub := &capturePublisher{}

	s := newTestScanner(source, pub, 10)
	s.runCycle(context.Background())

	published := pub.published()
	require.Len(t, published, 1)
	assert.Equal(t, "FAC_102", published[0].FacultyID)
}

func TestCycleBufferOverflowDropsNewPersonsWithoutError(t *testing.T) {
	var adverts []Advertisement
	for i := 0; i < 11; i++ {
		adverts = append(adverts, tagAdvert(fmt.Sprintf("FAC_%d|TAG_%d", 100+i, i), -60))
	}
	source := &stubSource{adverts: adverts}
	pub := &capturePublisher{}

	s := newTestScanner(source, pub, 10)
	require.NotPanics(t, func() { s.runCycle(context.Background()) })

	assert.Len(t, pub.published(), 10)
}

func TestCycleBufferOverflowStillUpdatesBufferedPersons(t *testing.T) {
	buf := newCycleBuffer(2)
	require.True(t, buf.add("FAC_1", "TAG_A", -80))
	require.True(t, buf.add("FAC_2", "TAG_B", -70))
	require.False(t, buf.add("FAC_3", "TAG_C", -60), "new person beyond capacity is dropped")
	require.True(t, buf.add("FAC_1", "TAG_D", -50), "buffered person still updates at capacity")

	detections := buf.detections("SC_1", "R1")
	require.Len(t, detections, 2)
	assert.Equal(t, -50, detections[0].RSSI)
	assert.Equal(t, "TAG_D", *detections[0].TagID)
}

func TestCycleBufferResetsBetweenCycles(t *testing.T) {
	source := &stubSource{adverts: []Advertisement{tagAdvert("FAC_101|TAG_01", -60)}}
	pub := &capturePublisher{}

	s := newTestScanner(source, pub, 10)
	s.runCycle(context.Background())
	s.runCycle(context.Background())

	// one detection per cycle, not an accumulating buffer
	assert.Len(t, pub.published(), 2)
}

func TestPublishFailureDiscardsCycleAndContinues(t *testing.T) {
	source := &stubSource{adverts: []Advertisement{tagAdvert("FAC_101|TAG_01", -60)}}
	// two failures cover the initial attempt plus the single retry
	pub := &capturePublisher{failures: 2}

	s := newTestScanner(source, pub, 10)
	require.NotPanics(t, func() { s.runCycle(context.Background()) })
	assert.Empty(t, pub.published())

	// next cycle succeeds once the broker is back
	s.runCycle(context.Background())
	assert.Len(t, pub.published(), 1)
}

func TestScanFailureDoesNotEmit(t *testing.T) {
	source := &stubSource{err: fmt.Errorf("hci device busy")}
	pub := &capturePublisher{}

	s := newTestScanner(source, pub, 10)
	require.NotPanics(t, func() { s.runCycle(context.Background()) })
	assert.Empty(t, pub.published())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	source := &stubSource{}
	pub := &capturePublisher{}
	s := newTestScanner(source, pub, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after cancellation")
	}
}
