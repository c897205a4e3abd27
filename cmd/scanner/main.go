// Command scanner runs a room scanner agent against an MQTT broker using a
// simulated BLE advertisement source. The scan/dedup/publish loop is the
// real agent; only the radio is simulated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campusnav/presence-server/internal/scanner"
	"campusnav/presence-server/internal/transport"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	scannerID := flag.String("scanner-id", "SC_D103", "Scanner identifier (SC_ prefix)")
	room := flag.String("room", "D103", "Room this scanner is bound to")
	scanWindow := flag.Duration("scan-window", scanner.DefaultScanWindow, "BLE scan window duration")
	cyclePeriod := flag.Duration("cycle-period", scanner.DefaultCyclePeriod, "Total scan cycle period")
	capacity := flag.Int("capacity", scanner.DefaultBufferCapacity, "Max distinct persons buffered per cycle")
	tags := flag.String("tags", "FAC_101|TAG_01", "Comma-separated simulated tag payloads, e.g. FAC_101|TAG_01,FAC_102|TAG_02")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 10, "Maximum random jitter applied to RSSI readings")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	source, err := newSimSource(*tags, *baseRSSI, *rssiJitter)
	if err != nil {
		// Matching a real deployment: a radio that cannot initialize is
		// fatal at startup.
		logger.Error("advertisement source init failed", "error", err)
		os.Exit(1)
	}

	publisher := transport.NewPublisher(transport.Options{
		BrokerURL: *brokerAddr,
		ClientID:  *scannerID,
		Username:  *username,
		Password:  *password,
	}, logger)
	defer publisher.Close()

	agent := scanner.New(scanner.Config{
		ScannerID:      *scannerID,
		Room:           *room,
		ScanWindow:     *scanWindow,
		CyclePeriod:    *cyclePeriod,
		BufferCapacity: *capacity,
	}, logger, source, publisher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scanner terminated", "error", err)
		os.Exit(1)
	}
}

// simSource emits advertisements for a fixed tag population plus a little
// non-tag noise traffic, spread across the scan window.
type simSource struct {
	payloads []string
	baseRSSI int
	jitter   int
	rng      *rand.Rand
}

func newSimSource(tags string, baseRSSI, jitter int) (*simSource, error) {
	var payloads []string
	for _, t := range strings.Split(tags, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, _, ok := scanner.ParseTagPayload(t); !ok {
			return nil, fmt.Errorf("invalid tag payload %q", t)
		}
		payloads = append(payloads, t)
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("at least one tag payload required")
	}

	return &simSource{
		payloads: payloads,
		baseRSSI: baseRSSI,
		jitter:   jitter,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *simSource) Scan(ctx context.Context, window time.Duration, emit func(scanner.Advertisement)) error {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			payload := s.payloads[s.rng.Intn(len(s.payloads))]
			emit(scanner.Advertisement{
				Address:          fmt.Sprintf("aa:bb:cc:%02x:%02x:%02x", s.rng.Intn(256), s.rng.Intn(256), s.rng.Intn(256)),
				ManufacturerData: payload,
				RSSI:             s.randomRSSI(),
			})

			// occasional non-tag traffic that the filter should drop
			if s.rng.Intn(4) == 0 {
				emit(scanner.Advertisement{
					Address:          "de:ad:be:ef:00:01",
					Name:             "headphones",
					ManufacturerData: "0x004C-misc",
					RSSI:             s.randomRSSI(),
				})
			}
		}
	}
	return nil
}

func (s *simSource) randomRSSI() int {
	rssi := s.baseRSSI
	if s.jitter > 0 {
		rssi += s.rng.Intn(s.jitter*2+1) - s.jitter
	}
	if rssi > 0 {
		rssi = 0
	}
	if rssi < -120 {
		rssi = -120
	}
	return rssi
}
