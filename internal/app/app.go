package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"campusnav/presence-server/internal/config"
	"campusnav/presence-server/internal/ingest"
	"campusnav/presence-server/internal/metrics"
	"campusnav/presence-server/internal/model"
	"campusnav/presence-server/internal/mqttbroker"
	"campusnav/presence-server/internal/store"
	"campusnav/presence-server/internal/transport"
)

// App wires together the presence server services and manages their
// lifecycle. The transport is either an external MQTT broker consumed via
// a wildcard subscription, or the embedded broker when no broker URL is
// configured.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store      *store.Store
	broker     *mqttbroker.Broker
	subscriber *transport.Subscriber
	mdns       *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger, metrics: metrics.New("campusnav")}
}

// Run starts all configured services and blocks until the context is
// cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	var brokerErrCh <-chan error

	if a.cfg.MQTTBrokerURL != "" {
		a.subscriber = transport.NewSubscriber(transport.Options{
			BrokerURL: a.cfg.MQTTBrokerURL,
			ClientID:  "campusnav-server",
			Username:  a.cfg.MQTTUsername,
			Password:  a.cfg.MQTTPassword,
		}, a.logger, a.handleTransportMessage)
		a.subscriber.Start()
		defer a.subscriber.Stop()
	} else {
		broker := mqttbroker.New(a.logger)
		broker.SetPublishHandler(a.handleBrokerPublish)
		brokerErrCh, err = broker.Start(a.cfg.MQTTBindAddress)
		if err != nil {
			return err
		}
		a.broker = broker

		if a.cfg.MDNSEnabled {
			if err := a.startMDNS(bindPort(a.cfg.MQTTBindAddress)); err != nil {
				a.logger.Warn("mDNS advertisement failed", "error", err)
			}
			defer a.stopMDNS()
		}
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	connectivityTicker := time.NewTicker(15 * time.Second)
	defer connectivityTicker.Stop()
	a.updateConnectivityMetrics(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if a.broker != nil {
				if err := a.broker.Stop(); err != nil {
					return err
				}
				a.logger.Info("mqtt broker stopped")
			}
			return nil
		case <-connectivityTicker.C:
			a.updateConnectivityMetrics(ctx)
		case err := <-httpErrCh:
			if err != nil {
				if a.broker != nil {
					_ = a.broker.Stop()
				}
				return err
			}
		case err, ok := <-brokerErrCh:
			if !ok {
				brokerErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				return err
			}
		}
	}
}

func (a *App) handleBrokerPublish(ctx context.Context, msg mqttbroker.PublishMessage) {
	if !strings.HasPrefix(msg.Topic, transport.TopicPrefix) {
		// ignore non-scanner traffic on the embedded broker
		return
	}
	a.ingestDetection(ctx, msg.Topic, msg.Payload)
}

func (a *App) handleTransportMessage(ctx context.Context, topic string, payload []byte) {
	a.ingestDetection(ctx, topic, payload)
}

// ingestDetection is the single validated write path into the location
// store. Rejections and storage failures are absorbed locally: logged,
// counted, audited, never propagated.
func (a *App) ingestDetection(ctx context.Context, topic string, payload []byte) {
	scannerFromTopic := strings.TrimPrefix(topic, transport.TopicPrefix)

	d, err := ingest.Validate(payload)
	if err != nil {
		reason := string(ingest.ReasonParse)
		var rej *ingest.RejectionError
		if errors.As(err, &rej) {
			reason = string(rej.Reason)
		}
		a.logger.Warn("detection rejected", "topic", topic, "reason", reason, "error", err)
		a.metrics.DetectionsRejected.WithLabelValues(reason).Inc()
		a.recordIngestionError(ctx, scannerFromTopic, payload, err)
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	record, err := a.store.UpsertLocation(storeCtx, d)
	if err != nil {
		a.logger.Error("failed to persist location", "faculty", d.FacultyID, "scanner", d.ScannerID, "error", err)
		a.metrics.StoreErrors.Inc()
		return
	}

	a.metrics.DetectionsIngested.WithLabelValues(d.ScannerID).Inc()
	a.logger.Info("location updated",
		"faculty", record.FacultyID,
		"room", record.Room,
		"scanner", record.ScannerID,
		"rssi", record.RSSI,
	)
}

func (a *App) recordIngestionError(ctx context.Context, scannerID string, payload []byte, cause error) {
	if a.store == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	entry := model.IngestionError{
		ScannerID: scannerID,
		Payload:   truncateString(string(payload), 4096),
		Reason:    cause.Error(),
	}

	if err := a.store.InsertIngestionError(recCtx, entry); err != nil {
		a.logger.Error("failed to persist ingestion error", "error", err)
	}
}

func (a *App) mqttConnected() bool {
	switch {
	case a.subscriber != nil:
		return a.subscriber.Connected()
	case a.broker != nil:
		return a.broker.Running()
	default:
		return false
	}
}

func (a *App) storageConnected(ctx context.Context) bool {
	if a.store == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.store.Ping(pingCtx) == nil
}

func (a *App) updateConnectivityMetrics(ctx context.Context) {
	a.metrics.MQTTConnected.Set(boolGauge(a.mqttConnected()))
	a.metrics.StorageConnected.Set(boolGauge(a.storageConnected(ctx)))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func bindPort(bind string) int {
	idx := strings.LastIndex(bind, ":")
	if idx < 0 {
		return 0
	}
	var port int
	if _, err := fmt.Sscanf(bind[idx+1:], "%d", &port); err != nil {
		return 0
	}
	return port
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
