package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"okxfeed/config"
	"okxfeed/internal/metrics"
	"okxfeed/logger"
	"okxfeed/models"
	"okxfeed/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV", "LOG_LEVEL").WithFields(logger.Fields{
		"service":     cfg.Okxfeed.Name,
		"version":     cfg.Okxfeed.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting okxfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Namespace, cfg.CloudWatch.Dashboard)
	}

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.ExportReportMetrics()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	client, err := stream.New(cfg, stream.WithLogger(log))
	if err != nil {
		log.WithError(err).Error("failed to create stream client")
		os.Exit(1)
	}

	reportInterval := cfg.Metrics.ReportInterval
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Metrics.Enabled {
		metrics.StartReport(ctx, log, reportInterval, client.ReportFields)
	}
	client.Dispatcher().StartMetricsReporting(ctx, reportInterval)
	metrics.StartQueueMetrics(ctx, client.Dispatcher(), 5*time.Second)

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		log.WithError(err).Error("failed to connect")
		_ = client.Close()
		os.Exit(1)
	}

	if len(cfg.Subscriptions) > 0 {
		if err := client.Subscribe(ctx, cfg.Subscriptions...); err != nil {
			log.WithError(err).Warn("initial subscriptions incomplete")
		}
	}
	log.WithFields(logger.Fields{"subscriptions": len(cfg.Subscriptions)}).Info("all components started successfully")

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, client, log)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream client")
	_ = client.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("okxfeed stopped")
}

// consume logs every event until the client closes.
func consume(ctx context.Context, client *stream.Client, log *logger.Log) {
	entry := log.WithComponent("consumer")
	for {
		ev, err := client.NextEvent(ctx)
		if err != nil {
			if !errors.Is(err, models.ErrClosed) && !errors.Is(err, context.Canceled) {
				entry.WithError(err).Warn("event loop stopped")
			}
			return
		}

		fields := logger.Fields{
			"event":  models.EventName(ev),
			"source": ev.Meta().Source.String(),
		}
		switch e := ev.(type) {
		case models.Ticker:
			fields["inst_id"] = e.InstID
			fields["last"] = e.Last.String()
			fields["bid"] = e.BidPrice.String()
			fields["ask"] = e.AskPrice.String()
		case models.Candle:
			fields["inst_id"] = e.InstID
			fields["interval"] = string(e.Interval)
			fields["close"] = e.Close.String()
			fields["confirmed"] = e.Confirmed
		case models.OrderBook:
			fields["inst_id"] = e.InstID
			fields["action"] = string(e.Action)
			fields["bids"] = len(e.Bids)
			fields["asks"] = len(e.Asks)
		case models.Trade:
			fields["inst_id"] = e.InstID
			fields["side"] = e.Side
			fields["price"] = e.Price.String()
			fields["size"] = e.Size.String()
		case models.Account:
			fields["total_equity"] = e.TotalEquity.String()
			fields["currencies"] = len(e.Details)
		case models.Position:
			fields["inst_id"] = e.InstID
			fields["position"] = e.Position.String()
		case models.Order:
			fields["inst_id"] = e.InstID
			fields["order_id"] = e.OrderID
			fields["state"] = e.State
		case models.BalanceAndPosition:
			fields["event_type"] = e.EventType
			fields["balances"] = len(e.Balances)
			fields["positions"] = len(e.Positions)
		case models.StateChange:
			fields["from"] = e.From.String()
			fields["to"] = e.To.String()
			fields["attempt"] = e.Attempt
			entry.WithFields(fields).WithError(e.Err).Info("connection state changed")
			continue
		case models.ConnectionLost:
			entry.WithFields(fields).WithError(e.Err).Error("connection lost")
			continue
		case models.AuthFailure:
			entry.WithFields(fields).WithError(e.Err).Error("authentication failed")
			continue
		case models.ProtocolError:
			entry.WithFields(fields).WithError(e.Err()).Warn("server error")
			continue
		case models.SubscribeAck, models.UnsubscribeAck, models.LoginAck, models.Notice:
		}
		entry.WithFields(fields).Debug("event")
	}
}
