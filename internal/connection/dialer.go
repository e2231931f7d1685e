package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"okxfeed/internal/metrics"
	"okxfeed/logger"
	"okxfeed/models"
)

// OKX counts login, subscribe and unsubscribe against one budget per
// connection.
const (
	DefaultOpsPerHour = 480
	DefaultOpsBurst   = 20
)

type DialerConfig struct {
	Source           models.Visibility
	LocalIP          string
	HandshakeTimeout time.Duration
	ReadLimit        int64
	SendBuffer       int
	WriteTimeout     time.Duration
	OpsPerHour       int
	OpsBurst         int
	UserAgent        string
}

// Dialer opens Conns for one visibility. Dialers for both visibilities
// may share a connect limiter since OKX throttles connects per IP.
type Dialer struct {
	cfg            DialerConfig
	connectLimiter *rate.Limiter
	log            *logger.Log
}

// NewConnectLimiter returns the limiter shared by every Dialer of a client.
func NewConnectLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func NewDialer(cfg DialerConfig, connectLimiter *rate.Limiter, log *logger.Log) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Dialer{cfg: cfg, connectLimiter: connectLimiter, log: log}
}

// Dial satisfies DialFunc.
func (d *Dialer) Dial(ctx context.Context, url string, handler Handler) (Transport, error) {
	if d.connectLimiter != nil {
		if err := d.connectLimiter.Wait(ctx); err != nil {
			return nil, &models.ConnectError{Kind: models.ConnectTCP, URL: url, Err: err}
		}
	}

	wsDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	if d.cfg.LocalIP != "" {
		ip := net.ParseIP(d.cfg.LocalIP)
		if ip == nil {
			return nil, &models.ConnectError{Kind: models.ConnectTCP, URL: url, Err: fmt.Errorf("invalid local ip %q", d.cfg.LocalIP)}
		}
		wsDialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
	}

	header := http.Header{}
	if d.cfg.UserAgent != "" {
		header.Set("User-Agent", d.cfg.UserAgent)
	}

	start := time.Now()
	ws, resp, err := wsDialer.DialContext(ctx, url, header)
	metrics.ObserveDial(d.cfg.Source, time.Since(start), err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		cerr := &models.ConnectError{Kind: classify(err), URL: url, Err: err}
		d.log.WithComponent(d.cfg.Source.String()+"_conn").WithError(err).WithFields(logger.Fields{
			"url":  url,
			"kind": cerr.Kind.String(),
		}).Warn("dial failed")
		return nil, cerr
	}
	if d.cfg.ReadLimit > 0 {
		ws.SetReadLimit(d.cfg.ReadLimit)
	}

	conn := newConn(ws, handler, connOptions{
		source:       d.cfg.Source,
		sendBuffer:   d.cfg.SendBuffer,
		limiter:      opLimiter(d.cfg.OpsPerHour, d.cfg.OpsBurst),
		writeTimeout: d.cfg.WriteTimeout,
		log:          d.log,
	})
	conn.log.WithFields(logger.Fields{
		"url":     url,
		"elapsed": time.Since(start).String(),
	}).Info("websocket connected")
	return conn, nil
}

func opLimiter(perHour, burst int) *rate.Limiter {
	if perHour < 0 {
		return nil
	}
	if perHour == 0 {
		perHour = DefaultOpsPerHour
	}
	if burst <= 0 {
		burst = DefaultOpsBurst
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), burst)
}

func classify(err error) models.ConnectErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.ConnectDNS
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return models.ConnectHandshake
	}

	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr),
		strings.Contains(err.Error(), "tls:"):
		return models.ConnectTLS
	}
	return models.ConnectTCP
}
