// Package daemon receives form submissions as UDP datagrams and appends them
// to the JSON store, one datagram at a time.
package daemon

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/form"
	"github.com/JustVugg/msgboard/internal/metrics"
	"github.com/JustVugg/msgboard/internal/store"
)

var ErrNotListening = errors.New("daemon: Serve called before Listen")

const maxReadBackoff = time.Second

type Daemon struct {
	addr    string
	maxSize int
	store   *store.Store
	logger  *zap.Logger

	mu   sync.Mutex
	conn net.PacketConn
}

func New(cfg config.DaemonConfig, st *store.Store, logger *zap.Logger) *Daemon {
	maxSize := cfg.MaxDatagramSize
	if maxSize <= 0 {
		maxSize = config.DefaultMaxDatagramSize
	}

	return &Daemon{
		addr:    cfg.Listen,
		maxSize: maxSize,
		store:   st,
		logger:  logger.Named("daemon"),
	}
}

// Listen binds the datagram socket.
func (d *Daemon) Listen() error {
	conn, err := net.ListenPacket("udp", d.addr)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.logger.Info("storage daemon listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Addr is the bound address, nil before Listen.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Close releases a socket that was bound but never served.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Start binds and serves until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}
	return d.Serve(ctx)
}

// Serve runs the receive loop on the socket bound by Listen. It returns nil
// once ctx is cancelled, after closing the socket.
func (d *Daemon) Serve(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	if conn == nil {
		return ErrNotListening
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	// One spare byte tells a datagram of exactly maxSize apart from a longer
	// one that the kernel cut short.
	buf := make([]byte, d.maxSize+1)

	var delay time.Duration
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				d.logger.Info("storage daemon stopped")
				return nil
			}

			delay = nextBackoff(delay)
			d.logger.Warn("receive failed", zap.Error(err), zap.Duration("retry_in", delay))

			select {
			case <-ctx.Done():
				d.logger.Info("storage daemon stopped")
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		metrics.DatagramReceived()

		payload := buf[:n]
		if n > d.maxSize {
			metrics.DatagramTruncated()
			d.logger.Warn("datagram exceeds receive limit, truncating",
				zap.Int("limit", d.maxSize),
				zap.Stringer("from", from),
			)
			payload = buf[:d.maxSize]
		}

		d.Handle(payload)
	}
}

// nextBackoff doubles the wait after repeated receive errors, starting at
// 5ms and capped at maxReadBackoff.
func nextBackoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return 5 * time.Millisecond
	}
	delay *= 2
	if delay > maxReadBackoff {
		return maxReadBackoff
	}
	return delay
}

// Handle decodes and stores one payload. Failures are logged and the
// payload is dropped; nothing is retried.
func (d *Daemon) Handle(payload []byte) {
	fields, err := form.Decode(payload)
	if err != nil {
		metrics.DatagramDropped(metrics.ReasonMalformed)
		d.logger.Error("failed to parse submission",
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}

	key, err := d.store.Append(store.Record(fields))
	if err != nil {
		metrics.DatagramDropped(metrics.ReasonStore)
		d.logger.Error("failed to write submission",
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}

	metrics.RecordStored()
	d.logger.Debug("record stored", zap.String("key", key), zap.Int("fields", len(fields)))
}
