package usbpro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Serial defaults for USB Pro class widgets.
const (
	// defaultBaudRate is ignored by the FTDI chip but must be valid for the tty.
	defaultBaudRate = 115200

	// defaultReadTimeout bounds each serial read so Close is noticed promptly.
	defaultReadTimeout = 500 * time.Millisecond
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Executor runs callbacks on the goroutine that owns the engine.
// *eventloop.Loop satisfies this interface.
type Executor interface {
	Execute(fn func()) error
}

// Transport is the byte path the engine sends frames through. The handler
// receives every inbound frame.
type Transport interface {
	SendMessage(label byte, data []byte) error
	SetMessageHandler(handler func(label byte, data []byte))
}

// Compile-time check.
var _ Transport = (*Widget)(nil)

// WidgetConfig holds serial port settings.
type WidgetConfig struct {
	// Device is the tty path, e.g. /dev/ttyUSB0.
	Device string

	// BaudRate. Default: 115200.
	BaudRate int

	// ReadTimeout bounds each read. Default: 500ms.
	ReadTimeout time.Duration
}

// WidgetStats holds operational counters for the serial link.
type WidgetStats struct {
	FramesTx      uint64    `json:"frames_tx"`
	FramesRx      uint64    `json:"frames_rx"`
	FramesDropped uint64    `json:"frames_dropped"`
	BytesSkipped  uint64    `json:"bytes_skipped"`
	ErrorsTotal   uint64    `json:"errors_total"`
	LastActivity  time.Time `json:"last_activity"`
	Connected     bool      `json:"connected"`
}

// Widget is a USB Pro serial link.
//
// Thread Safety:
//   - SendMessage, SetMessageHandler, Close and Stats are safe from any
//     goroutine.
//   - The message handler only ever runs through the Executor.
type Widget struct {
	port   io.ReadWriteCloser
	exec   Executor
	reader *FrameReader

	writeMu sync.Mutex

	handler   func(label byte, data []byte)
	handlerMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	connected atomic.Bool
	done      *closeOnce
	wg        sync.WaitGroup

	framesTx      atomic.Uint64
	framesRx      atomic.Uint64
	framesDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64
}

// OpenWidget opens the serial device and starts reading frames. The widget
// closes itself when ctx is cancelled.
func OpenWidget(ctx context.Context, cfg WidgetConfig, exec Executor) (*Widget, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: device path required", ErrInvalidOptions)
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrNotConnected, cfg.Device, err)
	}

	w := NewWidget(port, exec)
	go func() {
		select {
		case <-ctx.Done():
			w.Close() //nolint:errcheck // best effort on shutdown
		case <-w.done.Done():
		}
	}()
	return w, nil
}

// NewWidget wraps an already open port and starts the receive goroutine.
func NewWidget(port io.ReadWriteCloser, exec Executor) *Widget {
	w := &Widget{
		port:   port,
		exec:   exec,
		reader: NewFrameReader(port),
		done:   newCloseOnce(),
	}
	w.connected.Store(true)

	w.wg.Add(1)
	go w.receiveLoop()
	return w
}

// SendMessage frames data and writes it to the port.
func (w *Widget) SendMessage(label byte, data []byte) error {
	if w.isClosed() {
		return ErrClosed
	}
	if !w.IsConnected() {
		return ErrNotConnected
	}

	frame, err := EncodeFrame(label, data)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	_, err = w.port.Write(frame)
	w.writeMu.Unlock()
	if err != nil {
		w.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	w.framesTx.Add(1)
	w.lastActivity.Store(time.Now().Unix())
	return nil
}

// SetMessageHandler sets the callback for inbound frames.
func (w *Widget) SetMessageHandler(handler func(label byte, data []byte)) {
	w.handlerMu.Lock()
	w.handler = handler
	w.handlerMu.Unlock()
}

// SetLogger sets the logger for this widget.
func (w *Widget) SetLogger(logger Logger) {
	w.loggerMu.Lock()
	w.logger = logger
	w.loggerMu.Unlock()
}

// receiveLoop reads frames until the port fails or the widget is closed.
func (w *Widget) receiveLoop() {
	defer w.wg.Done()

	for {
		label, data, err := w.reader.ReadFrame()
		if err != nil {
			if w.handleReadError(err) {
				return
			}
			continue
		}

		w.framesRx.Add(1)
		w.lastActivity.Store(time.Now().Unix())
		if err := w.dispatch(label, data); err != nil {
			if !w.isClosed() {
				w.logError("executor rejected frame, stopping receive loop", err)
			}
			w.connected.Store(false)
			return
		}
	}
}

// handleReadError reports whether the receive loop must stop.
func (w *Widget) handleReadError(err error) bool {
	if w.isClosed() {
		return true
	}

	switch {
	case errors.Is(err, serial.ErrTimeout):
		// Idle line.
		return false
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrInvalidFrame):
		w.framesDropped.Add(1)
		w.logWarn("dropping malformed frame", "error", err)
		return false
	}

	w.errorsTotal.Add(1)
	w.connected.Store(false)
	w.logError("serial read failed", err)
	return true
}

// dispatch posts one frame to the executor.
func (w *Widget) dispatch(label byte, data []byte) error {
	w.handlerMu.RLock()
	handler := w.handler
	w.handlerMu.RUnlock()

	if handler == nil {
		w.framesDropped.Add(1)
		return nil
	}
	return w.exec.Execute(func() { handler(label, data) })
}

func (w *Widget) isClosed() bool {
	select {
	case <-w.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive goroutine and closes the port. Safe to call
// multiple times.
func (w *Widget) Close() error {
	if w.isClosed() {
		return nil
	}
	w.done.Close()
	w.connected.Store(false)

	err := w.port.Close()
	w.wg.Wait()

	w.logInfo("widget closed")
	return err
}

// IsConnected returns true while the port is readable.
func (w *Widget) IsConnected() bool {
	return w.connected.Load()
}

// Stats returns current operational statistics.
func (w *Widget) Stats() WidgetStats {
	return WidgetStats{
		FramesTx:      w.framesTx.Load(),
		FramesRx:      w.framesRx.Load(),
		FramesDropped: w.framesDropped.Load(),
		BytesSkipped:  w.reader.Skipped(),
		ErrorsTotal:   w.errorsTotal.Load(),
		LastActivity:  time.Unix(w.lastActivity.Load(), 0),
		Connected:     w.IsConnected(),
	}
}

func (w *Widget) getLogger() Logger {
	w.loggerMu.RLock()
	defer w.loggerMu.RUnlock()
	return w.logger
}

func (w *Widget) logInfo(msg string, keysAndValues ...any) {
	if logger := w.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (w *Widget) logWarn(msg string, keysAndValues ...any) {
	if logger := w.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (w *Widget) logError(msg string, err error) {
	if logger := w.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
