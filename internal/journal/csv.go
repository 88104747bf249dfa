package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"sensextrader/internal/signal"
)

// timeLayout matches the timestamps the dashboards parse.
const timeLayout = "2006-01-02 15:04:05"

// csvLog is an append-only CSV file. The header row is written when the file
// is created; every record is flushed immediately so readers polling the
// file see whole rows.
type csvLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

func openCSVLog(path string, header []string) (*csvLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	info, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	l := &csvLog{file: file, writer: csv.NewWriter(file)}
	if fresh {
		if err := l.append(header); err != nil {
			file.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *csvLog) append(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Write(row); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *csvLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}

func f2(x float64) string { return strconv.FormatFloat(x, 'f', 2, 64) }

// TradeLog appends one row per order attempt, including failures.
type TradeLog struct {
	log *csvLog
}

var tradeHeader = []string{
	"timestamp", "strategy", "action", "instrument", "quantity",
	"price", "status", "mode", "order_id", "message",
}

func NewTradeLog(path string) (*TradeLog, error) {
	l, err := openCSVLog(path, tradeHeader)
	if err != nil {
		return nil, err
	}
	return &TradeLog{log: l}, nil
}

// TradeRecord is one order attempt.
type TradeRecord struct {
	Time       time.Time
	Strategy   string
	Action     string // "BUY", "SELL", "EXIT_STOP_LOSS", ...
	Instrument string
	Quantity   int
	Price      float64
	Status     string // "success" or "error"
	Mode       string // "paper" or "live"
	OrderID    string
	Message    string
}

func (t *TradeLog) Append(r TradeRecord) error {
	return t.log.append([]string{
		r.Time.Format(timeLayout),
		r.Strategy,
		r.Action,
		r.Instrument,
		strconv.Itoa(r.Quantity),
		f2(r.Price),
		r.Status,
		r.Mode,
		r.OrderID,
		r.Message,
	})
}

func (t *TradeLog) Close() error { return t.log.close() }

// SignalLog appends one row per evaluated signal, accepted or rejected.
type SignalLog struct {
	log *csvLog
}

var signalHeader = []string{
	"timestamp", "strategy", "symbol", "direction", "entry", "target",
	"stop", "confidence", "strength", "status", "reason",
}

func NewSignalLog(path string) (*SignalLog, error) {
	l, err := openCSVLog(path, signalHeader)
	if err != nil {
		return nil, err
	}
	return &SignalLog{log: l}, nil
}

// Signal evaluation outcomes.
const (
	SignalExecuted = "executed"
	SignalRejected = "rejected"
	SignalInvalid  = "invalid"
	SignalFailed   = "failed"
)

func (s *SignalLog) Append(at time.Time, sig signal.Signal, status, reason string) error {
	return s.log.append([]string{
		at.Format(timeLayout),
		sig.Strategy,
		sig.Asset,
		string(sig.Direction),
		f2(sig.Entry),
		f2(sig.Target),
		f2(sig.Stop),
		f2(sig.Confidence),
		f2(sig.Strength),
		status,
		reason,
	})
}

func (s *SignalLog) Close() error { return s.log.close() }
