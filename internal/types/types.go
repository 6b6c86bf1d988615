package types

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateKey       = errors.New("alert already exists")
	ErrNotFound           = errors.New("alert not found")
	ErrSourceUnavailable  = errors.New("price unavailable")
	ErrNotificationFailed = errors.New("notification failed")
	ErrInvalidAlert       = errors.New("invalid alert")
	ErrClosed             = errors.New("alert service is shut down")
)

// Direction tells on which side of the threshold an alert fires.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// ParseDirection accepts "above"/"below" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", errors.Wrapf(ErrInvalidAlert, "direction must be 'above' or 'below', got %q", s)
}

// Crossed reports whether price satisfies the alert condition. Both bounds are inclusive.
func (d Direction) Crossed(price, threshold float64) bool {
	switch d {
	case Above:
		return price >= threshold
	case Below:
		return price <= threshold
	}
	return false
}

// Status is the in-memory lifecycle of a registered alert. It is never persisted.
type Status int

const (
	Active Status = iota
	Removing
	Removed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Removing:
		return "removing"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// AlertRecord is one price-threshold watch, keyed by symbol.
type AlertRecord struct {
	Symbol    string    `json:"symbol"`
	Threshold float64   `json:"threshold"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NewAlertRecord normalizes and validates the user supplied fields.
func NewAlertRecord(symbol string, threshold float64, direction Direction) (AlertRecord, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" || strings.ContainsAny(symbol, " \t\n") {
		return AlertRecord{}, errors.Wrapf(ErrInvalidAlert, "invalid symbol %q", symbol)
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return AlertRecord{}, errors.Wrapf(ErrInvalidAlert, "threshold must be a positive number, got %v", threshold)
	}
	if direction != Above && direction != Below {
		return AlertRecord{}, errors.Wrapf(ErrInvalidAlert, "unknown direction %q", direction)
	}

	return AlertRecord{
		Symbol:    symbol,
		Threshold: threshold,
		Direction: direction,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Notification is what a firing watcher hands to the notification sink.
type Notification struct {
	Symbol    string
	Threshold float64
	Price     float64
	Direction Direction
}

type RemovalReason string

const (
	ReasonTriggered RemovalReason = "triggered"
	ReasonCancelled RemovalReason = "cancelled"
)

// RemovalRequest asks the coordinator to drop an alert from the registry and the store.
type RemovalRequest struct {
	Symbol  string
	WatchID string
	Reason  RemovalReason
	// Price that crossed the threshold, zero for cancellations.
	Price float64
}

// Removal is the outcome of one processed RemovalRequest.
type Removal struct {
	Request RemovalRequest
	Record  AlertRecord
	// Err is set when the store delete failed; the alert is gone from memory regardless.
	Err error
}
