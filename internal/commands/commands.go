package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/registry"
	"price-alert-bot/internal/types"
	"price-alert-bot/lib/helpers"
	"price-alert-bot/lib/translation"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	CommandAlert  = "alert"
	CommandAlerts = "alerts"
	CommandCancel = "cancel_alert"
	CommandHelp   = "help"
	CommandStart  = "start"
)

// Service is the alert supervisor as seen by the command layer.
type Service interface {
	Create(ctx context.Context, symbol string, threshold float64, direction types.Direction) (types.AlertRecord, error)
	Cancel(symbol string) error
	List() []registry.Snapshot
}

// PriceLookup exposes the last price seen by the watchers, if any.
type PriceLookup interface {
	LastPrice(symbol string) (float64, time.Time, bool)
}

// Handler turns command lines into supervisor calls and plain text replies.
type Handler struct {
	service Service
	prices  PriceLookup
	metrics *metrics.Metrics

	// alertsDisabled, when set, is the reply to every alert command.
	alertsDisabled string
}

// NewHandler returns a Handler. prices and m may be nil.
func NewHandler(service Service, prices PriceLookup, m *metrics.Metrics) *Handler {
	return &Handler{service: service, prices: prices, metrics: m}
}

// DisableAlerts stops the alert command from creating alerts. Listing and canceling keep working.
func (h *Handler) DisableAlerts(reason string) {
	h.alertsDisabled = reason
}

// Execute runs a full command line such as "alert AAPL 150 above".
func (h *Handler) Execute(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return h.Run(ctx, fields[0], strings.Join(fields[1:], " "))
}

// Run executes command with its raw arguments. Unknown commands get the help text.
func (h *Handler) Run(ctx context.Context, command, args string) string {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))
	log.Debugf("received command: %s", command)

	switch command {
	case CommandAlert:
		h.metrics.CommandProcessed()
		return h.alert(ctx, strings.Fields(args))
	case CommandAlerts:
		h.metrics.CommandProcessed()
		return h.list()
	case CommandCancel:
		h.metrics.CommandProcessed()
		return h.cancel(strings.Fields(args))
	case CommandHelp, CommandStart:
		h.metrics.CommandProcessed()
	}
	return Help()
}

func Help() string {
	return strings.Join([]string{
		translation.Translate("Available commands:"),
		"- " + translation.Translate("alert SYMBOL PRICE DIRECTION: Set price alert (direction: above/below)"),
		"- " + translation.Translate("alerts: List active alerts"),
		"- " + translation.Translate("cancel_alert SYMBOL: Cancel alert for symbol"),
	}, "\n")
}

func (h *Handler) alert(ctx context.Context, args []string) string {
	if h.alertsDisabled != "" {
		return h.alertsDisabled
	}
	if len(args) != 3 {
		return translation.Translate("Usage: alert SYMBOL PRICE DIRECTION")
	}

	threshold, err := parsePrice(args[1])
	if err != nil {
		return translation.Translate("Invalid price %q. Use a positive number such as 150 or 0.25.", args[1])
	}

	direction, err := types.ParseDirection(args[2])
	if err != nil {
		return translation.Translate("Direction must be 'above' or 'below'.")
	}

	thresholdFloat, _ := threshold.Float64()
	rec, err := h.service.Create(ctx, args[0], thresholdFloat, direction)
	switch {
	case err == nil:
		return translation.Translate("Alert set for %s %s %s", rec.Symbol, translation.Translate(string(rec.Direction)), threshold.String())
	case errors.Is(err, types.ErrDuplicateKey):
		return translation.Translate("Alert for %s already exists. Cancel it first.", types.NormalizeSymbol(args[0]))
	case errors.Is(err, types.ErrInvalidAlert):
		return translation.Translate("Invalid alert: %v", err)
	case errors.Is(err, types.ErrClosed):
		return translation.Translate("Alerts are unavailable while the bot is shutting down.")
	default:
		log.Errorf("Failed to create alert for %s: %v", args[0], err)
		return translation.Translate("Failed to save alert. Please try again later.")
	}
}

// parsePrice rejects NaN and Inf along with non-positive values.
func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		return decimal.Zero, errors.Wrapf(types.ErrInvalidAlert, "price %q: %v", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.Wrapf(types.ErrInvalidAlert, "price %q must be positive", s)
	}
	return d, nil
}

func (h *Handler) list() string {
	alerts := h.service.List()
	if len(alerts) == 0 {
		return translation.Translate("No active alerts.")
	}

	lines := []string{translation.Translate("Active alerts:")}
	for _, a := range alerts {
		rec := a.Record
		line := fmt.Sprintf("  %s: %s %s", rec.Symbol, translation.Translate(string(rec.Direction)), decimal.NewFromFloat(rec.Threshold).String())

		if !rec.CreatedAt.IsZero() {
			line += translation.Translate(", set %s", humanize.Time(rec.CreatedAt))
		}
		if h.prices != nil {
			if last, at, ok := h.prices.LastPrice(rec.Symbol); ok {
				line += translation.Translate(", last %s %s", helpers.FormatPriceUS(last, false), humanize.Time(at))
			}
		}
		if a.Status != types.Active {
			line += fmt.Sprintf(" (%s)", translation.Translate(a.Status.String()))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cancel(args []string) string {
	if len(args) != 1 {
		return translation.Translate("Usage: cancel_alert SYMBOL")
	}
	symbol := types.NormalizeSymbol(args[0])

	err := h.service.Cancel(symbol)
	switch {
	case err == nil:
		return translation.Translate("Canceling alert for %s.", symbol)
	case errors.Is(err, types.ErrNotFound):
		return translation.Translate("No active alert for %s.", symbol)
	case errors.Is(err, types.ErrClosed):
		return translation.Translate("Alerts are unavailable while the bot is shutting down.")
	default:
		log.Errorf("Failed to cancel alert for %s: %v", symbol, err)
		return translation.Translate("Failed to cancel alert. Please try again later.")
	}
}
