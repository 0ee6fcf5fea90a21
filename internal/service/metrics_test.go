package service

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums a counter family, filtered by one label pair when label != "".
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if match {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDelivery("processed")
		m.ObserveCredit("BTC")
		m.ObserveRefund(nil)
		m.ObserveDrop("audit")
		m.ObserveRedelivery(errors.New("x"))
		m.ObserveQuote("fallback")
	})
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCredit("BTC")
	m.ObserveCredit("BTC")
	m.ObserveRefund(errors.New("store down"))
	m.ObserveQuote("fallback")

	assert.Equal(t, 2.0, counterValue(t, reg, "custody_ledger_deposit_credited_total", "asset", "BTC"))
	assert.Equal(t, 1.0, counterValue(t, reg, "custody_ledger_ledger_withdrawal_refunds_total", "result", "error"))
	assert.Equal(t, 0.0, counterValue(t, reg, "custody_ledger_ledger_withdrawal_refunds_total", "result", "ok"))
	assert.Equal(t, 1.0, counterValue(t, reg, "custody_ledger_prices_quotes_total", "source", "fallback"))
}
