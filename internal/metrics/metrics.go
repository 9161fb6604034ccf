// Package metrics exposes prometheus counters for settlement decisions,
// ledger fallbacks and the storage-fee pass.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementDecisions counts payment resolver outcomes by outcome and path.
	SettlementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nano_storage_settlement_decisions_total",
		Help: "Download settlement decisions by outcome and payment path.",
	}, []string{"outcome", "path"})

	// LedgerFallbacks counts credit ledger operations served from the local cache.
	LedgerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nano_storage_ledger_fallbacks_total",
		Help: "Credit ledger operations that fell back to the local balance cache.",
	}, []string{"operation", "reason"})

	// StorageFeeWallets counts wallets handled by the storage-fee pass by result.
	StorageFeeWallets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nano_storage_storage_fee_wallets_total",
		Help: "Wallets processed by the storage-fee pass.",
	}, []string{"result"})

	// FileTransitions counts lifecycle transitions applied by the storage-fee pass.
	FileTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nano_storage_file_transitions_total",
		Help: "File lifecycle transitions applied by the storage-fee pass.",
	}, []string{"transition"})

	// NoncesSwept counts payment records removed by the retention sweep.
	NoncesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nano_storage_payment_records_swept_total",
		Help: "Payment records deleted by the retention sweep.",
	})
)
