package domain

import (
	"strconv"
	"strings"
	"time"
)

// VerifyRequest is the legacy verifyReceipt request body.
type VerifyRequest struct {
	ReceiptData            string `json:"receipt-data"`
	Password               string `json:"password,omitempty"`
	ExcludeOldTransactions bool   `json:"exclude-old-transactions"`
}

type VerifyResponse struct {
	Status            int             `json:"status"`
	Environment       string          `json:"environment"`
	IsRetryable       bool            `json:"is-retryable"`
	Receipt           ReceiptBody     `json:"receipt"`
	LatestReceiptInfo []PurchaseEntry `json:"latest_receipt_info"`
}

type ReceiptBody struct {
	BundleID string          `json:"bundle_id"`
	InApp    []PurchaseEntry `json:"in_app"`
}

// PurchaseEntry is one in-app purchase record. Apple encodes the
// millisecond timestamps as strings.
type PurchaseEntry struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMs        string `json:"purchase_date_ms"`
	ExpiresDateMs         string `json:"expires_date_ms"`
}

func (e PurchaseEntry) PurchaseDate() time.Time {
	return msTime(e.PurchaseDateMs)
}

func (e PurchaseEntry) ExpiresDate() time.Time {
	return msTime(e.ExpiresDateMs)
}

func msTime(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Entries prefers latest_receipt_info, which carries renewals, over the
// receipt's own in_app list.
func (r *VerifyResponse) Entries() []PurchaseEntry {
	if len(r.LatestReceiptInfo) > 0 {
		return r.LatestReceiptInfo
	}
	return r.Receipt.InApp
}

// ActiveEntry returns the entry with the latest expiry strictly after now.
func ActiveEntry(entries []PurchaseEntry, now time.Time) (PurchaseEntry, bool) {
	var best PurchaseEntry
	var bestExpiry time.Time
	found := false
	for _, e := range entries {
		exp := e.ExpiresDate()
		if exp.IsZero() || !exp.After(now) {
			continue
		}
		if !found || exp.After(bestExpiry) {
			best, bestExpiry, found = e, exp, true
		}
	}
	return best, found
}
