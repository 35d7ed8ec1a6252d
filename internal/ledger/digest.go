package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DomainState is the domain prefix for ledger state digests.
// The version suffix allows the rendering to change without colliding.
const DomainState = "moneyage/state/v1"

// timeLayout is fixed width so rendered timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the fixed-width UTC layout used by digests and the store.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns a content hash of a pool/consumption set. Input order does not
// matter; equal digests mean byte-identical sets.
func Digest(pools []ResourcePool, consumptions []ResourceConsumption) (string, error) {
	ps := slices.Clone(pools)
	slices.SortFunc(ps, func(a, b ResourcePool) int { return strings.Compare(a.ID, b.ID) })
	cs := slices.Clone(consumptions)
	slices.SortFunc(cs, func(a, b ResourceConsumption) int { return strings.Compare(a.ID, b.ID) })

	poolList := make([]any, len(ps))
	for i, p := range ps {
		poolList[i] = poolDocument(p)
	}
	consList := make([]any, len(cs))
	for i, c := range cs {
		consList[i] = consumptionDocument(c)
	}

	canonical, err := MarshalCanonical(map[string]any{
		"pools":        poolList,
		"consumptions": consList,
	})
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

func poolDocument(p ResourcePool) map[string]any {
	doc := map[string]any{
		"id":                    p.ID,
		"income_transaction_id": p.IncomeTransactionID,
		"original_amount":       p.OriginalAmount.String(),
		"remaining_amount":      p.RemainingAmount.String(),
		"consumed_amount":       p.ConsumedAmount.String(),
		"created_at":            FormatTime(p.CreatedAt),
		"seq":                   p.Seq,
		"consumption_count":     p.ConsumptionCount,
		"unfunded":              p.Unfunded,
	}
	if p.FirstConsumedAt != nil {
		doc["first_consumed_at"] = FormatTime(*p.FirstConsumedAt)
	}
	if p.LastConsumedAt != nil {
		doc["last_consumed_at"] = FormatTime(*p.LastConsumedAt)
	}
	if p.FullyConsumedAt != nil {
		doc["fully_consumed_at"] = FormatTime(*p.FullyConsumedAt)
	}
	return doc
}

func consumptionDocument(c ResourceConsumption) map[string]any {
	return map[string]any{
		"id":                     c.ID,
		"resource_pool_id":       c.ResourcePoolID,
		"expense_transaction_id": c.ExpenseTransactionID,
		"amount":                 c.Amount.String(),
		"consumed_at":            FormatTime(c.ConsumedAt),
		"expense_seq":            c.ExpenseSeq,
		"age_days":               c.AgeDays,
	}
}
