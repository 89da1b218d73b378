// Package store defines the Key Store contract and the field-filter/update
// shapes the Reservation Engine's compare-and-set relies on. Concrete
// backends (memory.go, bolt.go, redis.go) implement
// KeyStore; the rest of the core never imports a specific backend.
package store

import (
	"context"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
)

// Filter pins zero or more fields to exact values. A nil/zero field means
// "don't constrain on this field". SubscriptionID, when set, always narrows
// to a single document since it is globally unique.
type Filter struct {
	SubscriptionID string
	HasSubID       bool

	Status   domain.Status
	HasState bool

	// CAS pins: only set when the caller is filtering on the exact prior
	// values it observed, i.e. during FindOneAndUpdate.
	UsedInWindow *int
	WindowStart  *int64
	UsedDaily    *int
	DayStart     *int64
	LastUsed     *int64
}

// WithSubscriptionID returns a Filter matching exactly one key by id.
func WithSubscriptionID(id string) Filter {
	return Filter{SubscriptionID: id, HasSubID: true}
}

// Update carries a set/unset patch, mirroring a Mongo-shaped
// updateOne(filter, {set, unset}) contract. Unset is rarely used here
// (no field in Key is ever removed) but kept so the contract is complete.
type Update struct {
	Set   map[string]any
	Unset []string
}

// KeyStore is the durable per-key document store every core component
// consumes. Backends must make UpdateOne and FindOneAndUpdate atomic per
// document.
type KeyStore interface {
	FindAll(ctx context.Context, filter Filter) ([]domain.Key, error)
	FindOne(ctx context.Context, filter Filter) (domain.Key, bool, error)
	InsertOne(ctx context.Context, key domain.Key) error
	// UpdateOne applies upd to every document matching filter and reports
	// how many documents matched (0 or 1 for a SubscriptionID filter).
	UpdateOne(ctx context.Context, filter Filter, upd Update) (matched int, err error)
	// FindOneAndUpdate atomically applies upd to the document matching
	// filter and returns its post-image, or ok=false if nothing matched
	// (i.e. the CAS lost).
	FindOneAndUpdate(ctx context.Context, filter Filter, upd Update) (doc domain.Key, ok bool, err error)
	DeleteOne(ctx context.Context, subscriptionID string) error
}

// applyUpdate produces the post-image of applying upd to k. Shared by the
// memory and bolt backends, whose "atomicity" comes from a per-document (or
// whole-store) lock rather than a server-side script.
func applyUpdate(k domain.Key, upd Update) domain.Key {
	for field, v := range upd.Set {
		setField(&k, field, v)
	}
	for _, field := range upd.Unset {
		zeroField(&k, field)
	}
	return k
}

func setField(k *domain.Key, field string, v any) {
	switch field {
	case "plan":
		k.Plan = v.(domain.Plan)
	case "status":
		k.Status = v.(domain.Status)
	case "windowLimit":
		k.WindowLimit = v.(int)
	case "dailyLimit":
		k.DailyLimit = v.(int)
	case "avgIntervalMs":
		k.AvgIntervalMs = v.(int64)
	case "usedInWindow":
		k.UsedInWindow = v.(int)
	case "windowStart":
		k.WindowStart = v.(int64)
	case "usedDaily":
		k.UsedDaily = v.(int)
	case "dayStart":
		k.DayStart = v.(int64)
	case "lastUsed":
		k.LastUsed = v.(int64)
	}
}

func zeroField(k *domain.Key, field string) {
	switch field {
	case "usedInWindow":
		k.UsedInWindow = 0
	case "usedDaily":
		k.UsedDaily = 0
	case "lastUsed":
		k.LastUsed = 0
	}
}

// matches reports whether k satisfies filter, including the CAS pins.
func matches(k domain.Key, f Filter) bool {
	if f.HasSubID && k.SubscriptionID != f.SubscriptionID {
		return false
	}
	if f.HasState && k.Status != f.Status {
		return false
	}
	if f.UsedInWindow != nil && k.UsedInWindow != *f.UsedInWindow {
		return false
	}
	if f.WindowStart != nil && k.WindowStart != *f.WindowStart {
		return false
	}
	if f.UsedDaily != nil && k.UsedDaily != *f.UsedDaily {
		return false
	}
	if f.DayStart != nil && k.DayStart != *f.DayStart {
		return false
	}
	if f.LastUsed != nil && k.LastUsed != *f.LastUsed {
		return false
	}
	return true
}
