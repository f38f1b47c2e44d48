package badge

import "github.com/eventcrew/eventcrew-backend/types"

// Aggregator reduces notifications to a BadgeSnapshot using Categorize.
// A nil Categorize uses DefaultMapping.
type Aggregator struct {
	Categorize Categorizer
}

// NewAggregator returns an Aggregator classifying with m.
func NewAggregator(m Mapping) Aggregator {
	return Aggregator{Categorize: m.Categorizer()}
}

// Aggregate counts unread notifications. Read notifications are ignored, the
// result does not depend on input order, and ByEventID only holds events with
// at least one unread notification.
func (a Aggregator) Aggregate(ns []types.Notification) types.BadgeSnapshot {
	categorize := a.Categorize
	if categorize == nil {
		categorize = Categorize
	}

	snap := types.BadgeSnapshot{ByEventID: map[string]int{}}
	for i := range ns {
		n := &ns[i]
		if n.IsRead() {
			continue
		}
		snap.Total++
		switch categorize(n.Type) {
		case types.CategoryCriados:
			snap.Criados++
		case types.CategoryParticipo:
			snap.Participo++
		case types.CategorySolicitacoes:
			snap.Solicitacoes++
		default:
			snap.Other++
		}
		if n.EventID != nil {
			snap.ByEventID[*n.EventID]++
		}
	}
	return snap
}

// Aggregate reduces ns with DefaultMapping.
func Aggregate(ns []types.Notification) types.BadgeSnapshot {
	return Aggregator{}.Aggregate(ns)
}

// Unread returns the unread subset of ns in input order.
func Unread(ns []types.Notification) []types.Notification {
	out := make([]types.Notification, 0, len(ns))
	for _, n := range ns {
		if !n.IsRead() {
			out = append(out, n)
		}
	}
	return out
}
