// Package badge classifies notifications into UI categories, filters decaying
// notifications by age and reduces a notification collection to unread counters.
// Everything here is pure: no I/O, no errors, no shared state.
package badge

import (
	"fmt"
	"io"
	"sort"

	"github.com/eventcrew/eventcrew-backend/types"
	"gopkg.in/yaml.v3"
)

// Categorizer maps a notification type to its UI category. Implementations must
// be total: unknown types resolve to types.CategoryOther.
type Categorizer func(types.NotificationType) types.Category

// Mapping is a type to category table. Types missing from the table are "other".
type Mapping map[types.NotificationType]types.Category

// DefaultMapping is the authoritative table.
var DefaultMapping = Mapping{
	types.NotificationTypeNewRequest:      types.CategoryCriados,
	types.NotificationTypeRequestAccepted: types.CategoryParticipo,
	types.NotificationTypeEventUpdated:    types.CategoryParticipo,
	types.NotificationTypeEventCancelled:  types.CategoryParticipo,
	types.NotificationTypeRequestRejected: types.CategorySolicitacoes,
}

// Categorize returns the category of t, or CategoryOther when t is not mapped.
func (m Mapping) Categorize(t types.NotificationType) types.Category {
	if c, ok := m[t]; ok {
		return c
	}
	return types.CategoryOther
}

// Categorizer returns m as a Categorizer.
func (m Mapping) Categorizer() Categorizer {
	return m.Categorize
}

// Unclassified returns the known notification types that m sends to "other", sorted.
// An empty result means every produced type lands in a counted category.
func (m Mapping) Unclassified() []types.NotificationType {
	var out []types.NotificationType
	for _, t := range types.KnownNotificationTypes {
		if m.Categorize(t) == types.CategoryOther {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Categorize classifies t with DefaultMapping.
func Categorize(t types.NotificationType) types.Category {
	return DefaultMapping.Categorize(t)
}

// LoadMapping parses a YAML document of the form
//
//	new_request: criados
//	request_accepted: participo
//
// into a Mapping. Unknown categories are rejected; unknown types are accepted
// so producers can add types ahead of the table.
func LoadMapping(r io.Reader) (Mapping, error) {
	raw := map[string]string{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode category mapping: %w", err)
	}

	m := make(Mapping, len(raw))
	for typ, cat := range raw {
		c := types.Category(cat)
		if !c.IsValid() {
			return nil, fmt.Errorf("category mapping: type %q has unknown category %q", typ, cat)
		}
		m[types.NotificationType(typ)] = c
	}
	return m, nil
}
