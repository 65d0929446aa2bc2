package contracts

import (
	"time"

	hookconfig "github.com/inboundhook/hookservice/internal/config"
)

// FromConfig converts config-shaped subscriptions into Contracts. It
// registers every contract it finds regardless of whether the
// corresponding inbound source is mountable, so stream-sourced events
// still reach contracts even when the HTTP layer is unavailable.
func FromConfig(doc *hookconfig.Document, now time.Time) ([]Contract, error) {
	if doc == nil {
		return nil, nil
	}
	out := make([]Contract, 0, len(doc.Subscriptions))
	for _, sub := range doc.Subscriptions {
		c, err := fromSubscription(sub, now)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func fromSubscription(sub hookconfig.Subscription, now time.Time) (Contract, error) {
	sc, err := NewCriterion(sub.SourceCriterion.Match)
	if err != nil {
		return Contract{}, err
	}
	tc, err := NewCriterion(sub.TypeCriterion.Match)
	if err != nil {
		return Contract{}, err
	}
	props := make([]PropertyCriterion, 0, len(sub.PropertyCriteria))
	for _, pc := range sub.PropertyCriteria {
		crit, err := NewCriterion(pc.Match)
		if err != nil {
			return Contract{}, err
		}
		props = append(props, PropertyCriterion{Key: pc.Key, Criterion: crit})
	}

	origin := OriginProgrammatic
	var ttl time.Time
	if sub.TTLSeconds > 0 {
		origin = OriginPersisted
		ttl = now.Add(time.Duration(sub.TTLSeconds) * time.Second)
	}

	c := Contract{
		ID:               sub.ID,
		SourceCriterion:  sc,
		TypeCriterion:    tc,
		PropertyCriteria: props,
		Target: Target{
			Handler:       sub.Target.Handler,
			URL:           sub.Target.URL,
			SigningSecret: sub.Target.SigningSecret,
			TimeoutMS:     sub.Target.TimeoutMS,
		},
		Origin:       origin,
		TTLExpiresAt: ttl,
	}
	return c, c.Validate()
}
