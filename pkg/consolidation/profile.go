package consolidation

import (
	"strings"

	"github.com/kittclouds/sheep/internal/store"
)

// CanonicalUser is the subject label identifying the agent's user.
const CanonicalUser = "user"

// stableTraitPredicates mark traits that persist: identity and
// long-standing circumstances.
var stableTraitPredicates = map[string]bool{
	"name_is":     true,
	"birthday_is": true,
	"born_in":     true,
	"married_to":  true,
	"has_child":   true,
	"studied_at":  true,
}

// MirrorPreferences turns preference-predicate facts about the user into
// preference rows with derived sentiment.
func MirrorPreferences(s *store.Store, facts []*store.Fact) (int, error) {
	mirrored := 0
	for _, f := range facts {
		sentiment, ok := store.PreferencePredicates[f.Predicate]
		if !ok || !strings.EqualFold(f.Subject, CanonicalUser) || !f.IsActive {
			continue
		}
		pref := &store.Preference{
			UserID:       CanonicalUser,
			Category:     f.Predicate,
			Item:         f.Object,
			Sentiment:    sentiment,
			Strength:     f.Confidence,
			SourceFactID: f.ID,
		}
		if err := s.UpsertPreference(pref); err != nil {
			return mirrored, err
		}
		mirrored++
	}
	return mirrored, nil
}

// BuildProfile discriminates stable from transient traits in the user's
// active facts. Stability comes from the predicate class, reinforced by
// confidence and evidence volume: a weakly supported "stable" predicate
// is still treated as transient.
func BuildProfile(facts []*store.Fact) *store.UserProfile {
	profile := &store.UserProfile{
		UserID:          CanonicalUser,
		StableTraits:    map[string]string{},
		TransientTraits: map[string]string{},
	}

	for _, f := range facts {
		if !strings.EqualFold(f.Subject, CanonicalUser) || !f.IsActive {
			continue
		}
		stable := stableTraitPredicates[f.Predicate] ||
			(store.UniquePredicates[f.Predicate] && f.Confidence >= 0.8 && len(f.Evidence) >= 2) ||
			f.UserAffirmed
		if stable {
			profile.StableTraits[f.Predicate] = f.Object
		} else {
			profile.TransientTraits[f.Predicate] = f.Object
		}
	}
	return profile
}
