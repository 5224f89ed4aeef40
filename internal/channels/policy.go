package channels

import (
	"github.com/shuv1337/shuvbot/internal/config"
)

// EffectivePolicy is the fully merged, default-applied policy used to gate
// one event.
type EffectivePolicy struct {
	Enabled        bool
	RequireMention bool
	// Restricted means only senders in AllowFrom pass. When false the
	// allow-list is not consulted.
	Restricted bool
	AllowFrom  []string
	// Pairing is set for DMs under dmPolicy=pairing: unknown senders may
	// request access. Groups never issue pairing codes.
	Pairing bool
	// UsesStore reports whether the dynamic allow-list of approved senders
	// supplements AllowFrom. Set for every restricted DM or group policy.
	UsesStore bool
}

// Allows reports whether the sender passes the static allow-list.
func (p EffectivePolicy) Allows(senderIDs ...string) bool {
	if !p.Restricted {
		return true
	}
	return IsAllowed(p.AllowFrom, senderIDs...)
}

// ResolveGroupPolicy computes the effective policy for groupID on the given
// account. Each field is taken from the group's own entry when set there,
// else from the "*" entry, else from the hard default (enabled, mention
// required, senders unrestricted unless the account has a group allow-list).
// The account's group map replaces the channel map when it defines one.
func ResolveGroupPolicy(sig *config.SignalConfig, accountID, groupID string) EffectivePolicy {
	return resolveGroup(sig.ResolveAccount(accountID), groupID)
}

func resolveGroup(acct config.SignalAccount, groupID string) EffectivePolicy {
	wildcard := acct.Groups[config.WildcardGroup]
	var specific config.GroupConfig
	if groupID != "" && groupID != config.WildcardGroup {
		specific = acct.Groups[groupID]
	}

	p := EffectivePolicy{
		Enabled:        pickBool(true, specific.Enabled, wildcard.Enabled),
		RequireMention: pickBool(true, specific.RequireMention, wildcard.RequireMention),
		AllowFrom:      pickList(specific.AllowFrom, wildcard.AllowFrom, acct.GroupAllowFrom),
	}
	p.Restricted = p.AllowFrom != nil

	switch GroupPolicy(acct.GroupPolicy) {
	case GroupPolicyDisabled:
		p.Enabled = false
	case GroupPolicyAllowlist:
		p.Restricted = true
	}
	p.UsesStore = p.Restricted
	if !acct.Enabled {
		p.Enabled = false
	}
	return p
}

// ResolveDMPolicy computes the effective policy for direct messages on the
// given account. DMs have no group concept: dmPolicy and allowFrom apply.
func ResolveDMPolicy(sig *config.SignalConfig, accountID string) EffectivePolicy {
	return resolveDM(sig.ResolveAccount(accountID))
}

func resolveDM(acct config.SignalAccount) EffectivePolicy {
	p := EffectivePolicy{Enabled: acct.Enabled, AllowFrom: acct.AllowFrom}

	switch DMPolicy(acct.DMPolicy) {
	case DMPolicyDisabled:
		p.Enabled = false
	case DMPolicyOpen:
		// unrestricted
	case DMPolicyAllowlist, DMPolicyClosed:
		p.Restricted = true
		p.UsesStore = true
	default: // "pairing"
		p.Restricted = true
		p.UsesStore = true
		p.Pairing = true
	}
	return p
}

func pickBool(def bool, layers ...*bool) bool {
	for _, b := range layers {
		if b != nil {
			return *b
		}
	}
	return def
}

// pickList returns the first list that is set. An explicit empty list is set
// and admits nobody; only a nil list falls through to the next layer.
func pickList(layers ...[]string) []string {
	for _, l := range layers {
		if l != nil {
			return l
		}
	}
	return nil
}
