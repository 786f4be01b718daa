package aliases

import "strings"

type Tier int

const (
	TierStandard Tier = iota
	TierLarge
)

// ClassifyTier reports TierLarge for any id naming an opus-class model.
func ClassifyTier(id string) Tier {
	if strings.Contains(strings.ToLower(id), "opus") {
		return TierLarge
	}
	return TierStandard
}

func (t Tier) String() string {
	if t == TierLarge {
		return "large"
	}
	return "standard"
}

func (t Tier) ParameterSize() string {
	if t == TierLarge {
		return "400B"
	}
	return "200B"
}

func (t Tier) ParameterCount() int64 {
	if t == TierLarge {
		return 400_000_000_000
	}
	return 200_000_000_000
}

func (t Tier) Description() string {
	if t == TierLarge {
		return "Most powerful model for highly complex tasks"
	}
	return "Our most intelligent model"
}
