package engine

import "fmt"

// Feature is a closed enumeration of gateable surfaces. A closed enum
// (rather than string keys) makes an unknown feature a compile-time or
// validation error instead of a silently ignored toggle.
type Feature uint8

const (
	// FeatureBuy gates the purchase surfaces: ExecuteOrder and BatchMatchOrders.
	FeatureBuy Feature = iota
	// FeatureCancel gates the termination surfaces: cancel and refund, single and batch.
	FeatureCancel
)

func (f Feature) String() string {
	switch f {
	case FeatureBuy:
		return "buy"
	case FeatureCancel:
		return "cancel"
	default:
		return fmt.Sprintf("feature(%d)", uint8(f))
	}
}

// FeatureFromString parses the wire name of a feature.
func FeatureFromString(s string) (Feature, error) {
	switch s {
	case "buy":
		return FeatureBuy, nil
	case "cancel":
		return FeatureCancel, nil
	default:
		return 0, fmt.Errorf("unknown feature %q", s)
	}
}

func (f Feature) valid() bool {
	return f == FeatureBuy || f == FeatureCancel
}
