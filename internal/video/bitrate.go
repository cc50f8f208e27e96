package video

// Tier is the encoder bitrate class picked from the recording width.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

// Bitrates in bits per second for each tier
const (
	BitrateLow    = 4_000_000
	BitrateMedium = 8_000_000
	BitrateHigh   = 12_000_000
)

// TierFor picks the tier by width: >=1920 high, >=1280 medium, anything
// smaller low.
func TierFor(r Resolution) Tier {
	switch {
	case r.Width >= 1920:
		return TierHigh
	case r.Width >= 1280:
		return TierMedium
	default:
		return TierLow
	}
}

// Bitrate returns the encoder target for the tier.
func (t Tier) Bitrate() int {
	switch t {
	case TierHigh:
		return BitrateHigh
	case TierMedium:
		return BitrateMedium
	default:
		return BitrateLow
	}
}

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}
