package parser

// Maturity tells whether a listing row is old enough, and young enough, to scan.
type Maturity int

const (
	TooYoung Maturity = iota
	Mature
	TooOld
)

func (m Maturity) String() string {
	switch m {
	case TooYoung:
		return "too young"
	case Mature:
		return "mature"
	case TooOld:
		return "too old"
	}
	return "unknown"
}

// MaturityWindow holds the age range, in days, of rows worth scanning.
// Rows aged TooYoungDay or less are still collecting votes and comments;
// rows aged TooOldDay or more were handled by an earlier run. A TooOldDay of
// zero leaves the window open-ended.
type MaturityWindow struct {
	TooYoungDay int `json:"too_young_day"`
	TooOldDay   int `json:"too_old_day"`
}

// Classify places an age in days relative to the window.
func (w MaturityWindow) Classify(days int) Maturity {
	if days <= w.TooYoungDay {
		return TooYoung
	}
	if w.TooOldDay > 0 && days >= w.TooOldDay {
		return TooOld
	}
	return Mature
}

// Valid reports whether at least one age can be mature.
func (w MaturityWindow) Valid() bool {
	return w.TooOldDay <= 0 || w.TooOldDay-w.TooYoungDay >= 2
}
