package mood

import "time"

// Mood is a closed enum of the emotional signals a participant can vote.
type Mood string

const (
	MoodHappy      Mood = "happy"
	MoodExcited    Mood = "excited"
	MoodCalm       Mood = "calm"
	MoodCozy       Mood = "cozy"
	MoodCurious    Mood = "curious"
	MoodMelancholy Mood = "melancholy"
	MoodTense      Mood = "tense"
	MoodBored      Mood = "bored"
)

// All lists every valid mood in canonical order. Summary computation folds
// over this fixed set so counter maps stay bounded.
var All = []Mood{
	MoodHappy,
	MoodExcited,
	MoodCalm,
	MoodCozy,
	MoodCurious,
	MoodMelancholy,
	MoodTense,
	MoodBored,
}

// Valid reports whether m is a member of the closed mood set.
func Valid(m Mood) bool {
	for _, known := range All {
		if m == known {
			return true
		}
	}
	return false
}

const (
	MinIntensity = 1
	MaxIntensity = 5
)

// Vote is a per-user, per-moment mood signal. At most one vote exists per
// (moment, user) pair; a new vote overwrites mood, intensity and timestamp.
type Vote struct {
	MomentID  string    `json:"moment_id"`
	UserID    string    `json:"user_id"`
	Mood      Mood      `json:"mood"`
	Intensity int       `json:"intensity"`
	CreatedAt time.Time `json:"created_at"`
}

// DominantMood is one entry of a summary's top-moods ranking.
type DominantMood struct {
	Mood       Mood `json:"mood"`
	Count      int  `json:"count"`
	Percentage int  `json:"percentage"`
}

// Summary is the aggregated mood state of a moment.
type Summary struct {
	MomentID   string         `json:"moment_id"`
	TotalVotes int            `json:"total_votes"`
	Counts     map[Mood]int   `json:"counts"`
	Dominant   []DominantMood `json:"dominant"`
}
