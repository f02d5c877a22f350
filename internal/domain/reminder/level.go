package reminder

import "fmt"

// Level is the urgency tier of a reminder for one (cycle, recipient) pair.
type Level int

const (
	LevelNone     Level = 0
	LevelGentle   Level = 1 // Before the due date
	LevelStandard Level = 2
	LevelUrgent   Level = 3
	LevelFinal    Level = 4 // Final notice
	LevelCritical Level = 5 // Terminal escalation after the final notice went out
)

var levelNames = map[Level]string{
	LevelNone:     "none",
	LevelGentle:   "gentle",
	LevelStandard: "standard",
	LevelUrgent:   "urgent",
	LevelFinal:    "final_notice",
	LevelCritical: "critical",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is within 0..5.
func (l Level) Valid() bool {
	return l >= LevelNone && l <= LevelCritical
}
