package session

import (
	"time"

	"github.com/teslashibe/voiceops/pkg/voice"
)

// TranscriptEvent is one retained transcript update.
type TranscriptEvent struct {
	Seq   int        `json:"seq"`
	Role  voice.Role `json:"role"`
	Text  string     `json:"text"`
	Final bool       `json:"final"`
	At    time.Time  `json:"at"`
}

// TranscriptLine is what a display shows for one role-turn.
type TranscriptLine struct {
	Role  voice.Role `json:"role"`
	Text  string     `json:"text"`
	Final bool       `json:"final"`
}

// View collapses events so each role-turn keeps only its latest text.
// A non-final line is replaced by the next event of the same role.
func View(events []TranscriptEvent) []TranscriptLine {
	lines := make([]TranscriptLine, 0, len(events))
	open := map[voice.Role]int{}
	for _, ev := range events {
		if i, ok := open[ev.Role]; ok {
			lines[i] = TranscriptLine{Role: ev.Role, Text: ev.Text, Final: ev.Final}
		} else {
			lines = append(lines, TranscriptLine{Role: ev.Role, Text: ev.Text, Final: ev.Final})
			i = len(lines) - 1
			open[ev.Role] = i
		}
		if ev.Final {
			delete(open, ev.Role)
		}
	}
	return lines
}
