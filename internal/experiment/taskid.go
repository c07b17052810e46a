package experiment

import (
	"fmt"
	"time"
)

// TaskID builds "<task>.<YYYY.MM.DD>.<participant>.<age:02>.<trial:03>" for the given date.
func TaskID(p Participant, date time.Time) string {
	return fmt.Sprintf("%s.%s.%d.%02d.%03d",
		p.TaskName,
		date.Format("2006.01.02"),
		p.ParticipantID,
		p.AgeMonths,
		p.TrialNumber,
	)
}
