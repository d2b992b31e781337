package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Kathmandu")
	if err != nil {
		panic(err)
	}
}

// force the timezone to portal-local time, the portal publishes its
// open/close dates without offsets and interprets them in Nepal time,
// so deriving Year()/Month()/Day() in the server's zone can be a day off
func Now() time.Time {
	return time.Now().In(Location)
}

// parses a date the way the portal renders it, e.g. "Aug 21, 2026",
// falling back to ISO if the layout ever changes server-side
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("Jan 2, 2006", s, Location)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, Location)
}
