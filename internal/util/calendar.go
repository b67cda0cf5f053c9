package util

import (
	"time"
)

// TradingCalendar provides market-hours awareness for US equities in a
// configurable exchange timezone.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given IANA timezone
// name (normally "America/New_York").
func NewTradingCalendar(tzName string) (*TradingCalendar, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, err
	}
	return &TradingCalendar{loc: loc}, nil
}

// IsMarketOpen reports whether the US equity market regular session
// (9:30-16:00 exchange time, Monday-Friday) is open at time t. Exchange
// holidays are not modelled; the broker rejects orders on those days anyway.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	open := 9*60 + 30
	close := 16 * 60
	return minutes >= open && minutes <= close
}

// TodayKey returns the current date in the calendar's timezone formatted as
// YYYY-MM-DD, used to key per-day risk state.
func (tc *TradingCalendar) TodayKey(now time.Time) string {
	return now.In(tc.loc).Format("2006-01-02")
}
