package correlate

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MatchPolicy decides which End closes a Begin when several qualify.
type MatchPolicy int

const (
	// FirstEncountered takes the first qualifying End in line order.
	FirstEncountered MatchPolicy = iota
	// EarliestTimestamp takes the chronologically nearest qualifying End.
	EarliestTimestamp
)

func (p MatchPolicy) String() string {
	if p == EarliestTimestamp {
		return "earliest"
	}
	return "first"
}

func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "first_encountered":
		return FirstEncountered, nil
	case "earliest", "earliest_timestamp":
		return EarliestTimestamp, nil
	default:
		return FirstEncountered, fmt.Errorf("unknown match policy %q", s)
	}
}

// Row is one reconstructed request. End, Delay and Status stay nil for an open request.
type Row struct {
	ID      string
	Host    string
	Start   string
	End     *string
	Delay   *int64
	Status  *int
	Method  string
	Request string

	startTime time.Time
}

// Sheet is the correlation result of one log file.
type Sheet struct {
	Label  string
	Source string
	Rows   []Row
}

// Correlate pairs Begin and End lines. Every Begin yields a row, in the order Begins are
// encountered; Begins repeating the same id, timestamp and request share one row. Each End
// is consumed by at most one Begin and must be strictly later than it.
func Correlate(lines []string, policy MatchPolicy) []Row {
	var begins []Record
	pool := make(map[Key][]Record)
	for _, line := range lines {
		rec, ok := ParseLine(line)
		if !ok {
			continue
		}
		switch rec.Kind {
		case Begin:
			begins = append(begins, rec)
		case End:
			pool[rec.Key()] = append(pool[rec.Key()], rec)
		}
	}

	var rows []Row
	index := make(map[string]int)
	for _, b := range begins {
		rowKey := b.ID + "\x00" + b.Timestamp + "\x00" + b.Host + "\x00" + b.Method + "\x00" + b.Request
		i, seen := index[rowKey]
		if !seen {
			i = len(rows)
			index[rowKey] = i
			rows = append(rows, Row{
				ID:        b.ID,
				Host:      b.Host,
				Start:     b.Timestamp,
				Method:    b.Method,
				Request:   b.Request,
				startTime: b.Time,
			})
		}

		candidates := pool[b.Key()]
		j := match(candidates, b.Time, policy)
		if j < 0 {
			continue
		}
		e := candidates[j]
		pool[b.Key()] = slices.Delete(candidates, j, j+1)
		rows[i].close(e)
	}
	return rows
}

func match(candidates []Record, after time.Time, policy MatchPolicy) int {
	found := -1
	for j, e := range candidates {
		if !e.Time.After(after) {
			continue
		}
		if policy == FirstEncountered {
			return j
		}
		if found < 0 || e.Time.Before(candidates[found].Time) {
			found = j
		}
	}
	return found
}

func (r *Row) close(e Record) {
	end := e.Timestamp
	status := e.Status
	delay := int64(e.Time.Sub(r.startTime) / time.Second)
	r.End = &end
	r.Status = &status
	r.Delay = &delay
}
