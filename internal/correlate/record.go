package correlate

import (
	"regexp"
	"strconv"
	"time"
)

// TimestampLayout is the jetty log line timestamp format.
const TimestampLayout = "2006-01-02 15:04:05.000"

type Kind int

const (
	Begin Kind = iota + 1
	End
)

func (k Kind) String() string {
	switch k {
	case Begin:
		return "begin"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Record is one parsed AccessLog line. Status is only set for End records.
type Record struct {
	Kind      Kind
	Timestamp string
	Time      time.Time
	ID        string
	Host      string
	Method    string
	Request   string
	Status    int
}

// Key identifies the request a Begin or End line belongs to.
type Key struct {
	ID      string
	Host    string
	Method  string
	Request string
}

func (r Record) Key() Key {
	return Key{ID: r.ID, Host: r.Host, Method: r.Method, Request: r.Request}
}

var (
	beginPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}) \[(.*?)\] INFO  c.j.d.api.common.logging.AccessLog - \{"fn":"B","ts":"(.*?)","ip":".*?","ri":".*?","ht":"(.*?)","md":"(.*?)","cm":"(.+?)","tm":.*?,"cs":-1,"ca":-1\}`)
	endPattern   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}) \[(.*?)\] INFO  c.j.d.api.common.logging.AccessLog - \{"fn":"E","ts":"(.*?)","te":.*?,"ip":".*?","ri":".*?","ht":"(.*?)","md":"(.*?)","cm":"(.+?)","st":(.*?),"tm":.*?,"cs":-1,"ca":-1\}`)
)

// ParseLine matches a line against the Begin and End grammars. Lines matching neither,
// or carrying an unparseable timestamp or status, are rejected.
func ParseLine(line string) (Record, bool) {
	if m := beginPattern.FindStringSubmatch(line); m != nil {
		return newRecord(Begin, m, "")
	}
	if m := endPattern.FindStringSubmatch(line); m != nil {
		return newRecord(End, m, m[7])
	}
	return Record{}, false
}

func newRecord(kind Kind, m []string, status string) (Record, bool) {
	ts, err := time.Parse(TimestampLayout, m[1])
	if err != nil {
		return Record{}, false
	}
	rec := Record{
		Kind:      kind,
		Timestamp: m[1],
		Time:      ts,
		ID:        m[2],
		Host:      m[4],
		Method:    m[5],
		Request:   m[6],
	}
	if kind == End {
		code, err := strconv.Atoi(status)
		if err != nil {
			return Record{}, false
		}
		rec.Status = code
	}
	return rec, true
}
