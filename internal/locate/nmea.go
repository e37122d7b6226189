package locate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/geocluster/internal/geo"
)

var (
	ErrChecksum  = errors.New("nmea: checksum mismatch")
	ErrMalformed = errors.New("nmea: malformed sentence")
)

// Checksum returns the two-digit hex XOR of the bytes between '$' and '*'.
func Checksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// Sentence is a checksum-verified NMEA 0183 sentence.
type Sentence struct {
	Talker string
	Type   string
	Fields []string
}

// ParseSentence verifies the framing and checksum of line. Sentences without
// a checksum are accepted.
func ParseSentence(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, ErrMalformed
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want := strings.ToUpper(body[i+1:])
		body = body[:i]
		if want != Checksum(body) {
			return Sentence{}, fmt.Errorf("%w: got %s want %s", ErrChecksum, want, Checksum(body))
		}
	}
	fields := strings.Split(body, ",")
	addr := fields[0]
	if len(addr) < 3 {
		return Sentence{}, ErrMalformed
	}
	s := Sentence{Fields: fields[1:]}
	// Proprietary sentences ($Pxxx) carry a manufacturer code instead of a talker.
	if addr[0] == 'P' {
		s.Talker, s.Type = "P", addr[1:]
	} else {
		s.Talker, s.Type = addr[:len(addr)-3], addr[len(addr)-3:]
	}
	return s, nil
}

func (s Sentence) field(i int) string {
	if i < len(s.Fields) {
		return s.Fields[i]
	}
	return ""
}

// Fix is a position report assembled from GGA and RMC sentences.
type Fix struct {
	Time       time.Time  `json:"time"`
	LatLng     geo.LatLng `json:"latlng"`
	Quality    int        `json:"quality"`
	Satellites int        `json:"satellites"`
	HDOP       float64    `json:"hdop"`
	Altitude   float64    `json:"altitude"`
	Valid      bool       `json:"valid"`
	SpeedKnots float64    `json:"speed_knots"`
	Course     float64    `json:"course"`
}

// parseCoord converts an NMEA ddmm.mmmm (or dddmm.mmmm) value and its
// hemisphere into signed decimal degrees.
func parseCoord(v, hemi string) (float64, error) {
	if v == "" {
		return 0, ErrMalformed
	}
	dot := strings.IndexByte(v, '.')
	if dot < 0 {
		dot = len(v)
	}
	if dot < 3 {
		return 0, ErrMalformed
	}
	deg, err := strconv.Atoi(v[:dot-2])
	if err != nil {
		return 0, ErrMalformed
	}
	min, err := strconv.ParseFloat(v[dot-2:], 64)
	if err != nil || min >= 60 {
		return 0, ErrMalformed
	}
	out := float64(deg) + min/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, ErrMalformed
	}
	return out, nil
}

func parseLatLng(s Sentence, i int) (geo.LatLng, error) {
	lat, err := parseCoord(s.field(i), s.field(i+1))
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := parseCoord(s.field(i+2), s.field(i+3))
	if err != nil {
		return geo.LatLng{}, fmt.Errorf("longitude: %w", err)
	}
	ll := geo.LatLng{Lat: lat, Lng: lng}
	if err := ll.Validate(); err != nil {
		return geo.LatLng{}, err
	}
	return ll, nil
}

// parseClock reads hhmmss(.ss) on the given day.
func parseClock(v string, day time.Time) (time.Time, error) {
	if len(v) < 6 {
		return time.Time{}, ErrMalformed
	}
	h, err1 := strconv.Atoi(v[0:2])
	m, err2 := strconv.Atoi(v[2:4])
	sec, err3 := strconv.ParseFloat(v[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, ErrMalformed
	}
	whole := int(sec)
	nanos := int((sec - float64(whole)) * 1e9)
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, whole, nanos, time.UTC), nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

// ApplyGGA updates f from a GGA sentence. GGA carries no date, so the time of
// day is placed on the date of the previous fix (or today).
func (f *Fix) ApplyGGA(s Sentence, now time.Time) error {
	if s.Type != "GGA" {
		return fmt.Errorf("%w: want GGA, got %s", ErrMalformed, s.Type)
	}
	quality, err := strconv.Atoi(s.field(5))
	if err != nil {
		return fmt.Errorf("fix quality: %w", ErrMalformed)
	}
	f.Quality = quality
	f.Satellites, _ = strconv.Atoi(s.field(6))
	f.HDOP = parseFloat(s.field(7))
	f.Altitude = parseFloat(s.field(8))
	if quality == 0 {
		f.Valid = false
		return nil
	}
	ll, err := parseLatLng(s, 1)
	if err != nil {
		return err
	}
	day := f.Time
	if day.IsZero() {
		day = now.UTC()
	}
	if t, err := parseClock(s.field(0), day); err == nil {
		f.Time = t
	}
	f.LatLng = ll
	f.Valid = true
	return nil
}

// ApplyRMC updates f from an RMC sentence. A void status ('V') marks the fix
// invalid and leaves the position untouched.
func (f *Fix) ApplyRMC(s Sentence) error {
	if s.Type != "RMC" {
		return fmt.Errorf("%w: want RMC, got %s", ErrMalformed, s.Type)
	}
	if s.field(1) != "A" {
		f.Valid = false
		return nil
	}
	ll, err := parseLatLng(s, 2)
	if err != nil {
		return err
	}
	date, err := time.Parse("020106", s.field(8))
	if err != nil {
		return fmt.Errorf("date: %w", ErrMalformed)
	}
	t, err := parseClock(s.field(0), date)
	if err != nil {
		return fmt.Errorf("time: %w", err)
	}
	f.Time = t
	f.LatLng = ll
	f.SpeedKnots = parseFloat(s.field(6))
	f.Course = parseFloat(s.field(7))
	f.Valid = true
	return nil
}
