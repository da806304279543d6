// Package trace emits the simulator's protocol event stream: one
// timestamped line per event, ordered by virtual time. This is the primary
// observable output; process diagnostics go through internal/logging instead.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/ivigns/mipt-cis-networks/internal/ether"
)

// stampFormat renders the virtual clock as HH:MM:SS followed by six
// fractional digits at microsecond precision (mmmuuu).
var stampFormat = func() *strftime.Strftime {
	f, err := strftime.New("%H:%M:%S.%f", strftime.WithMicroseconds('f'))
	if err != nil {
		panic(err)
	}
	return f
}()

// Logger formats protocol events onto a single writer. It borrows the
// virtual clock through the now callback; timestamps advance only when the
// tick driver advances the clock.
type Logger struct {
	w       io.Writer
	now     func() time.Duration
	idWidth int
}

// New returns a Logger writing to w. maxID sets the width the station id
// column is right-aligned to.
func New(w io.Writer, now func() time.Duration, maxID int) *Logger {
	return &Logger{w: w, now: now, idWidth: len(fmt.Sprint(maxID))}
}

// Message logs a plain event for one station.
func (l *Logger) Message(stationID int, msg string) {
	fmt.Fprintf(l.w, "%s:\t%s:\t%s\n", l.stamp(), l.subject(stationID), msg)
}

// Bus logs a bus-level event.
func (l *Logger) Bus(msg string) {
	fmt.Fprintf(l.w, "%s:\t-- bus --:\t%s\n", l.stamp(), msg)
}

// Payload logs an event together with the payload's source, destination
// and data.
func (l *Logger) Payload(stationID int, msg string, p ether.Payload) {
	fmt.Fprintf(l.w, "%s:\t%s:\t%s,\tsource = %s,\tdestination = %s,\tdata = \"%s\"\n",
		l.stamp(), l.subject(stationID), msg, l.peer(p.SrcID), l.peer(p.DstID), p.Data)
}

// Frame logs an event for a frame observed on the bus. Frames whose
// addresses do not decode are skipped; corruption is reported separately.
func (l *Logger) Frame(stationID int, msg string, f *ether.Frame) {
	src, serr := f.Source()
	dst, derr := f.Destination()
	if serr != nil || derr != nil {
		return
	}
	l.Payload(stationID, msg, ether.Payload{SrcID: src, DstID: dst, Data: f.Data()})
}

func (l *Logger) stamp() string {
	return stampFormat.FormatString(time.Unix(0, l.now().Nanoseconds()).UTC())
}

func (l *Logger) subject(id int) string {
	if id >= ether.BroadcastID {
		return "all stations"
	}
	return fmt.Sprintf("station %*d", l.idWidth, id)
}

func (l *Logger) peer(id int) string {
	if id >= ether.BroadcastID {
		return "all stations"
	}
	return fmt.Sprintf("station %d", id)
}
