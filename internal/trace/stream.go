package trace

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// StreamSink appends events as precompile-style statements to stderr or a
// file. The destination is opened eagerly: open failure is the only fatal
// error; later write failures are dropped.
type StreamSink struct {
	mu    sync.Mutex
	w     io.Writer
	f     *os.File // nil when writing to stderr
	color bool
}

// NewStreamSink opens dest ("stderr" or a file path). colorMode is "auto",
// "always" or "never"; on "auto" color is used only when dest is a terminal.
func NewStreamSink(dest, colorMode string) (*StreamSink, error) {
	s := &StreamSink{}
	if dest == "stderr" {
		s.w = os.Stderr
		switch colorMode {
		case "always":
			s.color = true
		case "never", "":
		default:
			s.color = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		}
		return s, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open trace file %q for writing: %w", dest, err)
	}
	s.w = f
	s.f = f
	return s, nil
}

func (s *StreamSink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case KindSpecialize:
		if ev.Recompile && s.color {
			fmt.Fprint(s.w, ansiYellow)
		}
		if ev.Elapsed > 0 {
			fmt.Fprintf(s.w, "#= %6.1f ms =# ", float64(ev.Elapsed.Microseconds())/1e3)
		}
		fmt.Fprintf(s.w, "specialize(%s)", ev.Sig)
		if ev.Recompile {
			fmt.Fprint(s.w, " # recompile")
			if s.color {
				fmt.Fprint(s.w, ansiReset)
			}
		}
		fmt.Fprintln(s.w)
	case KindDispatch:
		fmt.Fprintf(s.w, "dispatch(%s)\n", ev.Sig)
	case KindInvalidate:
		fmt.Fprintf(s.w, "invalidate(%s) # %s depth=%d\n", ev.Sig, ev.Reason, ev.Depth)
	case KindOverwrite:
		fmt.Fprintf(s.w, "# method overwritten: %s\n", ev.Sig)
	}
	if s.f != nil {
		s.f.Sync()
	}
}

func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		return err
	}
	return nil
}
