package trace

// Filtered passes through only events of the listed kinds.
type Filtered struct {
	Sink  Sink
	Kinds map[Kind]bool
}

func (f Filtered) Record(ev Event) {
	if f.Kinds[ev.Kind] {
		f.Sink.Record(ev)
	}
}

func (f Filtered) Close() error { return f.Sink.Close() }

// Filter wraps s so it only sees the listed kinds.
func Filter(s Sink, kinds ...Kind) Sink {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return Filtered{Sink: s, Kinds: set}
}

// BuildSinks assembles the sink stack for the given destinations: the
// dispatch stream carries first-dispatch, invalidation and overwrite
// events, the specialize stream carries specialization events, and the
// database (when set) receives everything. Destinations naming the same
// stream share one underlying sink so interleaved writes stay line-atomic.
func BuildSinks(dispatchDest, specializeDest, dbPath, colorMode string) (Sink, error) {
	var out Multi
	streams := make(map[string]*StreamSink)
	stream := func(dest string) (*StreamSink, error) {
		if s, ok := streams[dest]; ok {
			return s, nil
		}
		s, err := NewStreamSink(dest, colorMode)
		if err != nil {
			return nil, err
		}
		streams[dest] = s
		return s, nil
	}
	if dispatchDest != "" {
		s, err := stream(dispatchDest)
		if err != nil {
			return nil, err
		}
		out = append(out, Filter(s, KindDispatch, KindInvalidate, KindOverwrite))
	}
	if specializeDest != "" {
		s, err := stream(specializeDest)
		if err != nil {
			out.Close()
			return nil, err
		}
		out = append(out, Filter(s, KindSpecialize))
	}
	if dbPath != "" {
		s, err := NewSQLiteSink(dbPath)
		if err != nil {
			out.Close()
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return Nop{}, nil
	}
	return out, nil
}
