package coincidence

import "context"

// MemorySink keeps records in memory, in the order they were written.
type MemorySink struct {
	Records []Record
	Summary Summary
}

func (m *MemorySink) WriteCoincidence(_ context.Context, r Record) error {
	m.Records = append(m.Records, r)
	return nil
}

func (m *MemorySink) Finish(_ context.Context, s Summary) error {
	m.Summary = s
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, r Record) error

func (f SinkFunc) WriteCoincidence(ctx context.Context, r Record) error { return f(ctx, r) }

// MultiSink writes every record to each sink in turn.
type MultiSink []Sink

func (m MultiSink) WriteCoincidence(ctx context.Context, r Record) error {
	for _, s := range m {
		if err := s.WriteCoincidence(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Finish(ctx context.Context, sum Summary) error {
	for _, s := range m {
		if f, ok := s.(Finisher); ok {
			if err := f.Finish(ctx, sum); err != nil {
				return err
			}
		}
	}
	return nil
}
