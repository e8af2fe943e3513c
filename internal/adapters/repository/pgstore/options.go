package pgstore

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithTable overrides the table name. The index name is derived from it.
func WithTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.rawTable = name
		}
	}
}

// WithMaxAttempts bounds transaction attempts on serialization conflicts.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}
