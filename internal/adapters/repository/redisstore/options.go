package redisstore

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}
