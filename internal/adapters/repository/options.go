package repository

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithPriorities overrides the source of treap priorities, e.g. with a seeded
// generator for reproducible tree shapes. next is called under partition
// locks only, so it must be safe for concurrent use across partitions.
func WithPriorities(next func() uint64) Option {
	return func(s *TreapStore) {
		if next != nil {
			s.prio = next
		}
	}
}
