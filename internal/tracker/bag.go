package tracker

// Bag is an ordered string-to-string attribute collection. Detail pages yield
// attributes in document order and reconciliation depends on that order, so a
// plain map is not enough.
type Bag struct {
	keys   []string
	values map[string]string
}

// NewBag returns an empty Bag.
func NewBag() *Bag {
	return &Bag{values: make(map[string]string)}
}

// Set stores key=value, keeping first-insertion order on repeated sets.
func (b *Bag) Set(key, value string) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Get returns the value for key and whether it is present.
func (b *Bag) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (b *Bag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Len returns the number of entries.
func (b *Bag) Len() int {
	return len(b.keys)
}

// Record flattens the bag into a Record map.
func (b *Bag) Record() Record {
	out := make(Record, len(b.keys))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
