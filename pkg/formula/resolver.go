package formula

import "fmt"

// Resolver supplies the current value of a sheet field. Implementations must
// not cache between calls: every evaluation resolves afresh.
type Resolver interface {
	Resolve(key string) (Value, bool)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(key string) (Value, bool)

func (f ResolverFunc) Resolve(key string) (Value, bool) { return f(key) }

// MapResolver resolves keys from a map. A nil map resolves nothing.
type MapResolver map[string]Value

func (m MapResolver) Resolve(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// FromMap converts decoded JSON (or any map of plain Go scalars) into a
// MapResolver.
func FromMap(params map[string]any) (MapResolver, error) {
	out := make(MapResolver, len(params))
	for k, raw := range params {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
