package cycle

// Coalesce returns the first non-nil value in priority order, or nil.
func Coalesce[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// CoalesceString returns the first non-empty string in priority order.
func CoalesceString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
