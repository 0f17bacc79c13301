package bodies

// stringSlice coerces a context value that may be either a native []string
// (set within the same process lifetime) or a []interface{} of strings
// (after a bbolt replay round-tripped it through JSON) into a []string.
// This is the "per-body typed view with validation on read" SPEC_FULL.md
// calls for on the dynamically-typed context.
func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
