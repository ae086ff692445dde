package value

// Merge folds incoming into current.
//
// An undefined side yields the other side. When either side is not a mapping
// the incoming value replaces the current one, so sequences are never merged
// element-wise. Two mappings merge key by key over the union of their keys.
func Merge(current, incoming Value) Value {
	switch {
	case incoming.kind == Undefined:
		return current
	case current.kind == Undefined:
		return incoming
	case current.kind != Mapping || incoming.kind != Mapping:
		return incoming
	}

	fields := make(map[string]Value, len(current.fields)+len(incoming.fields))
	for k, v := range current.fields {
		fields[k] = v
	}
	for k, v := range incoming.fields {
		fields[k] = Merge(current.fields[k], v)
	}
	return Value{kind: Mapping, fields: fields}
}

// MergeAll folds payloads left to right starting from base.
func MergeAll(base Value, payloads ...Value) Value {
	out := base
	for _, p := range payloads {
		out = Merge(out, p)
	}
	return out
}
