package flow

import "encoding/json"

// deepCopyMap creates a deep copy of a payload map using JSON round-trip
// serialization. This works for any JSON-marshalable payload; values
// that do not marshal (channels, funcs) cause a fallback to a shallow
// copy so that log snapshots never fail an execution.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return shallowCopyMap(m)
	}

	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return shallowCopyMap(m)
	}
	return copied
}

func shallowCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
