package snapshot

import "encoding/json"

func marshalMeta(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
