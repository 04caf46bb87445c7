package engine

import (
	"encoding/json"
	"net/http"
)

// hasSublimit reports whether a request may be subject to a sublimit on its
// route. Channel edits are only sublimited when they rename or retopic the
// channel; every other route is assumed to carry one.
func hasSublimit(bucketRoute string, body any, method string) bool {
	if bucketRoute != "/channels/:id" {
		return true
	}
	if method == http.MethodPost {
		return false
	}

	fields, ok := objectKeys(body)
	if !ok {
		return false
	}
	_, name := fields["name"]
	_, topic := fields["topic"]
	return name || topic
}

func objectKeys(body any) (map[string]json.RawMessage, bool) {
	var raw []byte
	switch v := body.(type) {
	case nil:
		return nil, false
	case map[string]any:
		keys := make(map[string]json.RawMessage, len(v))
		for key := range v {
			keys[key] = nil
		}
		return keys, true
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		raw = encoded
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}
