package salesforce

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

func decodeJSON(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return eris.Wrap(err, "decode json")
	}
	return nil
}

// decodeAttributes flattens a JSON object held in a long text field into
// string values. Blank input yields nil.
func decodeAttributes(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var obj map[string]any
	if err := decodeJSON(strings.NewReader(raw), &obj); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, eris.Wrapf(err, "encode attribute %s", k)
			}
			out[k] = string(b)
		}
	}
	return out, nil
}

// formatNumber renders an optional numeric field the way size attributes are
// stored. Nil yields "".
func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
