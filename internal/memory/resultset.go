package memory

import "encoding/json"

// ResultSet is a cached tabular result. Column order is preserved explicitly
// rather than through map iteration, so heterogeneous sources round-trip
// without reordering.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (rs ResultSet) Empty() bool {
	return len(rs.Rows) == 0
}

// EncodeResultSet serializes a result set to its persisted text form. An
// empty result set encodes to the empty string, never to an empty-but-present
// JSON document.
func EncodeResultSet(rs ResultSet) (string, error) {
	if rs.Empty() {
		return "", nil
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeResultSet recomputes the in-memory view from persisted text. Corrupt
// text yields an empty result set together with the decode error; callers log
// the degradation and carry on, since the authoritative SQL and error fields
// on the turn are unaffected.
func DecodeResultSet(text string) (ResultSet, error) {
	if text == "" {
		return ResultSet{}, nil
	}
	var rs ResultSet
	if err := json.Unmarshal([]byte(text), &rs); err != nil {
		return ResultSet{}, err
	}
	if rs.Rows == nil {
		rs.Rows = [][]any{}
	}
	return rs, nil
}
