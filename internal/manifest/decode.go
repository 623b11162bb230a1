package manifest

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DecodeZlibJSON tries to zlib-inflate body and parse it as JSON; if the
// bytes are not a zlib stream it falls back to parsing them directly as raw
// JSON (spec.md §4.1 "the wrapper must try zlib and fall back to raw").
func DecodeZlibJSON(body []byte, out interface{}) error {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return json.Unmarshal(body, out)
	}
	defer r.Close()

	inflated, err := io.ReadAll(r)
	if err != nil {
		return json.Unmarshal(body, out)
	}
	return json.Unmarshal(inflated, out)
}
