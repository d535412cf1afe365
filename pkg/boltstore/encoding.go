package boltstore

import (
	json "github.com/goccy/go-json"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// encodeObject serializes an Object. Empty attributes are dropped; an
// empty value means "unset" everywhere in the core.
func encodeObject(obj *gamedb.Object) ([]byte, error) {
	out := *obj
	if len(obj.Attrs) > 0 {
		out.Attrs = make(map[string]string, len(obj.Attrs))
		for k, v := range obj.Attrs {
			if v != "" {
				out.Attrs[k] = v
			}
		}
	}
	return json.Marshal(&out)
}

// decodeObject deserializes bytes back into an Object.
func decodeObject(data []byte) (*gamedb.Object, error) {
	var obj gamedb.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	return &obj, nil
}
