package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the argument struct T into an inline object schema.
// Fields tagged `jsonschema:"required"` are required.
func SchemaFor[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		panic("agent: schema marshal: " + err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic("agent: schema unmarshal: " + err.Error())
	}

	out := map[string]any{
		"type":       "object",
		"properties": m["properties"],
	}
	if req, ok := m["required"]; ok {
		out["required"] = req
	}
	return out
}
