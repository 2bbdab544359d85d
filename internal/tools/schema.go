package tools

type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Format marks string parameters that are coerced through the time resolver.
type Format string

const (
	FormatDateTime Format = "datetime"
	FormatDate     Format = "date"
)

// Param declares one parameter. Items applies to arrays and Properties to
// objects; both are validated recursively.
type Param struct {
	Name        string
	Type        Type
	Description string
	Required    bool
	Enum        []string
	Format      Format
	Items       *Param
	Properties  []Param
}

// Definition is the introspection view of a tool or skill. Parameters is a
// JSON Schema object usable for OpenAI function calling and MCP alike.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (p Param) schema() map[string]any {
	s := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	if p.Type == TypeObject && len(p.Properties) > 0 {
		for k, v := range Schema(p.Properties) {
			s[k] = v
		}
	}
	return s
}

// Schema renders params as a JSON Schema object that rejects unknown keys.
func Schema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
