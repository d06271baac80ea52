package source

// entrySchema validates one file entry of a project source document.
const entrySchema = `{
	"type": "object",
	"properties": {
		"summary":       {"type": "string"},
		"purpose":       {"type": "string"},
		"componentName": {"type": ["string", "null"]},
		"isComponent":   {"type": "boolean"},
		"functions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"line": {"type": "integer", "minimum": 0},
					"type": {"type": "string"}
				}
			}
		},
		"hooks": {"type": "array", "items": {"type": "string"}},
		"keyLogic": {
			"oneOf": [
				{"type": "string"},
				{"type": "array", "items": {"type": "string"}}
			]
		}
	}
}`
