package repository

import (
	"github.com/xeipuuv/gojsonschema"
)

// providerSchema accepts the shapes a provider document may take. PHP emits
// empty maps as [], so both are allowed at each level.
const providerSchema = `{
  "type": "object",
  "required": ["packages"],
  "properties": {
    "packages": {
      "anyOf": [
        {"type": "array", "maxItems": 0},
        {
          "type": "object",
          "additionalProperties": {
            "anyOf": [
              {"type": "array", "maxItems": 0},
              {"type": "object", "additionalProperties": {"type": "object"}}
            ]
          }
        }
      ]
    }
  }
}`

var providerDocumentSchema = mustSchema(providerSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// isProviderDocument reports whether body has the shape of a provider document.
func isProviderDocument(body []byte) bool {
	result, err := providerDocumentSchema.Validate(gojsonschema.NewBytesLoader(body))
	return err == nil && result.Valid()
}
