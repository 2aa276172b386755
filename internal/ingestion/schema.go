package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const statementSchemaURL = "https://capcall.schemas.local/ingestion/json_bank.schema.json"

const statementSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["payments"],
  "properties": {
    "statement_id": {"type": "string"},
    "payments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["amount"],
        "properties": {
          "amount": {
            "oneOf": [
              {"type": "number", "exclusiveMinimum": 0},
              {"type": "string", "pattern": "^[0-9][0-9,]*(\\.[0-9]+)?$"}
            ]
          },
          "date": {"type": "string"},
          "reference": {"type": "string"}
        }
      }
    }
  }
}`

var compiledStatementSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(statementSchemaURL, strings.NewReader(statementSchema)); err != nil {
		return nil, fmt.Errorf("statement schema load failed: %w", err)
	}
	return c.Compile(statementSchemaURL)
})

// validateStatement checks a JSON statement against the json_bank schema
// before it is decoded into payments.
func validateStatement(data []byte) error {
	schema, err := compiledStatementSchema()
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("statement does not match schema: %w", err)
	}
	return nil
}
