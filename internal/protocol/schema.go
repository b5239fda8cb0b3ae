package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/request.schema.json
var requestSchemaJSON string

var (
	requestSchemaOnce sync.Once
	requestSchema     *jsonschema.Schema
	requestSchemaErr  error
)

func compiledRequestSchema() (*jsonschema.Schema, error) {
	requestSchemaOnce.Do(func() {
		requestSchema, requestSchemaErr = jsonschema.CompileString("request.schema.json", requestSchemaJSON)
	})
	return requestSchema, requestSchemaErr
}

// ValidateRequest checks a raw inbound envelope against the request schema.
// Unknown top-level payloads pass; they are answered with CodeUnknown later.
func ValidateRequest(raw []byte) error {
	s, err := compiledRequestSchema()
	if err != nil {
		return fmt.Errorf("request schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}
