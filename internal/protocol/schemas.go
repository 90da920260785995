package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/hello.schema.json
var helloSchemaJSON string

//go:embed schemas/event_batch_req.schema.json
var batchReqSchemaJSON string

var (
	helloSchema    = jsonschema.MustCompileString("hello.schema.json", helloSchemaJSON)
	batchReqSchema = jsonschema.MustCompileString("event_batch_req.schema.json", batchReqSchemaJSON)
)

// ValidateHello checks a raw HELLO message against its schema.
func ValidateHello(raw []byte) error { return validate(helloSchema, raw) }

// ValidateEventBatchReq checks a raw EVENT_BATCH_REQ message against its schema.
func ValidateEventBatchReq(raw []byte) error { return validate(batchReqSchema, raw) }

func validate(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}
