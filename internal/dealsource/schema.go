package dealsource

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	countSchemaURL = "https://schemas.dealsync.local/search-report-wood-deal-count.json"
	pageSchemaURL  = "https://schemas.dealsync.local/search-report-wood-deal-page.json"
)

const countSchemaSource = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "object",
			"required": ["searchReportWoodDeal"],
			"properties": {
				"searchReportWoodDeal": {
					"type": "object",
					"required": ["total"],
					"properties": {
						"total": {"type": "integer", "minimum": 0}
					}
				}
			}
		}
	}
}`

const pageSchemaSource = `{
	"type": "object",
	"required": ["data"],
	"properties": {
		"data": {
			"type": "object",
			"required": ["searchReportWoodDeal"],
			"properties": {
				"searchReportWoodDeal": {
					"type": "object",
					"required": ["content"],
					"properties": {
						"content": {
							"type": "array",
							"items": {
								"type": "object",
								"required": ["dealNumber"],
								"properties": {
									"sellerName": {"type": ["string", "null"]},
									"sellerInn": {"type": ["string", "null"]},
									"buyerName": {"type": ["string", "null"]},
									"buyerInn": {"type": ["string", "null"]},
									"woodVolumeBuyer": {"type": ["number", "string", "null"]},
									"woodVolumeSeller": {"type": ["number", "string", "null"]},
									"dealDate": {"type": ["string", "null"]},
									"dealNumber": {"type": "string"}
								}
							}
						}
					}
				}
			}
		}
	}
}`

type responseSchemas struct {
	count *jsonschema.Schema
	page  *jsonschema.Schema
}

func compileResponseSchemas() (*responseSchemas, error) {
	compiler := jsonschema.NewCompiler()
	for url, source := range map[string]string{
		countSchemaURL: countSchemaSource,
		pageSchemaURL:  pageSchemaSource,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", url, err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", url, err)
		}
	}
	count, err := compiler.Compile(countSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile count schema: %w", err)
	}
	page, err := compiler.Compile(pageSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile page schema: %w", err)
	}
	return &responseSchemas{count: count, page: page}, nil
}

func validatePayload(schema *jsonschema.Schema, payload []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
