package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs
const (
	IndexResourceURI  = "phenovariant://index"
	SchemaResourceURI = "phenovariant://schemas"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         IndexResourceURI,
		Name:        "ontology-index",
		Description: "Active ontology index and record set",
		MIMEType:    "application/json",
	}, s.readJSONResource(func() interface{} { return s.app.IndexInfo() }))

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         SchemaResourceURI,
		Name:        "schema-mappings",
		Description: "Configured schema mappings accepted by import_records",
		MIMEType:    "application/json",
	}, s.readJSONResource(func() interface{} { return s.app.Mappings }))
}

func (s *Server) readJSONResource(get func() interface{}) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		data, err := json.Marshal(get())
		if err != nil {
			return nil, fmt.Errorf("failed to encode resource: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
			},
		}, nil
	}
}
