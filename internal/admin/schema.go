package admin

import (
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/heliumdb/helium/internal/descriptor"
)

// SchemaHandler serves a read-only GraphQL introspection surface over
// the currently installed descriptor.Registry — "classes", their
// properties, and their declared indexes — generalizing the teacher's
// pkg/graphql (which schematized documents in a single collection) to
// a live, class-typed schema registry.
type SchemaHandler struct {
	schema graphql.Schema
	svc    *Service
}

// NewSchemaHandler builds the GraphQL schema served for svc. The schema's
// types (Class, Property, Index) are fixed; its resolvers read
// svc.Assemblies.Current().Registry on every query, so a registry
// installed by UpdateAssemblies shows up in the next query's results.
func NewSchemaHandler(svc *Service) (*SchemaHandler, error) {
	schema, err := buildSchema(svc)
	if err != nil {
		return nil, err
	}
	return &SchemaHandler{schema: schema, svc: svc}, nil
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// ServeHTTP accepts POST-only GraphQL requests, per the teacher's
// pkg/graphql/handler.go.
func (h *SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "schema endpoint only accepts POST requests", http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGraphQLError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})

	w.Header().Set("Content-Type", "application/json")
	if len(result.Errors) > 0 {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(result)
}

func writeGraphQLError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{{"message": message}},
	})
}

func buildSchema(svc *Service) (graphql.Schema, error) {
	propertyType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Property",
		Description: "One declared property on a class",
		Fields: graphql.Fields{
			"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	indexType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Index",
		Description: "One declared secondary index",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"property": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"unique":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})

	classType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Class",
		Description: "A registered class in the current assembly bundle's schema",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"name":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"properties": &graphql.Field{Type: graphql.NewList(propertyType)},
			"indexes":    &graphql.Field{Type: graphql.NewList(indexType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"classes": &graphql.Field{
				Type:        graphql.NewList(classType),
				Description: "Every class registered in the currently installed schema",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					registry := svc.Assemblies.Current().Registry
					return classesToGraphQL(registry.Classes()), nil
				},
			},
			"class": &graphql.Field{
				Type: classType,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					name, _ := p.Args["name"].(string)
					registry := svc.Assemblies.Current().Registry
					c, err := registry.ClassByName(name)
					if err != nil {
						return nil, err
					}
					return classToGraphQL(c), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

func classesToGraphQL(classes []*descriptor.ClassDesc) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(classes))
	for _, c := range classes {
		out = append(out, classToGraphQL(c))
	}
	return out
}

func classToGraphQL(c *descriptor.ClassDesc) map[string]interface{} {
	props := make([]map[string]interface{}, 0, len(c.Properties))
	for _, p := range c.Properties {
		props = append(props, map[string]interface{}{"name": p.Name, "kind": p.Kind.String()})
	}
	indexes := make([]map[string]interface{}, 0, len(c.Indexes))
	for _, idx := range c.Indexes {
		indexes = append(indexes, map[string]interface{}{
			"name":     idx.Name,
			"property": idx.Property,
			"kind":     indexKindString(idx.Kind),
			"unique":   idx.Unique,
		})
	}
	return map[string]interface{}{
		"id":         int(c.ID),
		"name":       c.Name,
		"properties": props,
		"indexes":    indexes,
	}
}

func indexKindString(k descriptor.IndexKind) string {
	switch k {
	case descriptor.IndexHash:
		return "hash"
	case descriptor.IndexSorted:
		return "sorted"
	case descriptor.IndexInverseReference:
		return "inverse_reference"
	default:
		return "unknown"
	}
}
