package schema

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/koustreak/recordbase/internal/record"
)

const (
	openAPIVersion = "3.0.3"
	recordsPrefix  = "/api/records/v1/"
)

// OpenAPI describes the record API of tables as one OpenAPI 3.0 document.
// Each table gets its own paths and insert/update/select component
// schemas, so clients can be generated per table. Tables without a
// single-column primary key are not served and are left out.
func OpenAPI(title, version string, tables []*TableDescriptor) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: openAPIVersion,
		Info:    &openapi3.Info{Title: title, Version: version},
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{"Error": openapi3.NewSchemaRef("", errorSchema())},
		},
	}

	for _, d := range tables {
		if d.PK() == nil {
			continue
		}
		for _, mode := range []Mode{ModeInsert, ModeUpdate, ModeSelect} {
			doc.Components.Schemas[componentName(d.Name, mode)] = openapi3.NewSchemaRef("", recordSchema(d, mode))
		}
		addTablePaths(doc.Paths, d)
	}
	return doc
}

func componentName(table string, mode Mode) string {
	return table + "." + string(mode)
}

// schemaRef points at a component and carries its resolved value, which
// Validate requires for refs built without a loader.
func schemaRef(d *TableDescriptor, mode Mode) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+componentName(d.Name, mode), recordSchema(d, mode))
}

func errorSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("kind", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	s.Required = []string{"kind", "message"}
	return s
}

// recordSchema follows the same required-column rules as JSONSchema.
func recordSchema(d *TableDescriptor, mode Mode) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Title = d.Name
	closed := false
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: &closed}

	for _, c := range d.Columns {
		cs := columnSchema(c)
		if mode == ModeSelect {
			if _, ok := d.Relation(c.Name); ok {
				cs = relationSchema(cs, c.Nullable)
			}
		}
		s.WithProperty(c.Name, cs)

		switch mode {
		case ModeInsert:
			if !c.Nullable && !c.HasDefault && !c.GeneratedKey() {
				s.Required = append(s.Required, c.Name)
			}
		case ModeSelect:
			s.Required = append(s.Required, c.Name)
		}
	}
	return s
}

func columnSchema(c ColumnDescriptor) *openapi3.Schema {
	var s *openapi3.Schema
	switch c.Type {
	case record.KindInteger:
		s = openapi3.NewInt64Schema()
	case record.KindReal:
		s = openapi3.NewFloat64Schema()
	case record.KindText:
		s = openapi3.NewStringSchema()
	case record.KindBlob:
		s = openapi3.NewStringSchema()
		s.Format = "base64url"
	default:
		return &openapi3.Schema{}
	}
	s.Nullable = c.Nullable
	return s
}

func relationSchema(id *openapi3.Schema, nullable bool) *openapi3.Schema {
	key := *id
	key.Nullable = false
	data := openapi3.NewObjectSchema()
	data.Nullable = true

	s := openapi3.NewObjectSchema().
		WithProperty("id", &key).
		WithProperty("data", data)
	s.Required = []string{"id", "data"}
	s.Nullable = nullable
	return s
}

func addTablePaths(paths *openapi3.Paths, d *TableDescriptor) {
	base := recordsPrefix + d.Name
	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
		WithDescription("record id, or * on the subscribe path for the whole table").
		WithSchema(openapi3.NewStringSchema())}

	paths.Set(base, &openapi3.PathItem{
		Get:  listOperation(d),
		Post: createOperation(d),
	})
	paths.Set(base+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        readOperation(d),
		Patch:      updateOperation(d),
		Delete:     deleteOperation(d),
	})
	paths.Set(base+"/schema", &openapi3.PathItem{Get: schemaOperation(d)})
	paths.Set(base+"/subscribe/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        subscribeOperation(d),
	})
}

func operation(id, summary, table string) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id + "_" + table
	op.Summary = summary
	op.Tags = []string{table}
	op.Responses = openapi3.NewResponses(openapi3.WithName("default", errorResponse()))
	return op
}

func errorResponse() *openapi3.Response {
	return openapi3.NewResponse().
		WithDescription("error as {kind, message}").
		WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/Error", errorSchema()))
}

func respond(op *openapi3.Operation, status int, resp *openapi3.Response) {
	op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})
}

func queryParam(name, desc string, s *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(s)}
}

func expandParam() *openapi3.ParameterRef {
	return queryParam("expand", "comma separated relation names", openapi3.NewStringSchema())
}

func listOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("list", "List "+d.Name+" records", d.Name)

	explode := true
	filter := openapi3.NewQueryParameter("filter").
		WithDescription("filter[column][op]=value; filter[column]=value means eq").
		WithSchema(openapi3.NewObjectSchema())
	filter.Style = openapi3.SerializationDeepObject
	filter.Explode = &explode

	op.Parameters = openapi3.Parameters{
		{Value: filter},
		queryParam("order", "comma separated [+|-]column terms", openapi3.NewStringSchema()),
		queryParam("limit", "page size", openapi3.NewInt64Schema()),
		queryParam("cursor", "opaque cursor from a previous page", openapi3.NewStringSchema()),
		queryParam("offset", "row offset; not combinable with cursor", openapi3.NewInt64Schema()),
		queryParam("count", "include total_count", openapi3.NewBoolSchema()),
		expandParam(),
	}

	cursor := openapi3.NewStringSchema()
	cursor.Nullable = true
	records := openapi3.NewArraySchema()
	records.Items = schemaRef(d, ModeSelect)
	page := openapi3.NewObjectSchema().
		WithProperty("records", records).
		WithProperty("cursor", cursor).
		WithProperty("total_count", openapi3.NewInt64Schema())
	page.Required = []string{"records", "cursor"}

	respond(op, http.StatusOK, openapi3.NewResponse().WithDescription("one page").WithJSONSchema(page))
	return op
}

func createOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("create", "Create one or many "+d.Name+" records", d.Name)

	many := openapi3.NewArraySchema()
	many.Items = schemaRef(d, ModeInsert)
	body := &openapi3.Schema{OneOf: openapi3.SchemaRefs{
		schemaRef(d, ModeInsert),
		openapi3.NewSchemaRef("", many),
	}}
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(body)}

	ids := openapi3.NewArraySchema().WithItems(&openapi3.Schema{})
	created := openapi3.NewObjectSchema().WithProperty("ids", ids)
	created.Required = []string{"ids"}
	respond(op, http.StatusOK, openapi3.NewResponse().WithDescription("ids of the created records").WithJSONSchema(created))
	return op
}

func readOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("read", "Read one "+d.Name+" record", d.Name)
	op.Parameters = openapi3.Parameters{expandParam()}
	respond(op, http.StatusOK, openapi3.NewResponse().WithDescription("the record").WithJSONSchemaRef(schemaRef(d, ModeSelect)))
	return op
}

func updateOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("update", "Update columns of one "+d.Name+" record", d.Name)
	op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchemaRef(schemaRef(d, ModeUpdate))}
	respond(op, http.StatusOK, openapi3.NewResponse().WithDescription("the updated record").WithJSONSchemaRef(schemaRef(d, ModeSelect)))
	return op
}

func deleteOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("delete", "Delete one "+d.Name+" record", d.Name)
	respond(op, http.StatusNoContent, openapi3.NewResponse().WithDescription("deleted"))
	return op
}

func schemaOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("schema", "JSON Schema of "+d.Name, d.Name)
	op.Parameters = openapi3.Parameters{
		queryParam("mode", "record shape", openapi3.NewStringSchema().
			WithEnum(string(ModeInsert), string(ModeUpdate), string(ModeSelect))),
	}
	respond(op, http.StatusOK, openapi3.NewResponse().WithDescription("draft 2020-12 JSON Schema").WithJSONSchema(openapi3.NewObjectSchema()))
	return op
}

func subscribeOperation(d *TableDescriptor) *openapi3.Operation {
	op := operation("subscribe", "Stream changes of "+d.Name+" as server-sent events", d.Name)
	respond(op, http.StatusOK, openapi3.NewResponse().
		WithDescription("one data frame per change event").
		WithContent(openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/event-stream"})))
	return op
}
