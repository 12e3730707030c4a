package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/schema"
	"github.com/HYChou0515/autocrud-sub001/storage"
)

const widgetV1Schema = `{
	"$id": "widget-v1",
	"type": "object",
	"required": ["name", "price"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"price": {"type": "integer", "minimum": 0}
	}
}`

func newSchemaValidatedManager(t *testing.T) *Manager[widget] {
	t.Helper()
	v, err := schema.NewValidator([]string{widgetV1Schema}, nil)
	require.NoError(t, err)
	return New(&Builder[widget]{
		TypeName:  "widget",
		Storage:   storage.NewInMemory(),
		Validator: schema.ManagerValidator[widget](v, "widget-v1"),
	})
}

func TestCreateRejectedBySchemaValidator(t *testing.T) {
	m := newSchemaValidatedManager(t)
	ctx := ctxAs("user:alice")

	_, err := m.Create(ctx, widget{Name: "", Price: 10})
	require.Error(t, err)
	assert.Equal(t, resource.KindValidationError, resource.KindOf(err))
}

func TestCreateAcceptedBySchemaValidator(t *testing.T) {
	m := newSchemaValidatedManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 10})
	require.NoError(t, err)

	got, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
}

func TestUpdateRejectedBySchemaValidator(t *testing.T) {
	m := newSchemaValidatedManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 10})
	require.NoError(t, err)

	_, err = m.Update(ctx, created.ResourceID, widget{Name: "Widget", Price: -5})
	require.Error(t, err)
	assert.Equal(t, resource.KindValidationError, resource.KindOf(err))
}
