package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/schema"
)

func noop(context.Context, schema.Args, map[string]any) (any, error) { return struct{}{}, nil }

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister(schema.Component{
		ClassPath: "demo.optim.SGD",
		Role:      schema.RoleOptimizer,
		Positional: []string{
			"params",
		},
		Params: []schema.Param{
			{Name: "params", Type: schema.TypeAny},
			{Name: "lr", Type: schema.TypeFloat, Required: true},
			{Name: "momentum", Type: schema.TypeFloat, Default: 0.0},
		},
		New: noop,
	})
	reg.MustRegister(schema.Component{
		ClassPath:  "demo.optim.Adam",
		Role:       schema.RoleOptimizer,
		Positional: []string{"params"},
		Params: []schema.Param{
			{Name: "params", Type: schema.TypeAny},
			{Name: "lr", Type: schema.TypeFloat, Default: 0.001},
		},
		New: noop,
	})
	reg.MustRegister(schema.Component{
		ClassPath: "demo.models.Encoder",
		Role:      schema.RoleOther,
		Params: []schema.Param{
			{Name: "width", Type: schema.TypeInt, Default: 8},
		},
		New: noop,
	})
	reg.MustRegister(schema.Component{
		ClassPath: "demo.models.Net",
		Role:      schema.RoleModel,
		Params: []schema.Param{
			{Name: "lr", Type: schema.TypeFloat, Default: 0.1},
			{Name: "encoder", Type: schema.TypeClass, Class: "demo.models.Encoder"},
			{Name: "optimizer", Type: schema.TypeClass, Base: "demo.optim.SGD,demo.optim.Adam", Nullable: true},
		},
		Methods: map[string][]schema.Param{
			"fit": {
				{Name: "model", Type: schema.TypeAny},
				{Name: "ckpt_path", Type: schema.TypeString, Nullable: true},
			},
		},
		New: noop,
	})
	reg.MustRegister(schema.Component{
		ClassPath: "demo.models.DeepNet",
		Role:      schema.RoleModel,
		Extends:   []string{"demo.models.Net"},
		New:       noop,
	})
	return reg
}

func TestRegisterRejectsDuplicatesAndBadParams(t *testing.T) {
	reg := newRegistry(t)

	err := reg.Register(schema.Component{ClassPath: "demo.optim.SGD", New: noop})
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrConfiguration))

	err = reg.Register(schema.Component{
		ClassPath: "demo.Bad",
		New:       noop,
		Params:    []schema.Param{{Name: "a.b", Type: schema.TypeInt}},
	})
	require.Error(t, err)

	err = reg.Register(schema.Component{ClassPath: "demo.NoFactory"})
	require.Error(t, err)
}

func TestLookupShortNameAndMiss(t *testing.T) {
	reg := newRegistry(t)

	comp, err := reg.Lookup("SGD")
	require.NoError(t, err)
	assert.Equal(t, "demo.optim.SGD", comp.ClassPath)

	_, err = reg.Lookup("demo.optim.Missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrImportResolution))
	assert.Contains(t, err.Error(), "demo.optim.Missing")
}

func TestSubclassesFollowExtendsAndRoles(t *testing.T) {
	reg := newRegistry(t)

	assert.True(t, reg.IsSubclass("demo.models.DeepNet", "demo.models.Net"))
	assert.True(t, reg.IsSubclass("demo.models.DeepNet", "model"))
	assert.False(t, reg.IsSubclass("demo.optim.SGD", "demo.models.Net"))

	var paths []string
	for _, c := range reg.Subclasses("optimizer") {
		paths = append(paths, c.ClassPath)
	}
	assert.Equal(t, []string{"demo.optim.Adam", "demo.optim.SGD"}, paths)
}

func TestExtractClassFlattensNestedAndSkipsPositional(t *testing.T) {
	reg := newRegistry(t)

	group, err := schema.ExtractClass(reg, "demo.models.Net", "model")
	require.NoError(t, err)

	keys := map[string]schema.Entry{}
	for _, e := range group.Entries {
		keys[e.Key] = e
	}
	assert.Contains(t, keys, "model.lr")
	assert.Contains(t, keys, "model.encoder.width")
	assert.True(t, keys["model.optimizer"].Polymorphic)
	assert.Equal(t, []string{"demo.optim.SGD", "demo.optim.Adam"}, keys["model.optimizer"].Bases)

	opt, err := schema.Class("demo.optim.SGD").Extract(reg, "optimizer")
	require.NoError(t, err)
	require.Len(t, opt.Entries, 2)
	assert.Equal(t, "optimizer.lr", opt.Entries[0].Key)
	assert.Equal(t, "optimizer.momentum", opt.Entries[1].Key)
}

func TestExtractSubclassDefersInitArgs(t *testing.T) {
	reg := newRegistry(t)

	group, err := schema.AnyOf("optimizer").Extract(reg, "optimizer")
	require.NoError(t, err)
	require.Len(t, group.Entries, 1)
	entry := group.Entries[0]
	assert.True(t, entry.Polymorphic)
	assert.Equal(t, schema.RoleOptimizer, group.Role)

	comp, entries, err := schema.InitArgEntries(reg, entry, "Adam")
	require.NoError(t, err)
	assert.Equal(t, "demo.optim.Adam", comp.ClassPath)
	require.Len(t, entries, 1)
	assert.Equal(t, "optimizer.init_args.lr", entries[0].Key)

	_, _, err = schema.InitArgEntries(reg, entry, "demo.models.Net")
	require.Error(t, err)
	assert.True(t, errors.Is(err, clierr.ErrParse))
}

func TestExtractMethodHonoursSkipSet(t *testing.T) {
	reg := newRegistry(t)

	entries, err := schema.ExtractMethod(reg, "demo.models.Net", "fit", "model")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ckpt_path", entries[0].Key)

	_, err = schema.ExtractMethod(reg, "demo.models.Net", "tune")
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name  string
		param schema.Param
		raw   any
		want  any
		err   bool
	}{
		{name: "int from string", param: schema.Param{Type: schema.TypeInt}, raw: "3", want: 3},
		{name: "int rejects fraction", param: schema.Param{Type: schema.TypeInt}, raw: 1.5, err: true},
		{name: "float from int", param: schema.Param{Type: schema.TypeFloat}, raw: 2, want: 2.0},
		{name: "bool", param: schema.Param{Type: schema.TypeBool}, raw: "true", want: true},
		{name: "bool rejects word", param: schema.Param{Type: schema.TypeBool}, raw: "maybe", err: true},
		{name: "null when nullable", param: schema.Param{Type: schema.TypeInt, Nullable: true}, raw: "null", want: nil},
		{name: "null rejected", param: schema.Param{Type: schema.TypeInt}, raw: nil, err: true},
		{name: "list from csv", param: schema.Param{Type: schema.TypeStringList}, raw: "a, b", want: []string{"a", "b"}},
		{name: "list from yaml", param: schema.Param{Type: schema.TypeStringList}, raw: "[a, b]", want: []string{"a", "b"}},
		{name: "map from inline", param: schema.Param{Type: schema.TypeMap}, raw: "{a: 1}", want: map[string]any{"a": 1}},
		{
			name:  "class from path",
			param: schema.Param{Type: schema.TypeClass},
			raw:   "demo.optim.SGD",
			want:  map[string]any{"class_path": "demo.optim.SGD", "init_args": map[string]any{}},
		},
		{
			name:  "class rejects extra keys",
			param: schema.Param{Type: schema.TypeClass},
			raw:   map[string]any{"class_path": "x", "lr": 1},
			err:   true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := schema.Coerce(tc.param, tc.raw)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDescriptorFromMapping(t *testing.T) {
	d, err := schema.DescriptorFrom(map[string]any{
		"class_path": "demo.optim.SGD",
		"init_args":  map[string]any{"lr": 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, "demo.optim.SGD", d.ClassPath)
	assert.Equal(t, 0.1, d.InitArgs["lr"])

	_, err = schema.DescriptorFrom(map[string]any{"init_args": map[string]any{}})
	require.Error(t, err)
}
