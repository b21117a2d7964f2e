package serial

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/model"
)

func personType() *model.Type {
	return &model.Type{
		Name: "Person",
		Attributes: []model.Attribute{
			{Name: "name", Kind: model.KindString},
			{Name: "age", Kind: model.KindInt},
			{Name: "active", Kind: model.KindBool},
			{Name: "score", Kind: model.KindFloat},
			{Name: "bio", Kind: model.KindString, Deferred: true},
			{Name: "friends", Kind: model.KindJSON},
		},
		Serialization: &model.SerializationSpec{Fields: []string{"name", "age", "active"}},
	}
}

func TestSerialize_Fields(t *testing.T) {
	r := model.MustNew(personType(), map[string]any{"name": "Foo Bar", "age": 30})

	tree, err := Serialize(r, Selection{Fields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Foo Bar"}, tree)
}

func TestSerializeWith_PerCallOptions(t *testing.T) {
	typ := &model.Type{
		Name: "Event",
		Attributes: []model.Attribute{
			{Name: "on", Kind: model.KindDate},
			{Name: "at", Kind: model.KindTime},
		},
	}
	r := model.MustNew(typ, map[string]any{
		"on": "2024-03-01",
		"at": time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	sel := Selection{Fields: []string{"on", "at"}}

	tree, err := SerializeWith(r, sel, DefaultOptions().WithDateFormat("%d.%m.%Y").WithDateTimeFormat("%H:%M"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"on": "01.03.2024", "at": "12:00"}, tree)

	tree, err = Serialize(r, sel)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"on": "2024-03-01", "at": int64(1709294400)}, tree)
}

func TestSerialize_DefaultIncludeExclude(t *testing.T) {
	r := model.MustNew(personType(), map[string]any{"name": "Foo", "age": 30, "active": true, "score": 1.5})

	tree, err := Serialize(r, Selection{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Foo", "age": int64(30), "active": true}, tree)

	tree, err = Serialize(r, Selection{Include: []string{"score"}})
	require.NoError(t, err)
	assert.Equal(t, 1.5, tree["score"])
	assert.Len(t, tree, 4)

	// Exclude removes, even when the field is also included.
	tree, err = Serialize(r, Selection{Include: []string{"name"}, Exclude: []string{"name"}})
	require.NoError(t, err)
	assert.NotContains(t, tree, "name")
	assert.Len(t, tree, 2)
}

func TestSelection_Resolve(t *testing.T) {
	defaults := []string{"a", "b", "c"}
	assert.Equal(t, []string{"a", "b", "c", "d"}, Selection{Include: []string{"d", "a"}}.Resolve(defaults))
	assert.Equal(t, []string{"a", "c"}, Selection{Exclude: []string{"b", "zz"}}.Resolve(defaults))
	assert.Equal(t, []string{"b"}, Selection{Fields: []string{"b"}, Exclude: []string{"b"}}.Resolve(defaults))
	assert.Empty(t, Selection{Fields: []string{}}.Resolve(defaults))
}

func TestSerialize_AbsentIsNull(t *testing.T) {
	r := model.MustNew(personType(), map[string]any{"name": "Foo"})
	tree, err := Serialize(r, Selection{Fields: []string{"age"}})
	require.NoError(t, err)
	assert.Contains(t, tree, "age")
	assert.Nil(t, tree["age"])
}

type panicLoader struct{}

func (panicLoader) LoadDeferred(context.Context, *model.Type, string) (map[string]any, error) {
	panic("serialization must not load")
}

func TestSerialize_NeverLoads(t *testing.T) {
	r, err := model.Restore(personType(), map[string]any{"name": "Foo"}, []string{"bio"}, panicLoader{})
	require.NoError(t, err)

	tree, err := Serialize(r, Selection{Fields: []string{"name", "bio"}})
	require.NoError(t, err)
	assert.Nil(t, tree["bio"])
}

// selfish is a value that serializes itself.
type selfish struct{ n int }

func (s selfish) Serialize() (any, error) {
	return map[string]any{"n": s.n}, nil
}

func TestSerialize_NestedSequenceOfMarshalers(t *testing.T) {
	r := model.MustNew(personType(), map[string]any{
		"friends": []any{selfish{1}, selfish{2}},
	})
	tree, err := Serialize(r, Selection{Fields: []string{"friends"}})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"n": 1}, map[string]any{"n": 2}}, tree["friends"])
}

func TestSerialize_NestedRecords(t *testing.T) {
	a := model.MustNew(personType(), map[string]any{"name": "A", "age": 1, "active": true})
	b := model.MustNew(personType(), map[string]any{"name": "B", "age": 2, "active": false})
	r := model.MustNew(personType(), map[string]any{"friends": []any{a, b}})

	tree, err := Serialize(r, Selection{Fields: []string{"friends"}})
	require.NoError(t, err)
	friends := tree["friends"].([]any)
	require.Len(t, friends, 2)
	assert.Equal(t, "A", friends[0].(map[string]any)["name"])
	assert.Equal(t, "B", friends[1].(map[string]any)["name"])
}

func TestConvert_Primitives(t *testing.T) {
	type label string
	for _, v := range []any{"s", true, 3, int64(-4), uint8(5), 1.25, float32(2), label("x")} {
		got, err := Default().Convert(v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestConvert_DefaultTypeSerializers(t *testing.T) {
	s := Default()

	got, err := s.Convert(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1709296200), got)

	got, err = s.Convert(model.Date{Year: 2024, Month: time.March, Day: 1})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", got)

	d, _, err := apd.NewFromString("19.99")
	require.NoError(t, err)
	got, err = s.Convert(d)
	require.NoError(t, err)
	assert.InDelta(t, 19.99, got, 1e-9)

	got, err = s.Convert(model.NewSet("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = s.Convert(map[int]struct{}{2: {}, 1: {}})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, got)

	got, err = s.Convert(map[string]any{"k": []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": []any{1, 2}}, got)

	var nilDecimal *apd.Decimal
	got, err = s.Convert(nilDecimal)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConvert_DateTimeFormats(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	s := New(DefaultOptions().WithDateTimeFormat("%Y-%m-%dT%H:%M:%SZ"))
	got, err := s.Convert(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:30:00Z", got)

	// Output that parses as an integer becomes one.
	s = New(DefaultOptions().WithDateTimeFormat("%Y"))
	got, err = s.Convert(ts)
	require.NoError(t, err)
	assert.Equal(t, int64(2024), got)

	s = New(DefaultOptions().WithDateFormat("%d/%m/%Y"))
	got, err = s.Convert(model.Date{Year: 2024, Month: time.March, Day: 1})
	require.NoError(t, err)
	assert.Equal(t, "01/03/2024", got)
}

func TestConvert_RegisteredBeatsSelfSerialization(t *testing.T) {
	opts := DefaultOptions().WithSerializer("serial.selfish", func(v any, _ Options) (any, error) {
		return "registered", nil
	})
	got, err := New(opts).Convert(selfish{1})
	require.NoError(t, err)
	assert.Equal(t, "registered", got)

	got, err = Default().Convert(selfish{1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, got)
}

func TestConvert_RegisteredOverridesPrimitive(t *testing.T) {
	opts := DefaultOptions().WithSerializer("float64", func(v any, _ Options) (any, error) {
		return math.Round(v.(float64)), nil
	})
	got, err := New(opts).Convert(2.6)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestOptions_Immutable(t *testing.T) {
	base := DefaultOptions()
	derived := base.WithSerializer(TypeTime, nil).WithDateFormat("%Y")

	_, ok := base.Serializer(TypeTime)
	assert.True(t, ok)
	_, ok = derived.Serializer(TypeTime)
	assert.False(t, ok)
	assert.Equal(t, DefaultDateFormat, base.DateFormat)
}

func TestConvert_Unconvertible(t *testing.T) {
	type opaque struct{ x int }
	r := model.MustNew(personType(), map[string]any{"friends": []any{opaque{1}}})

	_, err := Serialize(r, Selection{Fields: []string{"name", "friends"}})
	require.Error(t, err)
	assert.True(t, model.IsSerializationError(err))
	assert.Contains(t, err.Error(), "serial.opaque")
	assert.Contains(t, err.Error(), "attribute=friends")

	_, err = Default().Convert(make(chan int))
	assert.True(t, model.IsSerializationError(err))
}

func TestSerialize_TypeOverride(t *testing.T) {
	typ := personType()
	typ.Serialization.Overrides = map[string]func(model.Record) (any, error){
		"name": func(r model.Record) (any, error) {
			v, _ := r.Attr("name")
			return "Dr. " + v.(string), nil
		},
	}
	r := model.MustNew(typ, map[string]any{"name": "Who"})
	tree, err := Serialize(r, Selection{Fields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Who", tree["name"])
}

// badge is a hand-written record with its own capabilities.
type badge struct {
	attrs map[string]any
}

var badgeType = &model.Type{Name: "Badge", Attributes: []model.Attribute{{Name: "label", Kind: model.KindString}}}

func (b *badge) Type() *model.Type { return badgeType }

func (b *badge) Attr(name string) (any, bool) {
	v, ok := b.attrs[name]
	return v, ok
}

func (b *badge) SetAttr(name string, v any) error {
	b.attrs[name] = v
	return nil
}

func (b *badge) SerializationSpec() (model.SerializationSpec, bool) {
	return model.SerializationSpec{Fields: []string{"label", "computed"}}, true
}

func (b *badge) SerializeField(name string) (any, bool, error) {
	switch name {
	case "computed":
		return "yes", true, nil
	case "broken":
		return nil, true, errors.New("boom")
	}
	return nil, false, nil
}

func TestSerialize_RecordCapabilities(t *testing.T) {
	b := &badge{attrs: map[string]any{"label": "gold"}}
	tree, err := Serialize(b, Selection{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "gold", "computed": "yes"}, tree)

	_, err = Serialize(b, Selection{Fields: []string{"broken"}})
	assert.ErrorContains(t, err, "boom")
}
