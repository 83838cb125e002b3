package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type user struct {
	ID      string    `json:"id" msgpack:"id" cbor:"id"`
	Name    string    `json:"name" msgpack:"name" cbor:"name"`
	Created time.Time `json:"created" msgpack:"created" cbor:"created"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	require.NoError(t, err)
	out, err := c.Decode(b)
	require.NoError(t, err)
	return out
}

func TestStructCodecs(t *testing.T) {
	in := user{ID: "1", Name: "Ada", Created: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	cb, err := NewCBOR[user](true)
	require.NoError(t, err)

	for name, c := range map[string]Codec[user]{
		"json":    JSON[user]{},
		"msgpack": Msgpack[user]{},
		"cbor":    cb,
	} {
		t.Run(name, func(t *testing.T) {
			out := roundTrip(t, c, in)
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, in.Name, out.Name)
			assert.True(t, in.Created.Equal(out.Created))
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	c, err := NewCBOR[map[string]int](true)
	require.NoError(t, err)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	out := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("hello"))
	assert.Equal(t, "hello", out.GetValue())
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, err := Bytes{}.Decode(src)
	require.NoError(t, err)
	src[0] = 'x'
	assert.Equal(t, []byte("abc"), out)
}

func TestString(t *testing.T) {
	assert.Equal(t, "héllo", roundTrip[string](t, String{}, "héllo"))
}

func TestLimit(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}

	_, err := c.Decode([]byte(strings.Repeat("a", 5)))
	assert.ErrorContains(t, err, "payload too large")

	v, err := c.Decode([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", v)

	unlimited := Limit[string]{Inner: String{}}
	_, err = unlimited.Decode([]byte(strings.Repeat("a", 1<<12)))
	assert.NoError(t, err)
}

func TestJSONDecodeError(t *testing.T) {
	_, err := JSON[user]{}.Decode([]byte("{"))
	assert.Error(t, err)
}
