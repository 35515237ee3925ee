package dedup

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Instruction string            `json:"instruction"`
	Text        string            `json:"text"`
	Tags        map[string]string `json:"tags,omitempty"`
	ignored     int
}

type otherRequest struct {
	Instruction string `json:"instruction"`
	Text        string `json:"text"`
}

func TestCanonical_Primitives(t *testing.T) {
	got, err := Canonical([]any{1, "a<b>&c", true, nil, 1.5, uint8(7)})
	require.NoError(t, err)
	assert.Equal(t, `[1,"a<b>&c",true,null,1.5,7]`, string(got))
}

func TestCanonical_SpecialTypes(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 1500, time.FixedZone("x", 3600))
	big1, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	got, err := Canonical(map[string]any{
		"bytes": []byte{0xde, 0xad},
		"time":  ts,
		"big":   big1,
		"rat":   big.NewRat(1, 3),
		"num":   json.Number("10.50"),
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"big":{"__decimal__":"123456789012345678901234567890"},"bytes":{"__bytes__":"dead"},`+
			`"num":{"__decimal__":"10.50"},"rat":{"__decimal__":"1/3"},"time":{"__datetime__":"2024-05-01T11:00:00.0000015Z"}}`,
		string(got))
}

func TestCanonical_SetsAreSorted(t *testing.T) {
	a, err := Canonical(map[string]struct{}{"b": {}, "a": {}, "c": {}})
	require.NoError(t, err)
	assert.Equal(t, `{"__set__":["a","b","c"]}`, string(a))
}

func TestCanonical_BoolMapsKeepFalseEntries(t *testing.T) {
	got, err := Canonical(map[int]bool{3: true, 1: true, 2: false})
	require.NoError(t, err)
	assert.Equal(t, `{"1":true,"2":false,"3":true}`, string(got))
}

func TestCanonical_EscapesReservedKeys(t *testing.T) {
	got, err := Canonical(map[string]string{"__bytes__": "x", "_a": "y", "~b": "z", "c": "w"})
	require.NoError(t, err)
	assert.Equal(t, `{"c":"w","~__bytes__":"x","~_a":"y","~~b":"z"}`, string(got))
}

func TestCanonical_StructsCarryTypeName(t *testing.T) {
	got, err := Canonical(request{Instruction: "i", Text: "t", ignored: 9})
	require.NoError(t, err)
	assert.Equal(t, `{"__type__":"dedup.request","instruction":"i","tags":null,"text":"t"}`, string(got))
}

func TestCanonical_RejectsNonFinite(t *testing.T) {
	_, err := Canonical(math.Inf(1))
	require.Error(t, err)

	_, err = Canonical(make(chan int))
	require.Error(t, err)
}

func TestKey_Deterministic(t *testing.T) {
	m1 := map[string]string{}
	m2 := map[string]string{}
	for _, k := range []string{"x", "y", "z", "w", "v"} {
		m1[k] = k + "1"
	}
	for _, k := range []string{"v", "w", "z", "y", "x"} {
		m2[k] = k + "1"
	}

	k1, err := Key("convert", request{Text: "a", Tags: m1})
	require.NoError(t, err)
	k2, err := Key("convert", request{Text: "a", Tags: m2})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestKey_NormalizesUnicode(t *testing.T) {
	composed, err := Key("op", "caf\u00e9")
	require.NoError(t, err)
	decomposed, err := Key("op", "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestKey_DistinctValuesNeverCollide(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pairs := map[string][2]any{
		"false entry vs empty map": {map[string]bool{"strict": false}, map[string]bool{}},
		"false vs true entry":      {map[string]bool{"strict": false}, map[string]bool{"strict": true}},
		"bytes vs hex string":      {[]byte("ab"), "6162"},
		"time vs string":           {ts, ts.Format(time.RFC3339Nano)},
		"decimal vs string":        {json.Number("10.50"), "10.50"},
		"big int vs string":        {big.NewInt(7), "7"},
		"set vs list":              {map[string]struct{}{"a": {}}, []string{"a"}},
		"tagged lookalike map":     {[]byte("ab"), map[string]string{"__bytes__": "6162"}},
		"escaped lookalike map":    {map[string]string{"_a": "x"}, map[string]string{"~a": "x"}},
		"struct vs lookalike map":  {otherRequest{Instruction: "i", Text: "t"}, map[string]string{"__type__": "dedup.otherRequest", "instruction": "i", "text": "t"}},
	}
	for name, pair := range pairs {
		t.Run(name, func(t *testing.T) {
			a, err := Key("op", pair[0])
			require.NoError(t, err)
			b, err := Key("op", pair[1])
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
		})
	}
}

func TestKey_Distinguishes(t *testing.T) {
	base, err := Key("op", request{Instruction: "i", Text: "t"})
	require.NoError(t, err)

	cases := map[string][]any{
		"other op":    nil,
		"other text":  {request{Instruction: "i", Text: "u"}},
		"other type":  {otherRequest{Instruction: "i", Text: "t"}},
		"extra arg":   {request{Instruction: "i", Text: "t"}, 1},
		"string form": {`{"instruction":"i","text":"t"}`},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			op := "op"
			if args == nil {
				op = "op2"
				args = []any{request{Instruction: "i", Text: "t"}}
			}
			k, err := Key(op, args...)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
		})
	}
}
