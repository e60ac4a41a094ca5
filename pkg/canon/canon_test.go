package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"zeta":  1,
		"alpha": 2,
		"mid":   map[string]interface{}{"b": true, "a": false},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":false,"b":true},"zeta":1}`, string(out))
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	out, err := Marshal(map[string]string{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, string(out))
}

func TestHashDeterministic(t *testing.T) {
	v := map[string]interface{}{"x": []int{1, 2, 3}, "y": "z"}
	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"y": "z", "x": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestTimeIsUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2025, 3, 1, 18, 30, 0, 0, loc)
	assert.Equal(t, "2025-03-01T23:30:00Z", Time(local))
}

func TestTimePtrNil(t *testing.T) {
	assert.Nil(t, TimePtr(nil))
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-01T00:00:00Z", *TimePtr(&ts))
}
