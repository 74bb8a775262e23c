package isolation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palisade-io/palisade/internal/failover"
)

func TestData_Validate(t *testing.T) {
	valid := testData()
	require.NoError(t, valid.Validate())

	t.Run("missing namespaces", func(t *testing.T) {
		d := testData()
		d.Namespaces = nil
		assert.Error(t, d.Validate())
	})

	t.Run("missing primary", func(t *testing.T) {
		d := testData()
		d.Primary = nil
		assert.Error(t, d.Validate())
	})

	t.Run("bad pattern", func(t *testing.T) {
		d := testData()
		d.Primary = []string{`broker-(`}
		err := d.Validate()
		require.Error(t, err)
		var patternErr *PatternError
		require.ErrorAs(t, err, &patternErr)
		assert.Equal(t, FieldPrimary, patternErr.Field)
	})

	t.Run("bad strategy", func(t *testing.T) {
		d := testData()
		d.AutoFailover.Parameters = map[string]string{}
		assert.ErrorIs(t, d.Validate(), failover.ErrInvalidParameter)
	})

	t.Run("empty secondary is allowed", func(t *testing.T) {
		d := testData()
		d.Secondary = nil
		assert.NoError(t, d.Validate())
	})
}

func TestData_JSONRoundTrip(t *testing.T) {
	original := testData()

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Data
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, original.Equal(decoded))
}

func TestData_Equal(t *testing.T) {
	a := testData()
	b := testData()
	assert.True(t, a.Equal(b))

	b.Secondary = append(b.Secondary, `broker-z\.example\.com`)
	assert.False(t, a.Equal(b))
}
