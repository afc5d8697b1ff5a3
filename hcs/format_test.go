package hcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFromProbeLength(t *testing.T) {
	f, err := FormatFromProbeLength(6)
	require.NoError(t, err)
	assert.Equal(t, FormatThreeDigits, f)
	assert.Equal(t, NumericFormat{Width: 3, Decimals: 1}, f)

	f, err = FormatFromProbeLength(8)
	require.NoError(t, err)
	assert.Equal(t, NumericFormat{Width: 4, Decimals: 2}, f)

	for _, n := range []int{0, 3, 5, 7, 9, 12} {
		_, err := FormatFromProbeLength(n)
		assert.ErrorIs(t, err, ErrUnknownDeviceFormat, "長度 %d 應無法對應", n)
	}
}

func TestFormatFromWidth(t *testing.T) {
	f, err := FormatFromWidth(3)
	require.NoError(t, err)
	assert.Equal(t, FormatThreeDigits, f)

	f, err = FormatFromWidth(4)
	require.NoError(t, err)
	assert.Equal(t, FormatFourDigits, f)

	_, err = FormatFromWidth(5)
	assert.ErrorIs(t, err, ErrUnknownDeviceFormat)
}

func TestNumericFormat_Validate(t *testing.T) {
	assert.NoError(t, FormatThreeDigits.Validate())
	assert.NoError(t, FormatFourDigits.Validate())
	assert.ErrorIs(t, NumericFormat{Width: 3, Decimals: 2}.Validate(), ErrUnknownDeviceFormat)
	assert.Equal(t, "4/2", FormatFourDigits.String())
}
