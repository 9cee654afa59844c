package imagehost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDescriptor_AppliesDefaults(t *testing.T) {
	t.Parallel()

	d := Descriptor{ID: "imgur"}
	require.NoError(t, ValidateDescriptor(&d))
	assert.Equal(t, "imgur", d.Name)
	assert.NotNil(t, d.Parameters)
	assert.Empty(t, d.Parameters)
}

func TestValidateDescriptor_RejectsMissingID(t *testing.T) {
	t.Parallel()

	d := Descriptor{Name: "No ID"}
	err := ValidateDescriptor(&d)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlugin)
}

func TestValidateDescriptor_RejectsDuplicateParameterKeys(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		ID: "dup",
		Parameters: []Parameter{
			{Key: "apiKey", Type: ParameterText},
			{Key: "apiKey", Type: ParameterPassword},
		},
	}
	err := ValidateDescriptor(&d)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlugin)
}

func TestValidateDescriptor_RejectsEmptyParameterKey(t *testing.T) {
	t.Parallel()

	d := Descriptor{
		ID:         "blank",
		Parameters: []Parameter{{Key: "", Type: ParameterText}},
	}
	assert.ErrorIs(t, ValidateDescriptor(&d), ErrInvalidPlugin)
}

func TestParameterZeroValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, float64(0), Parameter{Type: ParameterNumber}.ZeroValue())
	assert.Equal(t, false, Parameter{Type: ParameterBoolean}.ZeroValue())
	assert.Equal(t, "", Parameter{Type: ParameterText}.ZeroValue())
	assert.Equal(t, "", Parameter{Type: ParameterSelect}.ZeroValue())
}

func TestDescriptorAcceptsWebP(t *testing.T) {
	t.Parallel()

	assert.True(t, Descriptor{}.AcceptsWebP(), "no declared types accepts everything")

	byMime := Descriptor{SupportedFileTypes: []FileTypeFilter{
		{MimeTypes: []string{"image/png", "image/webp"}},
	}}
	assert.True(t, byMime.AcceptsWebP())

	byExt := Descriptor{SupportedFileTypes: []FileTypeFilter{
		{Extensions: []string{".png", ".WEBP"}},
	}}
	assert.True(t, byExt.AcceptsWebP())

	pngOnly := Descriptor{SupportedFileTypes: []FileTypeFilter{
		{MimeTypes: []string{"image/png", "image/jpeg"}},
	}}
	assert.False(t, pngOnly.AcceptsWebP())
}
