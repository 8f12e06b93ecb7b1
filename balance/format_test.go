package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "1,234,567", Format(language.English, 1234567))
	assert.Equal(t, "1.234.567", Format(language.German, 1234567))
	assert.Equal(t, "999", Format(language.French, 999))
	assert.NotEqual(t, "1234567", Format(language.French, 1234567))
}
