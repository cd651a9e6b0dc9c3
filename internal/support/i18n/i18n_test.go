package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestMatchAndTranslate(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	ru := m.Match("ru,en;q=0.8")
	assert.Equal(t, "Запрошенный объект не найден.", m.Translate(ru, "error.not_found"))

	fallback := m.Match("fr-FR")
	assert.Equal(t, language.AmericanEnglish, fallback)
	assert.Equal(t, "The request could not be accepted: bad port", m.Translate(fallback, "error.validation", "bad port"))

	assert.Equal(t, "error.unknown_key", m.Translate(fallback, "error.unknown_key"))
}
