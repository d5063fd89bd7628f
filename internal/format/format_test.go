package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreserve_PositionTagAndItalic_BothRestored(t *testing.T) {
	got := Preserve(`{\an8}<i>Hello</i>`, "Bonjour")
	assert.Equal(t, `{\an8}<i>Bonjour</i>`, got)
}

func TestPreserve_NoPositionTagInSource_NoneAdded(t *testing.T) {
	got := Preserve("Hello", "Bonjour")
	assert.Equal(t, "Bonjour", got)
}

func TestPreserve_TranslationAlreadyHasPositionTag_NotDuplicated(t *testing.T) {
	got := Preserve(`{\an2}Hello`, `{\an2}Bonjour`)
	assert.Equal(t, `{\an2}Bonjour`, got)
}

func TestReapplyLanguageIndicator_TranslatedAwayIndicator_Restored(t *testing.T) {
	got := reapplyLanguageIndicator("[IN SPANISH] Hola", "[EN ESPAGNOL] Bonjour")
	assert.Equal(t, "[IN SPANISH] Bonjour", got)
}

func TestReapplyLanguageIndicator_AlreadyVerbatim_Unchanged(t *testing.T) {
	got := reapplyLanguageIndicator("[IN SPANISH] Hola", "[IN SPANISH] Bonjour")
	assert.Equal(t, "[IN SPANISH] Bonjour", got)
}

func TestReapplyLanguageIndicator_NoIndicatorInSource_Unchanged(t *testing.T) {
	got := reapplyLanguageIndicator("Hola", "Bonjour")
	assert.Equal(t, "Bonjour", got)
}

func TestReapplyLineBreaks_CollapsedToSingleLine_SplitProportionally(t *testing.T) {
	got := reapplyLineBreaks("Hello there\nhow are you", "Bonjour la\ncomment vas-tu")
	assert.Equal(t, "Bonjour la\ncomment vas-tu", got)

	got2 := reapplyLineBreaks("Hello there\nhow are you", "Bonjour la comment vas-tu")
	assert.Contains(t, got2, "\n")
}

func TestReapplyLineBreaks_SourceSingleLine_Unchanged(t *testing.T) {
	got := reapplyLineBreaks("Hello", "Bonjour\nmonde")
	assert.Equal(t, "Bonjour\nmonde", got)
}

func TestReapplyLineBreaks_MoreLinesThanSource_MergesTail(t *testing.T) {
	got := reapplyLineBreaks("Line one\nLine two", "Une\ndeux\ntrois")
	assert.Equal(t, "Une\ndeux trois", got)
}

func TestReapplyStyleTags_WrapsWhenSourceFullyWrapped(t *testing.T) {
	got := reapplyStyleTags("<b>Hello</b>", "Bonjour")
	assert.Equal(t, "<b>Bonjour</b>", got)
}

func TestReapplyStyleTags_AlreadyWrapped_NotDoubled(t *testing.T) {
	got := reapplyStyleTags("<i>Hello</i>", "<i>Bonjour</i>")
	assert.Equal(t, "<i>Bonjour</i>", got)
}

func TestCollapseDoubledTags_RemovesDuplicateWrap(t *testing.T) {
	got := collapseDoubledTags("<i><i>Bonjour</i></i>")
	assert.Equal(t, "<i>Bonjour</i>", got)
}

func TestReapplyStyleTags_FontTagWithAttributes_Restored(t *testing.T) {
	got := reapplyStyleTags(`<font color="#ff0000">Hello</font>`, "Bonjour")
	assert.Equal(t, `<font color="#ff0000">Bonjour</font>`, got)
}

func TestReapplyStyleTags_FontTagAlreadyPresent_Unchanged(t *testing.T) {
	got := reapplyStyleTags(`<font color="#ff0000">Hello</font>`, `<font color="#ff0000">Bonjour</font>`)
	assert.Equal(t, `<font color="#ff0000">Bonjour</font>`, got)
}

func TestPreserve_SSAItalicMarkup_Restored(t *testing.T) {
	got := Preserve(`{\i1}Hello{\i0}`, "Bonjour")
	assert.Equal(t, `{\i1}Bonjour{\i0}`, got)
}

func TestPreserve_IsIdempotent(t *testing.T) {
	source := `{\an8}<i>Hello</i>`
	once := Preserve(source, "Bonjour")
	twice := Preserve(source, once)
	assert.Equal(t, once, twice)
}
