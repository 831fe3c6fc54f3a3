package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "concluido", Fold("Concluído"))
	assert.Equal(t, "termine", Fold("  TERMINÉ "))
	assert.Equal(t, "done", Fold("Done"))
	assert.Equal(t, "", Fold("   "))
}

func TestIsDone_Synonyms(t *testing.T) {
	for _, s := range []string{
		"Completed",
		"Concluído",
		"concluída",
		"Research finished",
		"Terminado",
		"Recherche terminée",
		"DONE",
	} {
		assert.True(t, IsDone(s), s)
	}
}

func TestIsDone_NotDone(t *testing.T) {
	for _, s := range []string{
		"",
		"Pesquisando",
		"Researching sources",
		"In progress",
		"Thinking",
	} {
		assert.False(t, IsDone(s), s)
	}
}
