package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "senior go developer", NormalizeQuery("  Senior   GO-Developer!! "))
	assert.Equal(t, "c# .net", NormalizeQuery("C# / .NET"))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestTerm_Aliases(t *testing.T) {
	assert.Equal(t, "go", Term("Golang"))
	assert.Equal(t, "react", Term("React.js"))
	assert.Equal(t, "kubernetes", Term("k8s"))
	assert.Equal(t, "elixir", Term("Elixir"))
}

func TestExtractSkills(t *testing.T) {
	got := ExtractSkills("We use Golang, PostgreSQL and Docker. Some React on the side.", "AWS", "k8s")
	assert.Equal(t, []string{"aws", "docker", "go", "kubernetes", "postgresql", "react"}, got)
}

func TestExtractSkills_Empty(t *testing.T) {
	assert.Empty(t, ExtractSkills(""))
}
