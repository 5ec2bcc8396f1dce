// ABOUTME: Tests for version information
// ABOUTME: Ensures identification strings are defined and sane
package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentificationDefined(t *testing.T) {
	for name, value := range map[string]string{
		"Version":      Version,
		"Commit":       Commit,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		assert.NotEmpty(t, value, name)
		assert.LessOrEqual(t, len(value), 100, name)
	}
}

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "1.2.3"

	assert.Equal(t, "stagesound 1.2.3 (none)", String())
}
