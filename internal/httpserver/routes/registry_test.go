package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupsRegisteredFromInit(t *testing.T) {
	assert.ElementsMatch(t, []string{"endpoints", "probes", "reload", "status"}, Groups())
}
