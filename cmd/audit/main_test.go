package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Caso: sin alcance o con ambos alcances no se conecta a nada y sale con error.
func TestRun_RequiereCompanyOAll(t *testing.T) {
	assert.Equal(t, exitError, run(nil))
	assert.Equal(t, exitError, run([]string{"--all", "--company=acme"}))
}

func TestRun_FlagDesconocido(t *testing.T) {
	assert.Equal(t, exitError, run([]string{"--no-existe"}))
}
