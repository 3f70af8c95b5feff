package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/model"
)

func TestParseCodes(t *testing.T) {
	codes, err := parseCodes("p0300:critical, P0171 ,,U0100:Preventive")
	require.NoError(t, err)
	assert.Equal(t, []model.DiagnosticCode{
		{Code: "P0300", Priority: model.PriorityCritical},
		{Code: "P0171", Priority: model.PriorityAttention},
		{Code: "U0100", Priority: model.PriorityPreventive},
	}, codes)

	codes, err = parseCodes("")
	require.NoError(t, err)
	assert.Empty(t, codes)

	_, err = parseCodes("P0300:urgent")
	assert.Error(t, err)
}

func TestParseVehicle(t *testing.T) {
	v, err := parseVehicle("marca=Volkswagen modelo=Gol ano=2015 motor=1.6_MSI km=85000")
	require.NoError(t, err)
	assert.Equal(t, &model.VehicleContext{
		Brand:   "Volkswagen",
		Model:   "Gol",
		Year:    "2015",
		Engine:  "1.6 MSI",
		Mileage: 85000,
	}, v)

	v, err = parseVehicle("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseVehicle("cor=azul")
	assert.Error(t, err)
	_, err = parseVehicle("km=muito")
	assert.Error(t, err)
}

func TestRenderer_PrintsOnlyGrowth(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.show("Verif")
	r.show("Verifique")
	r.show("Ver")
	r.finish("Verifique a vela.")

	assert.Equal(t, "Verifique a vela.\n", buf.String())
}

func TestRenderer_FailureAfterPartial(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.show("parcial")
	r.finish(chat.FailureMarker + " Resposta interrompida.")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "parcial\n"))
	assert.Contains(t, out, "Resposta interrompida.")
}
