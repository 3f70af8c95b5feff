package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/doutor-motors/expert-chat/internal/model"
)

// parseCodes reads "P0300:critical,P0171" into diagnostic codes. A code
// without a priority defaults to attention.
func parseCodes(arg string) ([]model.DiagnosticCode, error) {
	var codes []model.DiagnosticCode
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		code, prio, _ := strings.Cut(part, ":")
		c := model.DiagnosticCode{
			Code:     strings.ToUpper(strings.TrimSpace(code)),
			Priority: model.PriorityAttention,
		}
		if prio != "" {
			c.Priority = model.Priority(strings.ToLower(strings.TrimSpace(prio)))
			if !c.Priority.Valid() {
				return nil, fmt.Errorf("prioridade inválida %q (use critical, attention ou preventive)", prio)
			}
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// parseVehicle reads "brand=Fiat model=Uno year=2012 mileage=98000".
// Values may not contain spaces; use underscores instead.
func parseVehicle(arg string) (*model.VehicleContext, error) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return nil, nil
	}

	v := &model.VehicleContext{}
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("campo inválido %q (use chave=valor)", f)
		}
		value = strings.ReplaceAll(value, "_", " ")

		switch strings.ToLower(key) {
		case "brand", "marca":
			v.Brand = value
		case "model", "modelo":
			v.Model = value
		case "year", "ano":
			v.Year = value
		case "engine", "motor":
			v.Engine = value
		case "fuel", "fueltype", "combustivel":
			v.FuelType = value
		case "mileage", "km":
			km, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("quilometragem inválida %q", value)
			}
			v.Mileage = km
		default:
			return nil, fmt.Errorf("campo desconhecido %q", key)
		}
	}
	return v, nil
}

const helpText = `Comandos:
  /new                       inicia uma nova conversa
  /load <id>                 carrega uma conversa salva
  /codes P0300:critical,...  seleciona códigos de diagnóstico (vazio limpa)
  /vehicle marca=Fiat modelo=Uno ano=2012
  /typewriter on|off         liga ou desliga a animação
  /history                   mostra a conversa atual
  /quit                      sai
Ctrl-C interrompe a resposta em andamento.`
