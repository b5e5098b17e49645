// Package pdf genera el reporte imprimible de una auditoría de saldos.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Auditoría de saldos  │  ID + fecha + disparador    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  ALCANCE: empresa / producto / ubicación                    │
//	│  RESUMEN: pares revisados + diferencias                     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Producto | Ubicación | Ledger | Saldo | Diferencia  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: leyenda (las diferencias no se corrigen)           │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strconv"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorAlert   = &props.Color{Red: 170, Green: 30, Blue: 30}
	colorOK      = &props.Color{Red: 20, Green: 120, Blue: 60}
)

var _ audit.ReportGenerator = (*MarotoAuditReport)(nil)

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoAuditReport implementa audit.ReportGenerator usando Maroto v2.
type MarotoAuditReport struct{}

// NewMarotoAuditReport construye el generador.
func NewMarotoAuditReport() *MarotoAuditReport { return &MarotoAuditReport{} }

// GenerateAuditReport genera el PDF y devuelve sus bytes.
func (g *MarotoAuditReport) GenerateAuditReport(_ context.Context, run *entity.AuditRun) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Auditoría de saldos", true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(run))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(scopeRow(run))
	m.AddRows(summaryRow(run))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	if len(run.Mismatches) == 0 {
		m.AddRows(row.New(10).Add(col.New(12).Add(
			text.New("Sin diferencias: todos los saldos coinciden con el ledger.", props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center, Color: colorOK, Top: 2,
			}),
		)))
	} else {
		m.AddRows(tableHeaderRow())
		for _, r := range mismatchRows(run.Mismatches) {
			m.AddRows(r)
		}
	}

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRow())

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(run *entity.AuditRun) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New("AUDITORÍA DE SALDOS", props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("Ledger de movimientos vs. saldos por ubicación", props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New(run.ID, props.Text{
				Style: fontstyle.Bold, Size: 7, Align: align.Right, Top: 1,
			}),
			text.New("Fecha: "+run.StartedAt.Format("02/01/2006 15:04:05"), props.Text{
				Size: 8, Align: align.Right, Top: 7, Color: colorGray,
			}),
			text.New("Disparador: "+run.Trigger, props.Text{
				Size: 8, Align: align.Right, Top: 12, Color: colorGray,
			}),
		),
	)
}

func scopeRow(run *entity.AuditRun) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("ALCANCE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Empresa: %s   |   Producto: %s   |   Ubicación: %s",
				run.Scope.CompanyID,
				nonEmpty(run.Scope.ProductID, "todos"),
				nonEmpty(run.Scope.LocationID, "todas"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

func summaryRow(run *entity.AuditRun) core.Row {
	color := colorOK
	if !run.Clean() {
		color = colorAlert
	}
	return row.New(10).Add(
		col.New(6).Add(text.New(
			"Pares revisados: "+strconv.Itoa(run.PairsChecked),
			props.Text{Style: fontstyle.Bold, Size: 9, Top: 2},
		)),
		col.New(6).Add(text.New(
			fmt.Sprintf("Diferencias: %d   |   Sagas en curso: %d", run.Drift(), len(run.Mismatches)-run.Drift()),
			props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Color: color, Top: 2},
		)),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Producto", 3, align.Left),
		h("Ubicación", 3, align.Left),
		h("Ledger", 2, align.Right),
		h("Saldo", 2, align.Right),
		h("Diferencia", 2, align.Right),
	)
}

func mismatchRows(mismatches []entity.BalanceMismatch) []core.Row {
	result := make([]core.Row, 0, len(mismatches))
	cell := func(s string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(s, props.Text{Size: 8, Align: a, Top: 1, Left: 1, Right: 1}))
	}
	for _, mm := range mismatches {
		location, color := mm.LocationID, colorAlert
		if mm.InFlight {
			location, color = mm.LocationID+" (saga en curso)", colorGray
		}
		result = append(result, row.New(7).Add(
			cell(mm.ProductID, 3, align.Left),
			cell(location, 3, align.Left),
			cell(strconv.FormatInt(mm.Expected, 10), 2, align.Right),
			cell(strconv.FormatInt(mm.Actual, 10), 2, align.Right),
			col.New(2).Add(text.New(signed(mm.Difference), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: color, Top: 1, Right: 1,
			})),
		))
	}
	return result
}

func footerRow() core.Row {
	return row.New(8).Add(col.New(12).Add(
		text.New(
			"Las diferencias se reportan para revisión del operador y no se corrigen automáticamente. "+
				"Diferencia = saldo almacenado - suma de movimientos completados.",
			props.Text{Size: 6.5, Color: colorGray, Top: 2},
		),
	))
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func signed(n int64) string {
	if n > 0 {
		return "+" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
