package inventory

import "github.com/shopspring/decimal"

// WeightedAverageCost implementa el costo promedio ponderado (servicio de dominio).
// NuevoCosto = ((StockActual * CostoActual) + (CantEntrada * CostoEntrada)) / (StockActual + CantEntrada)
// Un stock previo negativo (backorder) no aporta valor: se toma como cero.
func WeightedAverageCost(currentQty int64, currentCost decimal.Decimal, inQty int64, inCost decimal.Decimal) decimal.Decimal {
	if currentQty < 0 {
		currentQty = 0
	}
	stock := decimal.NewFromInt(currentQty)
	entrada := decimal.NewFromInt(inQty)
	sum := stock.Add(entrada)
	if sum.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	num := stock.Mul(currentCost).Add(entrada.Mul(inCost))
	return num.DivRound(sum, 4)
}
