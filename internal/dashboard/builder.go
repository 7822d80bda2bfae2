// Package dashboard вычисляет снимок панели по журналу транзакций пользователя.
package dashboard

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

const (
	// RecentLimit задаёт количество транзакций в списке последних операций.
	RecentLimit = 5

	trailingMonths      = 12
	cashFlowWindowDays  = 90
	declarationDay      = 24
	alertNearPercent    = 80
	declarationSoonDays = 7
	defaultCategory     = "Autre"
	dateLayout          = "2006-01-02"
)

var monthLabels = [...]string{"janv.", "févr.", "mars", "avr.", "mai", "juin", "juil.", "août", "sept.", "oct.", "nov.", "déc."}

var (
	hundred   = decimal.NewFromInt(100)
	threshold = decimal.NewFromInt(model.VATThreshold)
)

// Window возвращает интервал дат, транзакции из которого нужны для построения снимка.
// Границы выражены календарными датами в UTC, как их возвращает колонка date.
func Window(now time.Time) (time.Time, time.Time) {
	today := calendarDate(now)
	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	trailingStart := monthStart(today).AddDate(0, -(trailingMonths - 1), 0)
	cashStart := today.AddDate(0, 0, -cashFlowWindowDays)

	from := yearStart
	if trailingStart.Before(from) {
		from = trailingStart
	}
	if cashStart.Before(from) {
		from = cashStart
	}
	return from, today.AddDate(0, 0, 1)
}

// Build строит снимок панели по транзакциям пользователя на момент now.
func Build(txs []model.Transaction, settings model.Settings, now time.Time) *model.DashboardSnapshot {
	snap := model.EmptyDashboardSnapshot()

	declType := settings.DeclarationType
	if declType == "" {
		declType = model.DeclarationMonthly
	}

	today := calendarDate(now)
	yearStart := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	curMonth := monthStart(today)
	prevMonth := curMonth.AddDate(0, -1, 0)
	cashStart := today.AddDate(0, 0, -cashFlowWindowDays)
	end := today.AddDate(0, 0, 1)

	dated := make([]model.Transaction, len(txs))
	for i, tx := range txs {
		tx.Date = calendarDate(tx.Date)
		dated[i] = tx
	}

	var (
		revenue, expenses           decimal.Decimal
		vatCollected, vatDeductible decimal.Decimal
		curRevenue, prevRevenue     decimal.Decimal
		curExpenses, prevExpenses   decimal.Decimal
		recentExpenses              decimal.Decimal
		pendingIncomes              int
	)
	byCategory := map[string]decimal.Decimal{}

	for _, tx := range dated {
		inYear := !tx.Date.Before(yearStart) && tx.Date.Before(end)
		inCur := !tx.Date.Before(curMonth) && tx.Date.Before(end)
		inPrev := !tx.Date.Before(prevMonth) && tx.Date.Before(curMonth)

		switch tx.Kind {
		case model.TransactionIncome:
			if inYear {
				revenue = revenue.Add(tx.Amount)
				vatCollected = vatCollected.Add(tx.VAT())
			}
			if inCur {
				curRevenue = curRevenue.Add(tx.Amount)
			}
			if inPrev {
				prevRevenue = prevRevenue.Add(tx.Amount)
			}
			if tx.Status == model.TransactionPending {
				pendingIncomes++
			}
		case model.TransactionExpense:
			if inYear {
				expenses = expenses.Add(tx.Amount)
				vatDeductible = vatDeductible.Add(tx.VAT())
				cat := tx.Category
				if cat == "" {
					cat = defaultCategory
				}
				byCategory[cat] = byCategory[cat].Add(tx.Amount)
			}
			if inCur {
				curExpenses = curExpenses.Add(tx.Amount)
			}
			if inPrev {
				prevExpenses = prevExpenses.Add(tx.Amount)
			}
			if !tx.Date.Before(cashStart) && tx.Date.Before(end) {
				recentExpenses = recentExpenses.Add(tx.Amount)
			}
		}
	}

	netProfit := revenue.Sub(expenses)
	vatToPay := decimal.Max(vatCollected.Sub(vatDeductible), decimal.Zero)

	snap.KPIs = model.KPIs{
		TotalRevenue:          money(revenue),
		TotalExpenses:         money(expenses),
		NetProfit:             money(netProfit),
		RevenueGrowth:         growth(curRevenue, prevRevenue),
		ExpenseGrowth:         growth(curExpenses, prevExpenses),
		TotalVATCollected:     money(vatCollected),
		TotalVATToPay:         money(vatToPay),
		CashFlowDays:          cashFlowDays(netProfit, recentExpenses),
		AverageMonthlyRevenue: money(revenue.Div(decimal.NewFromInt(int64(now.Month())))),
	}

	progress := revenue.Div(threshold).Mul(hundred)
	nextDecl := NextDeclarationDate(declType, now)

	snap.VATMetrics = model.VATMetrics{
		CurrentYearRevenue:  money(revenue),
		VATThreshold:        model.VATThreshold,
		VATProgress:         progress.Round(1).InexactFloat64(),
		NextDeclarationDate: nextDecl.Format(dateLayout),
		DeclarationType:     declType,
		VATToPay:            money(vatToPay),
	}

	snap.Alerts = buildAlerts(progress, netProfit, nextDecl, pendingIncomes, now)
	snap.RecentTransactions = recentTransactions(dated)
	snap.MonthlyData = monthlyData(dated, today)
	snap.CategoryBreakdown = categoryBreakdown(byCategory, expenses)

	return snap
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func growth(cur, prev decimal.Decimal) float64 {
	if prev.IsZero() {
		return 0
	}
	return cur.Sub(prev).Div(prev.Abs()).Mul(hundred).Round(1).InexactFloat64()
}

func cashFlowDays(net, windowExpenses decimal.Decimal) float64 {
	if !net.IsPositive() || !windowExpenses.IsPositive() {
		return 0
	}
	daily := windowExpenses.Div(decimal.NewFromInt(cashFlowWindowDays))
	return net.Div(daily).Floor().InexactFloat64()
}

// NextDeclarationDate возвращает ближайшую (не раньше сегодняшнего дня) дату декларации НДС.
func NextDeclarationDate(t model.DeclarationType, now time.Time) time.Time {
	today := dayStart(now)

	switch t {
	case model.DeclarationQuarterly:
		for _, m := range []time.Month{time.January, time.April, time.July, time.October} {
			d := time.Date(now.Year(), m, declarationDay, 0, 0, 0, 0, now.Location())
			if !d.Before(today) {
				return d
			}
		}
		return time.Date(now.Year()+1, time.January, declarationDay, 0, 0, 0, 0, now.Location())
	case model.DeclarationAnnual:
		d := time.Date(now.Year(), time.May, 2, 0, 0, 0, 0, now.Location())
		if d.Before(today) {
			d = d.AddDate(1, 0, 0)
		}
		return d
	default:
		d := time.Date(now.Year(), now.Month(), declarationDay, 0, 0, 0, 0, now.Location())
		if d.Before(today) {
			d = d.AddDate(0, 1, 0)
		}
		return d
	}
}

func buildAlerts(progress, netProfit decimal.Decimal, nextDecl time.Time, pending int, now time.Time) []model.Alert {
	alerts := []model.Alert{}

	switch {
	case progress.GreaterThanOrEqual(hundred):
		alerts = append(alerts, model.Alert{
			ID:      "vat-threshold-exceeded",
			Type:    model.AlertDanger,
			Title:   "Seuil de TVA dépassé",
			Message: "Votre chiffre d'affaires dépasse le seuil de franchise en base de TVA.",
		})
	case progress.GreaterThanOrEqual(decimal.NewFromInt(alertNearPercent)):
		alerts = append(alerts, model.Alert{
			ID:      "vat-threshold-near",
			Type:    model.AlertWarning,
			Title:   "Seuil de TVA bientôt atteint",
			Message: "Vous avez atteint " + progress.Round(0).String() + " % du seuil de franchise en base.",
		})
	}

	if netProfit.IsNegative() {
		alerts = append(alerts, model.Alert{
			ID:      "negative-profit",
			Type:    model.AlertWarning,
			Title:   "Résultat négatif",
			Message: "Vos dépenses dépassent vos revenus depuis le début de l'année.",
		})
	}

	days := int(nextDecl.Sub(dayStart(now)).Hours() / 24)
	if days <= declarationSoonDays {
		alerts = append(alerts, model.Alert{
			ID:      "declaration-due",
			Type:    model.AlertInfo,
			Title:   "Déclaration de TVA à venir",
			Message: "Prochaine déclaration le " + nextDecl.Format("02/01/2006") + ".",
		})
	}

	if pending > 0 {
		alerts = append(alerts, model.Alert{
			ID:      "pending-invoices",
			Type:    model.AlertInfo,
			Title:   "Factures en attente",
			Message: strconv.Itoa(pending) + " facture(s) en attente de paiement.",
		})
	}

	return alerts
}

func recentTransactions(txs []model.Transaction) []model.RecentTransaction {
	sorted := make([]model.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.After(sorted[j].Date)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	n := min(RecentLimit, len(sorted))
	res := make([]model.RecentTransaction, 0, n)
	for _, tx := range sorted[:n] {
		res = append(res, model.RecentTransaction{
			ID:       tx.ID,
			Date:     tx.Date.Format(dateLayout),
			Label:    tx.Label,
			Amount:   money(tx.Amount),
			Type:     tx.Kind,
			Category: tx.Category,
			Status:   tx.Status,
		})
	}
	return res
}

func monthlyData(txs []model.Transaction, now time.Time) []model.MonthlyData {
	first := monthStart(now).AddDate(0, -(trailingMonths - 1), 0)

	sums := make([]decimal.Decimal, trailingMonths)
	for _, tx := range txs {
		if tx.Kind != model.TransactionIncome || tx.Date.Before(first) {
			continue
		}
		idx := (tx.Date.Year()-first.Year())*12 + int(tx.Date.Month()) - int(first.Month())
		if idx < 0 || idx >= trailingMonths {
			continue
		}
		sums[idx] = sums[idx].Add(tx.Amount)
	}

	res := make([]model.MonthlyData, 0, trailingMonths)
	for i := 0; i < trailingMonths; i++ {
		m := first.AddDate(0, i, 0)
		res = append(res, model.MonthlyData{
			Month:   monthLabels[m.Month()-1],
			Revenue: money(sums[i]),
		})
	}
	return res
}

func categoryBreakdown(byCategory map[string]decimal.Decimal, total decimal.Decimal) []model.CategoryBreakdown {
	res := make([]model.CategoryBreakdown, 0, len(byCategory))
	for cat, amount := range byCategory {
		pct := 0.0
		if total.IsPositive() {
			pct = amount.Div(total).Mul(hundred).Round(1).InexactFloat64()
		}
		res = append(res, model.CategoryBreakdown{
			Category:   cat,
			Amount:     money(amount),
			Percentage: pct,
		})
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].Amount != res[j].Amount {
			return res[i].Amount > res[j].Amount
		}
		return res[i].Category < res[j].Category
	})
	return res
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// calendarDate возвращает календарную дату t в её собственной зоне как полночь UTC.
func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
