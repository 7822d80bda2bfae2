// Package report формирует выгрузки журнала транзакций.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

// Названия листов выгрузки.
const (
	TransactionsSheet = "Transactions"
	SummarySheet      = "Synthèse"
)

// ContentType задаёт MIME-тип книги XLSX.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var transactionHeader = []any{"Date", "Libellé", "Type", "Catégorie", "Montant", "Taux TVA", "TVA", "Statut"}

// WriteXLSX записывает транзакции и итоги по ним в книгу XLSX.
func WriteXLSX(w io.Writer, txs []model.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TransactionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeTransactions(f, txs, bold); err != nil {
		return err
	}
	if err := writeSummary(f, txs, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeTransactions(f *excelize.File, txs []model.Transaction, headerStyle int) error {
	if err := f.SetSheetRow(TransactionsSheet, "A1", &transactionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(TransactionsSheet, "A1", "H1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, tx := range txs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		row := []any{
			tx.Date.Format("2006-01-02"),
			tx.Label,
			string(tx.Kind),
			tx.Category,
			tx.Amount.InexactFloat64(),
			tx.VATRate.InexactFloat64(),
			tx.VAT().Round(2).InexactFloat64(),
			string(tx.Status),
		}
		if err := f.SetSheetRow(TransactionsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(TransactionsSheet, "B", "B", 36); err != nil {
		return err
	}
	return f.SetColWidth(TransactionsSheet, "D", "D", 18)
}

func writeSummary(f *excelize.File, txs []model.Transaction, labelStyle int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	var income, expenses, collected, deductible decimal.Decimal
	for _, tx := range txs {
		switch tx.Kind {
		case model.TransactionIncome:
			income = income.Add(tx.Amount)
			collected = collected.Add(tx.VAT())
		case model.TransactionExpense:
			expenses = expenses.Add(tx.Amount)
			deductible = deductible.Add(tx.VAT())
		}
	}

	toPay := collected.Sub(deductible)
	if toPay.IsNegative() {
		toPay = decimal.Zero
	}

	rows := [][]any{
		{"Chiffre d'affaires", income.Round(2).InexactFloat64()},
		{"Dépenses", expenses.Round(2).InexactFloat64()},
		{"Résultat net", income.Sub(expenses).Round(2).InexactFloat64()},
		{"TVA collectée", collected.Round(2).InexactFloat64()},
		{"TVA déductible", deductible.Round(2).InexactFloat64()},
		{"TVA à payer", toPay.Round(2).InexactFloat64()},
	}

	for i := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}

	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), labelStyle); err != nil {
		return err
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}
