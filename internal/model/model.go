// Package model содержит доменные сущности финансовой панели фрилансера.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VATThreshold задаёт порог выручки франшизы НДС, используемый для расчёта прогресса.
const VATThreshold = 36800

// User описывает пользователя, аутентифицированного внешним провайдером.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session описывает сессию провайдера аутентификации, сохранённую в cookie.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
	User         User      `json:"user"`
}

// TransactionKind определяет направление денежного потока.
type TransactionKind string

const (
	TransactionIncome  TransactionKind = "income"
	TransactionExpense TransactionKind = "expense"
)

// TransactionStatus описывает состояние оплаты транзакции.
type TransactionStatus string

const (
	TransactionPaid    TransactionStatus = "paid"
	TransactionPending TransactionStatus = "pending"
)

// Transaction описывает запись в журнале доходов и расходов пользователя.
type Transaction struct {
	ID        string
	UserID    string
	Date      time.Time
	Label     string
	Amount    decimal.Decimal
	Kind      TransactionKind
	Category  string
	VATRate   decimal.Decimal
	Status    TransactionStatus
	CreatedAt time.Time
}

// VAT возвращает сумму НДС, включённую в сумму транзакции.
func (t Transaction) VAT() decimal.Decimal {
	return t.Amount.Mul(t.VATRate).Div(decimal.NewFromInt(100))
}

// DeclarationType задаёт периодичность декларации НДС.
type DeclarationType string

const (
	DeclarationMonthly   DeclarationType = "monthly"
	DeclarationQuarterly DeclarationType = "quarterly"
	DeclarationAnnual    DeclarationType = "annual"
)

// Settings содержит пользовательские параметры учёта.
type Settings struct {
	UserID          string
	DeclarationType DeclarationType
	UpdatedAt       time.Time
}

// KPIs содержит ключевые показатели панели.
type KPIs struct {
	TotalRevenue          float64 `json:"totalRevenue"`
	TotalExpenses         float64 `json:"totalExpenses"`
	NetProfit             float64 `json:"netProfit"`
	RevenueGrowth         float64 `json:"revenueGrowth"`
	ExpenseGrowth         float64 `json:"expenseGrowth"`
	TotalVATCollected     float64 `json:"totalVatCollected"`
	TotalVATToPay         float64 `json:"totalVatToPay"`
	CashFlowDays          float64 `json:"cashFlowDays"`
	AverageMonthlyRevenue float64 `json:"averageMonthlyRevenue"`
}

// VATMetrics содержит показатели по НДС за текущий год.
type VATMetrics struct {
	CurrentYearRevenue  float64         `json:"currentYearRevenue"`
	VATThreshold        float64         `json:"vatThreshold"`
	VATProgress         float64         `json:"vatProgress"`
	NextDeclarationDate string          `json:"nextDeclarationDate"`
	DeclarationType     DeclarationType `json:"declarationType"`
	VATToPay            float64         `json:"vatToPay"`
}

// AlertType задаёт уровень важности предупреждения.
type AlertType string

const (
	AlertWarning AlertType = "warning"
	AlertDanger  AlertType = "danger"
	AlertInfo    AlertType = "info"
)

// Alert описывает предупреждение, показываемое на панели.
type Alert struct {
	ID      string    `json:"id"`
	Type    AlertType `json:"type"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
}

// RecentTransaction описывает транзакцию в списке последних операций.
type RecentTransaction struct {
	ID       string            `json:"id"`
	Date     string            `json:"date"`
	Label    string            `json:"label"`
	Amount   float64           `json:"amount"`
	Type     TransactionKind   `json:"type"`
	Category string            `json:"category"`
	Status   TransactionStatus `json:"status"`
}

// MonthlyData описывает точку графика выручки по месяцам.
type MonthlyData struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
}

// CategoryBreakdown описывает долю категории в расходах.
type CategoryBreakdown struct {
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// DashboardSnapshot содержит агрегированные данные панели.
// Все числовые поля всегда определены, списки не равны nil.
type DashboardSnapshot struct {
	KPIs               KPIs                `json:"kpis"`
	VATMetrics         VATMetrics          `json:"vatMetrics"`
	Alerts             []Alert             `json:"alerts"`
	RecentTransactions []RecentTransaction `json:"recentTransactions"`
	MonthlyData        []MonthlyData       `json:"monthlyData"`
	CategoryBreakdown  []CategoryBreakdown `json:"categoryBreakdown"`
}

// EmptyDashboardSnapshot возвращает структурно полный снимок с нулевыми значениями.
func EmptyDashboardSnapshot() *DashboardSnapshot {
	return &DashboardSnapshot{
		VATMetrics: VATMetrics{
			VATThreshold:    VATThreshold,
			DeclarationType: DeclarationMonthly,
		},
		Alerts:             []Alert{},
		RecentTransactions: []RecentTransaction{},
		MonthlyData:        []MonthlyData{},
		CategoryBreakdown:  []CategoryBreakdown{},
	}
}

// Normalize заменяет nil-списки пустыми, чтобы снимок оставался структурно полным.
func (s *DashboardSnapshot) Normalize() {
	if s.Alerts == nil {
		s.Alerts = []Alert{}
	}
	if s.RecentTransactions == nil {
		s.RecentTransactions = []RecentTransaction{}
	}
	if s.MonthlyData == nil {
		s.MonthlyData = []MonthlyData{}
	}
	if s.CategoryBreakdown == nil {
		s.CategoryBreakdown = []CategoryBreakdown{}
	}
	if s.VATMetrics.VATThreshold == 0 {
		s.VATMetrics.VATThreshold = VATThreshold
	}
	if s.VATMetrics.DeclarationType == "" {
		s.VATMetrics.DeclarationType = DeclarationMonthly
	}
}
