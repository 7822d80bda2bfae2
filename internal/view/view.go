// Package view отрисовывает HTML-страницы панели фрилансера.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/freelance-dashboard/internal/model"
)

// thousandsSeparator разделяет группы разрядов во французской записи (U+00A0).
const thousandsSeparator = "\u00a0"

//go:embed templates/*.html
var templatesFS embed.FS

var funcs = template.FuncMap{
	"eur":           FormatEUR,
	"percent":       FormatPercent,
	"signedPercent": formatSignedPercent,
	"days":          formatDays,
	"clamp":         clampProgress,
	"declaration":   declarationLabel,
}

var pages = map[string]*template.Template{
	"auth":         parse("auth.html"),
	"dashboard":    parse("dashboard.html"),
	"transactions": parse("transactions.html"),
	"reports":      parse("reports.html"),
	"settings":     parse("settings.html"),
}

func parse(page string) *template.Template {
	return template.Must(template.New(page).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+page))
}

// Page содержит общие поля всех страниц.
type Page struct {
	Title string
	Email string
}

// AuthPage описывает модель страниц входа и регистрации.
type AuthPage struct {
	Page
	Heading   string
	Action    string
	Submit    string
	AltHref   string
	AltLabel  string
	FormEmail string
	Error     string
	Info      string
}

// LoginPage возвращает модель страницы входа.
func LoginPage() AuthPage {
	return AuthPage{
		Page:     Page{Title: "Connexion"},
		Heading:  "Connexion",
		Action:   "/auth/login",
		Submit:   "Se connecter",
		AltHref:  "/signup",
		AltLabel: "Créer un compte",
	}
}

// SignupPage возвращает модель страницы регистрации.
func SignupPage() AuthPage {
	return AuthPage{
		Page:     Page{Title: "Inscription"},
		Heading:  "Créer un compte",
		Action:   "/auth/signup",
		Submit:   "S'inscrire",
		AltHref:  "/login",
		AltLabel: "Déjà inscrit ? Se connecter",
	}
}

// DashboardPage описывает модель страницы панели.
type DashboardPage struct {
	Page
	Loading  bool
	Error    string
	Snapshot *model.DashboardSnapshot
}

// TransactionsPage описывает модель страницы журнала.
type TransactionsPage struct {
	Page
	Error        string
	Transactions []model.Transaction
}

// ReportsPage описывает модель страницы отчётов.
type ReportsPage struct {
	Page
	Snapshot *model.DashboardSnapshot
}

// SettingsPage описывает модель страницы параметров.
type SettingsPage struct {
	Page
	DeclarationType model.DeclarationType
	Options         []model.DeclarationType
	Saved           bool
	Error           string
}

// DeclarationOptions перечисляет доступные режимы декларации НДС.
var DeclarationOptions = []model.DeclarationType{
	model.DeclarationMonthly,
	model.DeclarationQuarterly,
	model.DeclarationAnnual,
}

// RenderAuth отрисовывает страницу входа или регистрации.
func RenderAuth(w io.Writer, p AuthPage) error {
	return render(w, "auth", p)
}

// RenderDashboard отрисовывает страницу панели.
func RenderDashboard(w io.Writer, p DashboardPage) error {
	if p.Title == "" {
		p.Title = "Tableau de bord"
	}
	return render(w, "dashboard", p)
}

// RenderTransactions отрисовывает журнал транзакций.
func RenderTransactions(w io.Writer, p TransactionsPage) error {
	if p.Title == "" {
		p.Title = "Transactions"
	}
	return render(w, "transactions", p)
}

// RenderReports отрисовывает страницу отчётов.
func RenderReports(w io.Writer, p ReportsPage) error {
	if p.Title == "" {
		p.Title = "Rapports"
	}
	return render(w, "reports", p)
}

// RenderSettings отрисовывает страницу параметров.
func RenderSettings(w io.Writer, p SettingsPage) error {
	if p.Title == "" {
		p.Title = "Paramètres"
	}
	if p.Options == nil {
		p.Options = DeclarationOptions
	}
	return render(w, "settings", p)
}

func render(w io.Writer, name string, data any) error {
	if err := pages[name].ExecuteTemplate(w, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}

// FormatEUR форматирует сумму во французской записи: "1\u00a0234,50 €".
func FormatEUR(v float64) string {
	return groupThousands(decimal.NewFromFloat(v).StringFixed(2)) + " €"
}

// FormatPercent форматирует процент с одним знаком после запятой: "17,7 %".
func FormatPercent(v float64) string {
	return strings.Replace(decimal.NewFromFloat(v).StringFixed(1), ".", ",", 1) + " %"
}

func formatSignedPercent(v float64) string {
	if v > 0 {
		return "+" + FormatPercent(v)
	}
	return FormatPercent(v)
}

func formatDays(v float64) string {
	n := int64(v)
	if n == 1 {
		return "1 jour"
	}
	return fmt.Sprintf("%d jours", n)
}

func clampProgress(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func declarationLabel(t model.DeclarationType) string {
	switch t {
	case model.DeclarationQuarterly:
		return "trimestrielle"
	case model.DeclarationAnnual:
		return "annuelle"
	default:
		return "mensuelle"
	}
}

// groupThousands вставляет неразрывные пробелы между группами разрядов и заменяет точку запятой.
func groupThousands(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}

	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteString(thousandsSeparator)
		}
		b.WriteRune(r)
	}

	return sign + b.String() + "," + frac
}
