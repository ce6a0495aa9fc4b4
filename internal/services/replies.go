package services

import (
	"strconv"
	"strings"

	"github.com/MreRes/financial-bot/internal/models"
)

// Reply strings per session language. Indonesian is the default, matching
// the production deployment.
var replyText = map[string]map[string]string{
	"id": {
		"not_understood": "Maaf, saya tidak mengerti pesan Anda. Silakan coba lagi dengan format yang benar.",
		"error":          "Maaf, terjadi kesalahan dalam memproses pesan Anda.",
		"bad_amount":     "Maaf, saya tidak dapat membaca jumlahnya. Tulis angkanya, contoh: beli makan 50000.",
		"income_logged":  "✅ Pemasukan sebesar %s telah dicatat.",
		"expense_logged": "✅ Pengeluaran sebesar %s telah dicatat.",
		"budget_set":     "✅ Budget %s diatur ke %s.",
		"no_budget":      "Tidak ada budget aktif. Buat budget terlebih dahulu.",
		"no_budgets":     "Tidak ada budget aktif.",
		"budget_header":  "📊 Budget aktif:",
		"remaining":      "sisa",
		"report_header":  "📈 Laporan",
		"income":         "Pemasukan",
		"expense":        "Pengeluaran",
		"net":            "Selisih",
		"period_daily":   "harian",
		"period_weekly":  "mingguan",
		"period_monthly": "bulanan",
	},
	"en": {
		"not_understood": "Sorry, I did not understand that. Please try again.",
		"error":          "Sorry, something went wrong while handling your message.",
		"bad_amount":     "Sorry, I could not read the amount. Write the number, e.g.: spent 50000 on food.",
		"income_logged":  "✅ Income of %s recorded.",
		"expense_logged": "✅ Expense of %s recorded.",
		"budget_set":     "✅ Budget for %s set to %s.",
		"no_budget":      "No active budget. Create a budget first.",
		"no_budgets":     "No active budgets.",
		"budget_header":  "📊 Active budgets:",
		"remaining":      "remaining",
		"report_header":  "📈 Report",
		"income":         "Income",
		"expense":        "Expenses",
		"net":            "Net",
		"period_daily":   "daily",
		"period_weekly":  "weekly",
		"period_monthly": "monthly",
	},
}

func reply(lang, key string) string {
	texts, ok := replyText[lang]
	if !ok {
		texts = replyText["id"]
	}
	if text, ok := texts[key]; ok {
		return text
	}
	return replyText["id"][key]
}

// formatAmount renders minor units in the session's locale: "Rp50.000" for
// Indonesian, "50,000" otherwise.
func formatAmount(lang string, amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	sep := ","
	prefix := ""
	if lang == "id" || lang == "" {
		sep = "."
		prefix = "Rp"
	}
	return sign + prefix + group(amount, sep)
}

// formatSigned prefixes income with + and expense with - in front of the
// locale amount.
func formatSigned(lang string, txType models.TransactionType, amount int64) string {
	sign := "+"
	if txType == models.TypeExpense {
		sign = "-"
	}
	return sign + formatAmount(lang, amount)
}

func group(n int64, sep string) string {
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteString(sep)
		}
		b.WriteRune(ch)
	}
	return b.String()
}
