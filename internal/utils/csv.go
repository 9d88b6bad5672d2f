package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"tradingx/internal/domain"
)

// WriteOutcomesToCSV exports trade outcomes to a CSV file, newest first as given.
func WriteOutcomesToCSV(outcomes []*domain.TradeOutcome, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"closed_at", "user_id", "symbol", "entry_price", "exit_price", "quantity", "result", "pnl"})

	for _, o := range outcomes {
		writer.Write([]string{
			o.ClosedAt.Format(time.RFC3339),
			strconv.FormatInt(o.UserID, 10),
			o.Symbol,
			strconv.FormatFloat(o.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(o.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(o.Quantity, 'f', -1, 64),
			string(o.Result),
			strconv.FormatFloat(o.PNL, 'f', -1, 64),
		})
	}
	return writer.Error()
}
