package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"stocks-watcher/internal/app"
)

var (
	exportTicker    string
	exportPeriod    string
	exportInterval  string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a ticker's price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(exportTicker) == "" {
			return errors.New("--ticker must be provided")
		}

		opts := app.ExportOptions{
			Ticker:    exportTicker,
			Period:    exportPeriod,
			Interval:  exportInterval,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTicker, "ticker", "", "Ticker symbol to export")
	exportCmd.Flags().StringVar(&exportPeriod, "period", "1mo", "History window (1d, 5d, 1mo, 6mo, 1y, max)")
	exportCmd.Flags().StringVar(&exportInterval, "interval", "1d", "Candle interval (1m, 5m, 1h, 1d, 1wk)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
