package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather-lookup/internal/app"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(refreshCmd)

	forecastCmd.Flags().String("country", "", "Country to record with the history entry")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  handleServe,
}

var forecastCmd = &cobra.Command{
	Use:   "forecast [city]",
	Short: "Show the forecast for a city and remember it in history",
	Args:  cobra.ExactArgs(1),
	RunE:  handleForecast,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List locations matching a partial city name",
	Args:  cobra.ExactArgs(1),
	RunE:  handleSearch,
}

var historyCmd = &cobra.Command{
	Use:       "history [clear]",
	Short:     "Show recent cities, or clear them",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"clear"},
	RunE:      handleHistory,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the most recent city (or the default city)",
	Args:  cobra.NoArgs,
	RunE:  handleRefresh,
}

func handleServe(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{ForceOffline: offline})
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func handleForecast(cmd *cobra.Command, args []string) error {
	country, _ := cmd.Flags().GetString("country")
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		f, err := a.Service.SelectLocation(ctx, models.Location{Name: args[0], Country: country})
		if err != nil {
			return err
		}
		return printForecast(cmd, f)
	})
}

func handleRefresh(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		f, err := a.Service.Refresh(ctx)
		if err != nil {
			return err
		}
		return printForecast(cmd, f)
	})
}

func handleSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		locations, err := a.Service.SearchLocations(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(out(cmd), locations)
		}
		if len(locations) == 0 {
			if minLen := a.Service.MinQueryLength(); len([]rune(strings.TrimSpace(args[0]))) < minLen {
				fmt.Fprintf(out(cmd), "Type at least %d characters to search.\n", minLen)
				return nil
			}
			fmt.Fprintln(out(cmd), "No locations found for this search.")
			return nil
		}
		for _, loc := range locations {
			fmt.Fprintln(out(cmd), formatLocation(loc))
		}
		return nil
	})
}

func handleHistory(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if len(args) == 1 {
			if err := a.Service.ClearHistory(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "Search history cleared.")
			return nil
		}
		entries := a.Service.History()
		if jsonOut {
			return writeJSON(out(cmd), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out(cmd), "No recent searches.")
			return nil
		}
		for i, loc := range entries {
			fmt.Fprintf(out(cmd), "%d. %s\n", i+1, formatLocation(loc))
		}
		return nil
	})
}

func printForecast(cmd *cobra.Command, f service.Forecast) error {
	if jsonOut {
		return writeJSON(out(cmd), f)
	}
	if f.FromCache && f.Offline {
		fmt.Fprintf(cmd.ErrOrStderr(), "Displaying cached data for %s. Connect to internet for live updates.\n", f.City)
	}
	writeForecastText(out(cmd), f)
	return nil
}

func writeForecastText(w io.Writer, f service.Forecast) {
	d := f.Data
	name := f.City
	if d.Location != nil && d.Location.Name != "" {
		name = d.Location.Name
		if d.Location.Country != "" {
			name += ", " + d.Location.Country
		}
	}
	fmt.Fprintln(w, name)
	if d.Current != nil {
		fmt.Fprintf(w, "  Now: %.1f°C, %s, humidity %d%%, wind %.1f km/h\n",
			d.Current.TempC, d.Current.Condition.Text, d.Current.Humidity, d.Current.WindKph)
	}
	if d.Forecast != nil {
		for _, day := range d.Forecast.ForecastDay {
			fmt.Fprintf(w, "  %s: %.1f / %.1f°C, %s\n", day.Date, day.Day.MinTempC, day.Day.MaxTempC, day.Day.Condition.Text)
		}
	}
	if f.FromCache {
		fmt.Fprintf(w, "  (cached at %s)\n", f.StoredAt.Local().Format("2006-01-02 15:04"))
	}
}

func formatLocation(loc models.Location) string {
	parts := []string{loc.Name}
	if loc.Region != "" {
		parts = append(parts, loc.Region)
	}
	if loc.Country != "" {
		parts = append(parts, loc.Country)
	}
	return strings.Join(parts, ", ")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
