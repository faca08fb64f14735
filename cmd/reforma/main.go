package main

import (
	"fmt"
	"os"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/common/environment"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/common/version"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/app"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/chat"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/dialog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/nlp"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
)

func main() {
	fmt.Printf("REFORMA Conversational Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config := loadConfig()

	if config.Matrix.Homeserver == "" {
		fatal("MATRIX_HOMESERVER is required")
	}
	if config.Matrix.UserID == "" {
		fatal("MATRIX_USER_ID is required")
	}
	if config.Matrix.AccessToken == "" {
		fatal("MATRIX_ACCESS_TOKEN is required")
	}
	if len(config.Matrix.OperatorRooms) == 0 {
		fatal("MATRIX_OPERATOR_ROOMS is required")
	}
	if config.NLP.APIKey == "" {
		fatal("NLP_API_KEY is required")
	}
	if config.APIBaseURL == "" {
		fatal("REFORMA_API_BASE_URL is required")
	}

	a, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running assistant: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath: environment.StringOr("DATABASE_PATH", "./reforma.db"),
		Matrix: chat.Config{
			Homeserver:    environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:        environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken:   environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			OperatorRooms: environment.StringSliceOr("MATRIX_OPERATOR_ROOMS", nil),
		},
		NLP: nlp.Config{
			APIKey:  environment.StringOr("NLP_API_KEY", ""),
			BaseURL: environment.StringOr("NLP_ENDPOINT", ""),
			Model:   environment.StringOr("NLP_MODEL", ""),
			Timeout: environment.DurationOr("NLP_TIMEOUT", 0),
		},
		NLPRateLimit:    environment.IntOr("NLP_RATE_LIMIT", 0),
		APIBaseURL:      environment.StringOr("REFORMA_API_BASE_URL", ""),
		APIToken:        environment.StringOr("REFORMA_API_TOKEN", ""),
		FreshnessWindow: environment.DurationOr("FRESHNESS_WINDOW", dialog.DefaultFreshnessWindow),
		IntentThreshold: environment.Float64Or("INTENT_THRESHOLD", dialog.DefaultIntentThreshold),
		CatalogCacheTTL: environment.DurationOr("CATALOG_CACHE_TTL", 0),
		Normalize: normalize.Config{
			CanonicalTotalKg:    environment.Float64Or("FORMULA_TOTAL_KG", 0),
			TotalEpsilonKg:      environment.Float64Or("FORMULA_TOTAL_EPSILON_KG", 0),
			MaxPlausibleBatches: environment.Float64Or("MAX_PLAUSIBLE_BATCHES", 0),
		},
	}
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	os.Exit(1)
}
